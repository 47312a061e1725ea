package kvnode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClock_TickLocalMonotonic(t *testing.T) {
	c := NewClock(1, 3)

	s1 := c.TickLocal()
	s2 := c.TickLocal()

	require.Less(t, s1.Lamport, s2.Lamport)
	require.Less(t, s1.Vector[0], s2.Vector[0])
}

func TestClock_MergeAdvancesPastIncoming(t *testing.T) {
	c := NewClock(1, 3)
	c.TickLocal() // L=1, V=[1,0,0]

	incoming := []uint64{0, 5, 2}
	s := c.Merge(10, incoming)

	require.Equal(t, uint64(11), s.Lamport)
	require.Equal(t, uint64(2), s.Vector[0], "self index bumps by one on top of the max with the incoming value")
	require.Equal(t, uint64(5), s.Vector[1])
	require.Equal(t, uint64(2), s.Vector[2])
}

func TestClock_MergeNeverRegresses(t *testing.T) {
	c := NewClock(2, 2)
	c.TickLocal()
	c.TickLocal()
	before := c.Current()

	after := c.Merge(0, []uint64{0, 0})

	require.GreaterOrEqual(t, after.Lamport, before.Lamport)
	for i := range before.Vector {
		require.GreaterOrEqual(t, after.Vector[i], before.Vector[i])
	}
}

func TestClock_CausalSendReceive(t *testing.T) {
	// A sends (tick), B receives (merge): per spec §8 property 2, the
	// send's lamport/vector must strictly precede the receive's.
	a := NewClock(1, 2)
	b := NewClock(2, 2)

	sendSnap := a.TickLocal()
	recvSnap := b.Merge(sendSnap.Lamport, sendSnap.Vector)

	require.Less(t, sendSnap.Lamport, recvSnap.Lamport)
	for i := range sendSnap.Vector {
		require.LessOrEqual(t, sendSnap.Vector[i], recvSnap.Vector[i])
	}
	require.Less(t, sendSnap.Vector[0], recvSnap.Vector[0], "strict at the sender's own index")
}
