package kvnode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_GetMissingReturnsNilSentinel(t *testing.T) {
	s := NewStore()
	require.Equal(t, NilValue, s.Get("color"))
}

func TestStore_PutThenGet(t *testing.T) {
	s := NewStore()
	s.Put("color", "blue")
	require.Equal(t, "blue", s.Get("color"))
}

func TestStore_OverwriteNeverTombstoned(t *testing.T) {
	s := NewStore()
	s.Put("color", "blue")
	s.Put("color", "red")
	require.Equal(t, "red", s.Get("color"))
}

func TestStore_StaleWriteDropped(t *testing.T) {
	s := NewStore()
	// Seed a future-timestamped entry directly, then attempt an older
	// write through the public API; the older write must be dropped.
	s.mu.Lock()
	s.entries["k"] = entry{ts: time.Now().Add(time.Hour).UnixNano(), value: "future"}
	s.mu.Unlock()

	s.Put("k", "now")
	require.Equal(t, "future", s.Get("k"))
}
