// Package log wraps logrus behind the small leveled interface every
// component in this module depends on, so call sites never import
// logrus directly.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the leveled logging surface components are built against.
type Logger interface {
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	// With returns a derived logger carrying an extra structured field.
	With(key string, value interface{}) Logger
}

// New creates the default logger, writing leveled text to stderr.
func New(debug bool) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return &entryLogger{entry: logrus.NewEntry(l)}
}

type entryLogger struct {
	entry *logrus.Entry
}

func (e *entryLogger) Infof(format string, v ...interface{})  { e.entry.Infof(format, v...) }
func (e *entryLogger) Warnf(format string, v ...interface{})  { e.entry.Warnf(format, v...) }
func (e *entryLogger) Errorf(format string, v ...interface{}) { e.entry.Errorf(format, v...) }
func (e *entryLogger) Debugf(format string, v ...interface{}) { e.entry.Debugf(format, v...) }

func (e *entryLogger) With(key string, value interface{}) Logger {
	return &entryLogger{entry: e.entry.WithField(key, value)}
}
