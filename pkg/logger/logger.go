// Package logger provides the package-level leveled logging facade used
// throughout the DDSI core. The facade keeps the shape of the teacher's
// hand-rolled colored logger (Debug/Info/Warn/Error/Fatal, SetLevel) but is
// backed by logrus, matching the structured-field logging style used across
// linkerd's control-plane packages.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus' level ordering so callers don't need to import
// logrus directly just to call SetLevel.
type Level = logrus.Level

const (
	LevelDebug = logrus.DebugLevel
	LevelInfo  = logrus.InfoLevel
	LevelWarn  = logrus.WarnLevel
	LevelError = logrus.ErrorLevel
	LevelFatal = logrus.FatalLevel
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	l.SetLevel(LevelInfo)
	return l
}

// SetLevel sets the minimum level logged by the default logger.
func SetLevel(level Level) { base.SetLevel(level) }

// Entry is a field-carrying log line, the return of For/WithField(s).
type Entry = logrus.Entry

// For returns an Entry scoped to a subsystem, e.g. logger.For("recv").
func For(component string) *Entry {
	return base.WithField("component", component)
}

// WithField returns an Entry carrying one structured field, e.g. a writer
// GUID or sequence number, mirroring RECV/DEFRAG/REORDER diagnostics.
func WithField(key string, value interface{}) *Entry {
	return base.WithField(key, value)
}

// WithFields returns an Entry carrying several structured fields at once.
func WithFields(fields logrus.Fields) *Entry {
	return base.WithFields(fields)
}

func Debug(args ...interface{}) { base.Debug(args...) }
func Info(args ...interface{})  { base.Info(args...) }
func Warn(args ...interface{})  { base.Warn(args...) }
func Error(args ...interface{}) { base.Error(args...) }
func Fatal(args ...interface{}) { base.Fatal(args...) }

func Debugf(format string, args ...interface{}) { base.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { base.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { base.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { base.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { base.Fatalf(format, args...) }
