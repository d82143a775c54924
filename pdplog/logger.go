// Package pdplog provides the structured logger shared by the configuration
// sources and the decision point.
package pdplog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with a fixed component tag, mirroring the pattern used
// for per-subsystem loggers elsewhere in this codebase.
type Logger struct {
	*logrus.Logger
	component string
}

var (
	defaultOnce sync.Once
	base        *logrus.Logger
)

func root() *logrus.Logger {
	defaultOnce.Do(func() {
		base = logrus.New()
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
		base.SetOutput(os.Stderr)
		base.SetLevel(logrus.InfoLevel)
	})
	return base
}

// New returns a logger tagged with component, e.g. "source.directory".
func New(component string) *Logger {
	return &Logger{Logger: root(), component: component}
}

// SetLevel adjusts the level of the shared root logger.
func SetLevel(level logrus.Level) {
	root().SetLevel(level)
}

func (l *Logger) entry() *logrus.Entry {
	return l.Logger.WithField("component", l.component)
}

// Debugf logs at debug level with the component field attached.
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry().Debugf(format, args...) }

// Infof logs at info level with the component field attached.
func (l *Logger) Infof(format string, args ...interface{}) { l.entry().Infof(format, args...) }

// Warnf logs at warn level with the component field attached.
func (l *Logger) Warnf(format string, args ...interface{}) { l.entry().Warnf(format, args...) }

// Errorf logs at error level with the component field attached.
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry().Errorf(format, args...) }

// WithField returns a logrus entry scoped to this logger's component plus
// the given key/value.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.entry().WithField(key, value)
}
