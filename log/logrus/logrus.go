// Package logrus adapts github.com/sirupsen/logrus to cachekit.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/cachekit"
)

var _ cachekit.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New wraps l with a component=cachekit field. nil uses logrus.StandardLogger.
func New(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return Logger{E: l.WithField("component", "cachekit")}
}

func (l Logger) Debug(msg string, f cachekit.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f cachekit.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f cachekit.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f cachekit.Fields) { l.with(f).Error(msg) }

// with maps an error under "err" to logrus' own error key.
func (l Logger) with(f cachekit.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			out[logrus.ErrorKey] = err
			continue
		}
		out[k] = v
	}
	return l.E.WithFields(out)
}
