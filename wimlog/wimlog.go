// Package wimlog provides the engine's leveled-logging call sites.
//
// It mirrors the teacher's fs.Debugf/fs.Infof/fs.Errorf convention: a free
// function per level, taking a "subject" (usually a path or dentry, may be
// nil) and a printf-style format string, routed through one process-wide
// logrus logger.
package wimlog

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLevel adjusts the package-wide log level. The capture and apply
// Verbose flags do not call it.
func SetLevel(level logrus.Level) {
	log.SetLevel(level)
}

// SetOutput exists mainly so tests can silence logging.
func SetOutput(w interface {
	Write([]byte) (int, error)
}) {
	log.SetOutput(w)
}

func fields(subject any) logrus.Fields {
	if subject == nil {
		return logrus.Fields{}
	}
	return logrus.Fields{"subject": subject}
}

func Debugf(subject any, format string, args ...any) {
	log.WithFields(fields(subject)).Debugf(format, args...)
}

func Infof(subject any, format string, args ...any) {
	log.WithFields(fields(subject)).Infof(format, args...)
}

func Errorf(subject any, format string, args ...any) {
	log.WithFields(fields(subject)).Errorf(format, args...)
}
