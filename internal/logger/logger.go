package logger

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base *logrus.Logger
	once sync.Once
)

// Init sets up the shared logger once, configured from LOG_LEVEL and LOG_FORMAT.
func Init() {
	once.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stdout)
		base.SetFormatter(parseFormatter(os.Getenv("LOG_FORMAT")))
		base.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))
	})
}

func parseLevel(raw string) logrus.Level {
	level := strings.TrimSpace(strings.ToLower(raw))
	if level == "" {
		return logrus.InfoLevel
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

func parseFormatter(raw string) logrus.Formatter {
	if strings.EqualFold(strings.TrimSpace(raw), "json") {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{FullTimestamp: true}
}

func ensure() {
	Init()
}

// SetOutput redirects the shared logger, e.g. to io.Discard in tests.
func SetOutput(w io.Writer) {
	ensure()
	base.SetOutput(w)
}

// StdLogger returns a stdlib logger that writes into the shared logrus logger.
func StdLogger() *log.Logger {
	ensure()
	return log.New(base.WriterLevel(logrus.InfoLevel), "", 0)
}

// WithJob returns an entry tagged with the job's identity.
func WithJob(jobID, kind, target string) *logrus.Entry {
	ensure()
	return base.WithFields(logrus.Fields{
		"job_id": jobID,
		"kind":   kind,
		"target": target,
	})
}

// WithFields returns an entry carrying fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	ensure()
	return base.WithFields(fields)
}

// Debugf logs a debug message with component/method context.
func Debugf(component, method, format string, args ...interface{}) {
	ensure()
	base.Debugf("%s -> %s: %s", component, method, fmt.Sprintf(format, args...))
}

// Infof logs an informational message with component/method context.
func Infof(component, method, format string, args ...interface{}) {
	ensure()
	base.Infof("%s -> %s: %s", component, method, fmt.Sprintf(format, args...))
}

// Warnf logs a warning message with component/method context.
func Warnf(component, method, format string, args ...interface{}) {
	ensure()
	base.Warnf("%s -> %s: %s", component, method, fmt.Sprintf(format, args...))
}

// Error logs an error with component/method context.
func Error(component, method string, err error) {
	ensure()
	if err == nil {
		err = errors.New("unknown error")
	}
	base.Errorf("%s -> %s: %s", component, method, err.Error())
}

// ErrorMsg logs a string as an error.
func ErrorMsg(component, method, message string) {
	ensure()
	base.Errorf("%s -> %s: %s", component, method, message)
}
