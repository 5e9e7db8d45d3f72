package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

func Init() {
	Log = New(os.Stdout, os.Getenv("LOG_LEVEL"))
}

// New builds a JSON logger on out. Unknown levels fall back to info.
func New(out io.Writer, level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	if level == "" {
		level = "info"
	}
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)
	return log
}

// OpenRunLog opens path for appending, creating it and its directory when
// needed. Existing content is never truncated.
func OpenRunLog(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// AttachRunLog tees Log into the run log at path. The returned closer
// restores stdout-only output.
func AttachRunLog(path string) (io.Closer, error) {
	f, err := OpenRunLog(path)
	if err != nil {
		return nil, err
	}
	Log.SetOutput(io.MultiWriter(os.Stdout, f))
	return closerFunc(func() error {
		Log.SetOutput(os.Stdout)
		return f.Close()
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func WithField(key string, value interface{}) *logrus.Entry {
	return Log.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}
