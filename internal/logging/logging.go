package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a JSON logger on stdout. An unknown level falls back to info
// and says so.
func New(level string) *logrus.Logger {
	return NewWithOutput(level, os.Stdout)
}

func NewWithOutput(level string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
		logger.SetLevel(lvl)
		logger.Warnf("invalid LOG_LEVEL %q, using %s", level, lvl)
		return logger
	}
	logger.SetLevel(lvl)
	return logger
}

// Discard is a logger for tests and tools that want no output.
func Discard() *logrus.Logger {
	return NewWithOutput("panic", io.Discard)
}
