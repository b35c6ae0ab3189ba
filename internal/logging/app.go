package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewAppLogger builds the operational logger. Access lines go through
// Logging; everything else (startup, listener errors, failed forwards) goes
// here.
func NewAppLogger(level string, out io.Writer) (*logrus.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stderr
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}
