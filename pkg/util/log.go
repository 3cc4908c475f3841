package util

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is shared by every package. Commands set its level and format once
// at startup.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
	})
}

// SetLogLevel takes a logrus level name such as "debug" or "warn".
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// SetJSONFormat writes one JSON object per entry.
func SetJSONFormat() {
	Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
}

// WithDevice tags entries with the device being probed or changed.
func WithDevice(device string) *logrus.Entry {
	return Logger.WithField("device", device)
}

// WithRing tags entries with the ring being evaluated or applied.
func WithRing(ring string) *logrus.Entry {
	return Logger.WithField("ring", ring)
}

func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}
