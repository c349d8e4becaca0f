package authguard

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// NewLogger builds the default logger from cfg, writing to stderr.
func NewLogger(cfg LoggingConfig) *logrus.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg LoggingConfig, w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)

	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "time",
				logrus.FieldKeyMsg:  "msg",
			},
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// throttledLogger drops repeats of noisy warnings (store outages, missing
// identifiers) beyond a small steady rate.
type throttledLogger struct {
	entry   *logrus.Entry
	limiter *rate.Limiter
}

func newThrottledLogger(logger *logrus.Logger, every time.Duration, burst int) *throttledLogger {
	return &throttledLogger{
		entry:   logrus.NewEntry(logger),
		limiter: rate.NewLimiter(rate.Every(every), burst),
	}
}

func (t *throttledLogger) Warn(fields logrus.Fields, msg string) {
	if !t.limiter.Allow() {
		return
	}
	t.entry.WithFields(fields).Warn(msg)
}
