package obs

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggerOnce sync.Once
	logger     *logrus.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{logrus.FieldKeyTime: "ts"},
		})
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}

// SetLevel parses level ("debug", "info", ...) and applies it to the shared
// logger. Unknown levels leave the current level in place.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return err
	}
	Logger().SetLevel(lvl)
	return nil
}

// SetOutput redirects the shared logger and returns a function restoring the
// previous writer.
func SetOutput(w io.Writer) func() {
	l := Logger()
	prev := l.Out
	l.SetOutput(w)
	return func() { l.SetOutput(prev) }
}

// LogRequest emits one structured line per completed HTTP request.
func LogRequest(fields logrus.Fields) {
	Logger().WithFields(fields).Info("request_complete")
}
