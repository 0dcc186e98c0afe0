package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/manojkumarsharma/bookstore/config"
)

// New creates the process logger. JSON output in production, text otherwise.
func New(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warn("invalid log level, defaulting to info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
				logrus.FieldKeyMsg:  "msg",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000",
		})
	}
	logger.SetOutput(os.Stdout)
	logger.AddHook(staticFields{
		"service":     "bookstore-api",
		"environment": cfg.Environment,
	})
	return logger
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type staticFields logrus.Fields

func (s staticFields) Levels() []logrus.Level { return logrus.AllLevels }

func (s staticFields) Fire(e *logrus.Entry) error {
	for k, v := range s {
		if _, ok := e.Data[k]; !ok {
			e.Data[k] = v
		}
	}
	return nil
}
