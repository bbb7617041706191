package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the process-wide logger to write to both the console and a
// rotating logs/app.log file.
func Setup() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if err := os.MkdirAll("logs", 0o755); err != nil {
		logrus.Warnf("failed to create logs directory, console only: %v", err)
		return
	}

	fileSink := &lumberjack.Logger{
		Filename:   "logs/app.log",
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
	}

	logrus.SetOutput(io.MultiWriter(os.Stdout, fileSink))
}
