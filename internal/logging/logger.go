package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Two sinks: the general logger for setup, config and export tooling, and
// the scheduler logger whose message key lets the high-volume core-loop
// stream be filtered out of mixed output.
var (
	logger          = newLogger("")
	schedulerLogger = newLogger("sched_msg")
)

func newLogger(msgKey string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	f := &logrus.TextFormatter{FullTimestamp: true}
	if msgKey != "" {
		f.FieldMap = logrus.FieldMap{
			logrus.FieldKeyTime:  "time",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   msgKey,
		}
	}
	l.SetFormatter(f)
	l.SetLevel(logrus.InfoLevel)
	return l
}

func GetLogger() *logrus.Logger { return logger }

func GetSchedulerLogger() *logrus.Logger { return schedulerLogger }

func SetLogLevel(level string) error { return setLevel(logger, level) }

func SetSchedulerLogLevel(level string) error { return setLevel(schedulerLogger, level) }

func setLevel(l *logrus.Logger, level string) error {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.SetLevel(lv)
	return nil
}
