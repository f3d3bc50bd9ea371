package logging

import (
	"github.com/sirupsen/logrus"
)

// New returns the default logger used when a config does not inject one.
func New() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log
}
