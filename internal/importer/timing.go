package importer

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/revstream/pkg/types"
)

// timePhase logs how long one import phase of one revision took:
//
//	defer timePhase(log, "parse", csid)()
func timePhase(log *logrus.Logger, phase string, csid types.Hash) func() {
	start := time.Now()
	return func() {
		log.WithFields(logrus.Fields{
			"phase":     phase,
			"changeset": csid.String(),
			"duration":  time.Since(start).String(),
		}).Debug("Import phase finished")
	}
}
