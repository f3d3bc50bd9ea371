package keyValStore

import (
	"fmt"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// checkFreeSpace refuses to open the store when the data volume is below the
// configured free-space threshold.
func checkFreeSpace(paths []string, minimumFreeGB int) error {
	for _, path := range paths {
		usage, err := disk.Usage(path)
		if err != nil {
			return fmt.Errorf("error retrieving disk usage for %s: %w", path, err)
		}

		freeGB := float64(usage.Free) / 1e9
		log.WithFields(logrus.Fields{
			"path":        path,
			"freeGB":      fmt.Sprintf("%.2f", freeGB),
			"usedPercent": fmt.Sprintf("%.1f", usage.UsedPercent),
		}).Info("Disk usage")

		if minimumFreeGB > 0 && freeGB < float64(minimumFreeGB) {
			return fmt.Errorf("not enough free space on %s: %.2fGB free, %dGB required",
				path, freeGB, minimumFreeGB)
		}
	}
	return nil
}
