package revstream

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config configures a Revstream instance. Only Paths[0] is used at the
// moment; future versions may use multiple paths for sharding or tiering.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string `yaml:"paths"`
	// MinimumFreeGB is a free-space threshold checked when the store opens.
	MinimumFreeGB int `yaml:"minimumFreeGB"`
	// ImportWindow bounds how many revisions an import extracts ahead of
	// the upload order. 0 means the default.
	ImportWindow int `yaml:"importWindow"`
	// WorkerCount sizes the upload worker pool. 0 means one per CPU.
	WorkerCount int `yaml:"workerCount"`
	// Logger is an optional structured logger. If nil, a stderr logger is
	// used.
	Logger *logrus.Logger `yaml:"-"`
}

// LoadConfig reads a yaml config file. Fields absent from the file keep their
// zero value and fall back to defaults when the instance starts.
func LoadConfig(path string) (Config, error) {
	var conf Config

	raw, err := os.ReadFile(path)
	if err != nil {
		return conf, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &conf); err != nil {
		return conf, fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return conf, nil
}
