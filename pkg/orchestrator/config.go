package orchestrator

import (
	"os"
	"path/filepath"
	"time"

	"github.com/quantfleet/fleet-orchestrator/pkg/errors"
	"github.com/quantfleet/fleet-orchestrator/pkg/launcher"
	"github.com/quantfleet/fleet-orchestrator/pkg/logging"
	"github.com/quantfleet/fleet-orchestrator/pkg/watchdog"

	"gopkg.in/yaml.v3"
)

// State document file names under the configured state directory
const (
	SnapshotFileName      = "fleet_snapshot.json"
	WatchdogStateFileName = "watchdog_state.json"
	WriterLockFileName    = "orchestrator.lock"
)

const (
	DefaultReconcileInterval = 10 * time.Second
	DefaultWatchdogInterval  = 5 * time.Second

	// The reconcile interval is deliberately narrow: the snapshot is the
	// fleet's authoritative directive and consumers size their own
	// staleness alarms around it.
	MinReconcileInterval = 5 * time.Second
	MaxReconcileInterval = 15 * time.Second
)

// Config is the top-level orchestrator configuration file structure
type Config struct {
	Orchestrator Options              `yaml:"orchestrator"`
	Watchdog     watchdog.Options     `yaml:"watchdog,omitempty"`
	Workers      []launcher.StartSpec `yaml:"workers,omitempty"`
	Logging      logging.ZapConfig    `yaml:"logging,omitempty"`
}

// Options represents orchestrator-level configuration
type Options struct {
	ManifestPath      string        `yaml:"manifest_path"`
	RuntimeDir        string        `yaml:"runtime_dir"`
	StateDir          string        `yaml:"state_dir"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval,omitempty"`
	WatchdogInterval  time.Duration `yaml:"watchdog_interval,omitempty"`
	LockTTL           time.Duration `yaml:"lock_ttl,omitempty"`
	MetricsAddr       string        `yaml:"metrics_addr,omitempty"`
}

// SnapshotPath returns the fleet snapshot document path
func (o Options) SnapshotPath() string {
	return filepath.Join(o.StateDir, SnapshotFileName)
}

// WatchdogStatePath returns the watchdog state document path
func (o Options) WatchdogStatePath() string {
	return filepath.Join(o.StateDir, WatchdogStateFileName)
}

// LockPath returns the writer lock file path
func (o Options) LockPath() string {
	return filepath.Join(o.StateDir, WriterLockFileName)
}

// LoadConfigFromFile loads orchestrator configuration from a YAML file
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(&config)

	return &config, nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateOptions(&config.Orchestrator); err != nil {
		return errors.NewValidationError("invalid orchestrator configuration", err)
	}

	if err := validateWorkerSpecs(config.Workers); err != nil {
		return errors.NewValidationError("invalid workers configuration", err)
	}

	return nil
}

// StartSpecSource builds the watchdog's launch-spec lookup from the
// configured worker specs
func (c *Config) StartSpecSource() watchdog.StartSpecSource {
	specs := make(map[string]launcher.StartSpec, len(c.Workers))
	for _, spec := range c.Workers {
		specs[spec.AccountLabel] = spec
	}
	return func(label string) (launcher.StartSpec, bool) {
		spec, ok := specs[label]
		return spec, ok
	}
}

func setConfigDefaults(config *Config) {
	if config.Orchestrator.ReconcileInterval == 0 {
		config.Orchestrator.ReconcileInterval = DefaultReconcileInterval
	}
	if config.Orchestrator.WatchdogInterval == 0 {
		config.Orchestrator.WatchdogInterval = DefaultWatchdogInterval
	}
	if config.Logging.Level == "" {
		config.Logging = logging.DefaultZapConfig()
	}
	watchdog.SetOptionsDefaults(&config.Watchdog)
}
