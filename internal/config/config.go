// Package config loads the spawngate daemon configuration from a YAML file
// and SPAWNGATE_* environment variables via viper, producing the flat
// scheduler options plus the demo binary's own settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tacticsim/spawngate/pkg/spawn/scheduler"
)

// Load-source kinds selectable in the demo binary.
const (
	LoadSourceHost      = "host"
	LoadSourceSynthetic = "synthetic"
)

// Config is the full daemon configuration.
type Config struct {
	// Scheduler holds the scheduling core's flat numeric options.
	Scheduler scheduler.Config `mapstructure:"scheduler"`

	// MetricsAddr is the Prometheus listen address, e.g. ":9090".
	MetricsAddr string `mapstructure:"metricsAddr"`

	// Verbosity is the log verbosity (see internal/logging levels).
	Verbosity int `mapstructure:"verbosity"`

	// LoadSource selects the load signal implementation: "host" samples the
	// machine via gopsutil, "synthetic" follows a configured ratio.
	LoadSource string `mapstructure:"loadSource"`

	// SyntheticLoadRatio is the fixed ratio for the synthetic source.
	SyntheticLoadRatio float64 `mapstructure:"syntheticLoadRatio"`

	// FormationFile is the YAML formation layout consumed by the demo
	// slot provider.
	FormationFile string `mapstructure:"formationFile"`

	// Sim configures the demo binary's synthetic work executor.
	Sim SimConfig `mapstructure:"sim"`
}

// SimConfig tunes the synthetic spawn executor.
type SimConfig struct {
	// ExecLatency is the simulated cost of one spawn call.
	ExecLatency time.Duration `mapstructure:"execLatency"`

	// FailureRate is the fraction of executions that fail, in [0, 1].
	FailureRate float64 `mapstructure:"failureRate"`

	// SubmitRate is how many synthetic requests per second the driver
	// submits.
	SubmitRate int `mapstructure:"submitRate"`
}

// Validate checks daemon-level settings and delegates to the scheduler
// config. Call after Load; defaults have been applied by then.
func (c *Config) Validate() error {
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if c.LoadSource != LoadSourceHost && c.LoadSource != LoadSourceSynthetic {
		return fmt.Errorf("loadSource must be %q or %q, got %q",
			LoadSourceHost, LoadSourceSynthetic, c.LoadSource)
	}
	if c.SyntheticLoadRatio < 0 || c.SyntheticLoadRatio > 1.5 {
		return fmt.Errorf("syntheticLoadRatio must be in [0, 1.5], got %.2f", c.SyntheticLoadRatio)
	}
	if c.Sim.FailureRate < 0 || c.Sim.FailureRate > 1 {
		return fmt.Errorf("sim.failureRate must be in [0, 1], got %.2f", c.Sim.FailureRate)
	}
	return nil
}

// Load reads configuration from the given file (optional) and environment,
// applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SPAWNGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("metricsAddr", ":9090")
	v.SetDefault("verbosity", 1)
	v.SetDefault("loadSource", LoadSourceHost)
	v.SetDefault("syntheticLoadRatio", 0.0)
	v.SetDefault("formationFile", "")

	v.SetDefault("scheduler.queueMaxLen", scheduler.DefaultQueueMaxLen)
	v.SetDefault("scheduler.overloadThreshold", scheduler.DefaultOverloadThreshold)
	v.SetDefault("scheduler.queueEntryTimeout", scheduler.DefaultQueueEntryTimeout)
	v.SetDefault("scheduler.baseConcurrencyCap", scheduler.DefaultBaseConcurrencyCap)
	v.SetDefault("scheduler.baseBatchSize", scheduler.DefaultBaseBatchSize)
	v.SetDefault("scheduler.multiplierFloor", scheduler.DefaultMultiplierFloor)
	v.SetDefault("scheduler.concurrencyCapFloor", scheduler.DefaultConcurrencyCapFloor)
	v.SetDefault("scheduler.recomputePeriod", scheduler.DefaultRecomputePeriod)
	v.SetDefault("scheduler.throttledBackoff", scheduler.DefaultThrottledBackoff)
	v.SetDefault("scheduler.dispatchBackoff", scheduler.DefaultDispatchBackoff)
	v.SetDefault("scheduler.idleBackoff", scheduler.DefaultIdleBackoff)
	v.SetDefault("scheduler.faultBackoff", scheduler.DefaultFaultBackoff)
	v.SetDefault("scheduler.ledgerRetention", scheduler.DefaultLedgerRetention)
	v.SetDefault("scheduler.maintenanceInterval", scheduler.DefaultMaintenanceInterval)

	v.SetDefault("sim.execLatency", 150*time.Millisecond)
	v.SetDefault("sim.failureRate", 0.05)
	v.SetDefault("sim.submitRate", 20)
}
