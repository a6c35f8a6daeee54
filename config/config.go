// Package config loads the twin's environment configuration. Every
// setting has a documented default; flags on the CLI commands override
// the environment when set.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Environment variable names recognized by the twin.
const (
	EnvBusBootstrap       = "BUS_BOOTSTRAP"
	EnvBusGroupID         = "BUS_GROUP_ID"
	EnvSimulationSpeed    = "SIMULATION_SPEED"
	EnvSimulationDuration = "SIMULATION_DURATION"
	EnvStatusInterval     = "STATUS_INTERVAL"
	EnvPredictRetrain     = "PREDICT_RETRAIN"
)

// MinSpeed is the lowest accepted simulation speed multiplier.
const MinSpeed = 0.1

// Config is the resolved process configuration.
type Config struct {
	// BusBootstrap is the Redis broker address, host:port.
	BusBootstrap string

	// BusGroupID is the default consumer group.
	BusGroupID string

	// SimulationSpeed maps wall seconds to simulated minutes: speed 1
	// means one real second is one simulated minute.
	SimulationSpeed float64

	// SimulationDuration bounds the run in simulated minutes; 0 means
	// unbounded.
	SimulationDuration float64

	// StatusInterval is the wall cadence of coordinator-status publishes.
	StatusInterval time.Duration

	// PredictRetrain is the wall cadence of predictor retraining. Zero
	// means derive it from SimulationSpeed (one simulated day).
	PredictRetrain time.Duration
}

// Load resolves the configuration from the environment.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault(EnvBusBootstrap, "localhost:6379")
	v.SetDefault(EnvBusGroupID, "urgencias-sim")
	v.SetDefault(EnvSimulationSpeed, 1.0)
	v.SetDefault(EnvSimulationDuration, 0.0)
	v.SetDefault(EnvStatusInterval, "30s")
	v.SetDefault(EnvPredictRetrain, "")
	for _, name := range []string{
		EnvBusBootstrap, EnvBusGroupID, EnvSimulationSpeed,
		EnvSimulationDuration, EnvStatusInterval, EnvPredictRetrain,
	} {
		if err := v.BindEnv(name); err != nil {
			return Config{}, fmt.Errorf("binding %s: %w", name, err)
		}
	}

	cfg := Config{
		BusBootstrap:       v.GetString(EnvBusBootstrap),
		BusGroupID:         v.GetString(EnvBusGroupID),
		SimulationSpeed:    v.GetFloat64(EnvSimulationSpeed),
		SimulationDuration: v.GetFloat64(EnvSimulationDuration),
	}
	if cfg.SimulationSpeed < MinSpeed {
		return Config{}, fmt.Errorf("%s must be >= %v, got %v", EnvSimulationSpeed, MinSpeed, cfg.SimulationSpeed)
	}
	if cfg.SimulationDuration < 0 {
		return Config{}, fmt.Errorf("%s must be >= 0, got %v", EnvSimulationDuration, cfg.SimulationDuration)
	}

	var err error
	cfg.StatusInterval, err = time.ParseDuration(v.GetString(EnvStatusInterval))
	if err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", EnvStatusInterval, err)
	}
	if raw := v.GetString(EnvPredictRetrain); raw != "" {
		cfg.PredictRetrain, err = time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", EnvPredictRetrain, err)
		}
	}
	return cfg, nil
}

// RetrainInterval resolves the predictor retrain cadence: the explicit
// setting if present, otherwise the wall equivalent of one simulated day
// at the configured speed.
func (c Config) RetrainInterval() time.Duration {
	if c.PredictRetrain > 0 {
		return c.PredictRetrain
	}
	// One simulated day is 24*60 simulated minutes; at speed s each
	// simulated minute takes 1/s wall seconds.
	return time.Duration(24 * 60 / c.SimulationSpeed * float64(time.Second))
}
