package sampler

import (
	"errors"
	"fmt"
	"time"

	"github.com/shyim/sitespeed-compare/internal/models"
)

const (
	// DefaultMinIterations is the number of measured trials before the first consistency check.
	DefaultMinIterations = 10
	// DefaultMaxIterations caps the measured attempts, failed ones included.
	DefaultMaxIterations = 30
	// DefaultConsistencyThreshold is the IQR/median ratio below which sampling stops.
	DefaultConsistencyThreshold = 0.20
	// DefaultTrialTimeout bounds a single trial.
	DefaultTrialTimeout = 120 * time.Second
	// DefaultTrialDelay is the pause between trials.
	DefaultTrialDelay = time.Second
)

// Config controls how many trials a Sampler runs.
type Config struct {
	// MinIterations is the number of successful trials required before evaluating consistency.
	MinIterations int
	// MaxIterations is the hard cap on measured attempts (successes and failures).
	MaxIterations int
	// ConsistencyThreshold is the IQR/median ratio of the primary metric that ends sampling.
	ConsistencyThreshold float64
	// TrialTimeout bounds each trial; zero selects DefaultTrialTimeout.
	TrialTimeout time.Duration
	// TrialDelay is the pause between consecutive trials; zero disables it.
	TrialDelay time.Duration
	// SkipWarmup disables the discarded first trial.
	SkipWarmup bool
	// PrimaryMetric is the metric the consistency check runs on.
	PrimaryMetric models.MetricName
}

func DefaultConfig() Config {
	return Config{
		MinIterations:        DefaultMinIterations,
		MaxIterations:        DefaultMaxIterations,
		ConsistencyThreshold: DefaultConsistencyThreshold,
		TrialTimeout:         DefaultTrialTimeout,
		TrialDelay:           DefaultTrialDelay,
		PrimaryMetric:        models.PrimaryMetric,
	}
}

// withDefaults fills zero values and validates the result.
func (c Config) withDefaults() (Config, error) {
	if c.MinIterations == 0 {
		c.MinIterations = DefaultMinIterations
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
		if c.MaxIterations < c.MinIterations {
			c.MaxIterations = c.MinIterations
		}
	}
	if c.ConsistencyThreshold == 0 {
		c.ConsistencyThreshold = DefaultConsistencyThreshold
	}
	if c.TrialTimeout == 0 {
		c.TrialTimeout = DefaultTrialTimeout
	}
	if c.PrimaryMetric == "" {
		c.PrimaryMetric = models.PrimaryMetric
	}

	if c.MinIterations < 1 {
		return c, errors.New("min iterations must be >= 1")
	}
	if c.MaxIterations < c.MinIterations {
		return c, fmt.Errorf("max iterations (%d) must be >= min iterations (%d)", c.MaxIterations, c.MinIterations)
	}
	if c.ConsistencyThreshold < 0 {
		return c, errors.New("consistency threshold must be >= 0")
	}
	if c.TrialTimeout < 0 {
		return c, errors.New("trial timeout must be > 0")
	}
	if !c.PrimaryMetric.Valid() {
		return c, fmt.Errorf("unknown primary metric %q", c.PrimaryMetric)
	}
	return c, nil
}
