package mgp

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

//////
// Exported functionalities.
//////

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Features:          45,
		FastFeatures:      7,
		GridWidth:         25,
		MCSamples:         10,
		Jitter:            0.001,
		Workers:           runtime.NumCPU(),
		Seed:              uint64(time.Now().UnixNano()),
		LogNoiseMean:      -2,
		LogNoiseStd:       0.1,
		LogLengthFastMean: math.Log(0.5),
		LogLengthSlowMean: math.Log(10),
		LogLengthStd:      0.001,
		FastPriorScale:    1,
		SlowPriorScale:    0.01,
		Logger:            nil, // Default to slog.Default().
		ProgressChan:      nil, // Default to no progress updates.
	}
}

// ParseConfig decodes a YAML document on top of DefaultConfig and validates
// the result. Keys missing from the document keep their default value.
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("%w: decode config: %v", ErrInvalidInput, err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// LoadConfig reads and parses the YAML configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	return ParseConfig(data)
}

// Validate checks that every field holds a usable value.
func (c Config) Validate() error {
	switch {
	case c.Features <= 0:
		return fmt.Errorf("%w: features must be positive, got %d", ErrInvalidInput, c.Features)
	case c.FastFeatures < 0 || c.FastFeatures > c.Features:
		return fmt.Errorf("%w: fast_features must be in [0, %d], got %d", ErrInvalidInput, c.Features, c.FastFeatures)
	case c.GridWidth <= 0:
		return fmt.Errorf("%w: grid_width must be positive, got %d", ErrInvalidInput, c.GridWidth)
	case c.MCSamples <= 0:
		return fmt.Errorf("%w: mc_samples must be positive, got %d", ErrInvalidInput, c.MCSamples)
	case !(c.Jitter > 0) || math.IsInf(c.Jitter, 0):
		return fmt.Errorf("%w: jitter must be positive and finite, got %g", ErrInvalidInput, c.Jitter)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidInput, c.Workers)
	case c.LogNoiseStd < 0 || c.LogLengthStd < 0:
		return fmt.Errorf("%w: standard deviations must not be negative", ErrInvalidInput)
	}

	return nil
}

//////
// Helpers.
//////

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}

	return c.Logger
}
