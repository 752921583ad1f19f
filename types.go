package mgp

import (
	"log/slog"
)

// ProgressUpdate represents the state of a batch imputation after one patient
// finished.
type ProgressUpdate struct {
	// PatientIndex is the batch position of the patient that just finished
	PatientIndex int

	// Completed is the number of patients finished so far in this batch
	Completed int

	// Total is the batch size
	Total int

	// Retries is the number of jitter escalations the patient needed
	Retries int

	// Failed reports whether the patient was sent to the failure ledger
	Failed bool
}

// Reducer collapses the Monte Carlo draws of one grid cell into a single
// value. It is used to summarise a posterior sample tensor before handing it
// to consumers that do not want the MC axis.
//
// Parameters:
// - draws: One value per MC sample for a fixed (patient, time, feature) cell
//
// Returns:
// - float64: The summary value for that cell
//
// Built-in reducers:
// - Mean: Average of the draws
// - StdDev: Population standard deviation of the draws
//
// Implementation notes for custom reducers:
// - Must not retain or modify draws (the slice is reused)
// - Must be safe for concurrent use.
type Reducer func(draws []float64) float64

// Config holds all configuration parameters for the MGP imputation layer.
//
// Fields explanation:
// - Features: Number of physiological channels (n_features)
// - FastFeatures: How many leading channels belong to the fast-varying group
// - GridWidth: Time steps the downstream classifier expects per patient
// - MCSamples: Number of posterior draws per patient
// - Jitter: Diagonal jitter added to every covariance before factorizing
// - Workers: Number of goroutines evaluating patients concurrently
// - Seed: Base seed for the per-patient random sources
//
// Usage example:
//
//	config := DefaultConfig()
//	config.GridWidth = 48
//	config.MCSamples = 20
//	config.Seed = 42
//
// Note:
// - GridWidth, MCSamples and Features are runtime values, not constants.
type Config struct {
	// Features is the number of physiological channels.
	Features int `yaml:"features"`

	// FastFeatures is the number of leading channels (vitals) that get a large
	// prior self-variance in the fast covariance group and a small one in the
	// slow group. The remaining channels (labs) get the opposite.
	FastFeatures int `yaml:"fast_features"`

	// GridWidth is the number of time steps per patient in the output tensor.
	// Shorter query grids are right-aligned, longer ones keep the most recent
	// GridWidth points.
	GridWidth int `yaml:"grid_width"`

	// MCSamples is the number of posterior draws per patient.
	MCSamples int `yaml:"mc_samples"`

	// Jitter is added to the diagonal of every covariance matrix before
	// factorization. Failed factorizations add 10*Jitter per retry.
	Jitter float64 `yaml:"jitter"`

	// Workers is the number of goroutines used by Impute.
	Workers int `yaml:"workers"`

	// Seed drives every random draw. The same seed, parameters and batch
	// always produce the same tensor, regardless of Workers.
	Seed uint64 `yaml:"seed"`

	// LogNoiseMean and LogNoiseStd parameterise the truncated normal used to
	// initialise per-feature log noise variances.
	LogNoiseMean float64 `yaml:"log_noise_mean"`
	LogNoiseStd  float64 `yaml:"log_noise_std"`

	// LogLengthFastMean, LogLengthSlowMean and LogLengthStd parameterise the
	// truncated normals used to initialise the two log length-scales.
	LogLengthFastMean float64 `yaml:"log_length_fast_mean"`
	LogLengthSlowMean float64 `yaml:"log_length_slow_mean"`
	LogLengthStd      float64 `yaml:"log_length_std"`

	// FastPriorScale and SlowPriorScale are the initial diagonal entries of
	// the covariance factors for in-group and out-of-group channels.
	FastPriorScale float64 `yaml:"fast_prior_scale"`
	SlowPriorScale float64 `yaml:"slow_prior_scale"`

	// Logger receives jitter and failure records. Uses slog.Default() if nil.
	Logger *slog.Logger `yaml:"-"`

	// ProgressChan is used to send per-patient progress updates during
	// Impute. If nil, no updates will be sent. Updates are dropped when the
	// channel is full.
	ProgressChan chan<- ProgressUpdate `yaml:"-"`
}
