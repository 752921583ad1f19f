package mgp

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

//////
// Reducers over the Monte Carlo axis.
// Each one collapses the posterior draws of a single grid cell into one value,
// for consumers that want a point estimate or an uncertainty band instead of
// raw samples.
//////

// Mean is the Monte Carlo estimate of the posterior mean of a cell.
//
// When to use:
// - Feeding a deterministic consumer (plots, exported CSVs)
// - Comparing imputations across runs with different seeds
//
// Example:
//
//	summary := Reduce(samples, Mean)
func Mean(draws []float64) float64 {
	return stat.Mean(draws, nil)
}

// StdDev is the population standard deviation of the draws of a cell, a Monte
// Carlo estimate of the posterior standard deviation.
//
// When to use:
// - Flagging grid cells far from any observation
// - Building uncertainty bands around Mean
//
// Example:
//
//	spread := Reduce(samples, StdDev)
func StdDev(draws []float64) float64 {
	_, variance := stat.PopMeanVariance(draws, nil)

	return math.Sqrt(variance)
}

// Reduce applies r to every (patient, step, channel) cell of t across the MC
// axis. The result keeps the 4-d layout with a single sample.
func Reduce(t *Tensor, r Reducer) *Tensor {
	patients, samples, steps, channels := t.shape[0], t.shape[1], t.shape[2], t.shape[3]
	out := NewTensor(patients, 1, steps, channels)

	draws := make([]float64, samples)

	for b := 0; b < patients; b++ {
		for w := 0; w < steps; w++ {
			for f := 0; f < channels; f++ {
				for s := 0; s < samples; s++ {
					draws[s] = t.At(b, s, w, f)
				}

				out.Set(b, 0, w, f, r(draws))
			}
		}
	}

	return out
}

// SampleMean reduces t with Mean.
func SampleMean(t *Tensor) *Tensor {
	return Reduce(t, Mean)
}

// SampleStd reduces t with StdDev.
func SampleStd(t *Tensor) *Tensor {
	return Reduce(t, StdDev)
}
