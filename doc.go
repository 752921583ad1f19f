// Package mgp provides the multi-task Gaussian Process imputation layer used to
// turn sparse, irregularly sampled bedside measurements (vital signs and lab
// results) into a dense, regularly gridded tensor of posterior samples for a
// downstream sequence classifier.
//
// # Features
//
// The package includes the following key features:
//
//   - Kronecker-separable covariance: two channel groups (fast-varying vitals
//     and slow-varying labs), each with its own feature covariance and
//     Ornstein-Uhlenbeck time kernel
//   - Ragged batches: every patient has its own observation count and query
//     grid, so each covariance is built and factorized on its own
//   - Stable solves: Cholesky factorization with a bounded jitter escalation
//     ladder, no explicit matrix inverse
//   - Reparameterised sampling: draws are factor*eps + mean, with the noise
//     available to the caller through Posterior.DrawWith
//   - Failure isolation: a patient whose covariance cannot be factorized
//     contributes zeros and is recorded in an inspectable failure ledger
//   - Deterministic concurrency: patients run on a worker pool, each with its
//     own random source, so results do not depend on scheduling
//   - Progress monitoring: per-patient updates via channels
//
// # Usage
//
//	config := DefaultConfig()
//	config.Features = 2
//	config.FastFeatures = 1
//	config.GridWidth = 4
//	config.Seed = 42
//
//	params, err := NewParameters(config, rand.NewPCG(config.Seed, 0))
//	if err != nil {
//	    return err
//	}
//
//	imputer, err := New(config, params)
//	if err != nil {
//	    return err
//	}
//
//	batch := NewBatch([]Patient{{
//	    Values:       []float64{1.0, 1.2, 5.0},
//	    Times:        []float64{0, 1, 0},
//	    FeatureIndex: []int{0, 0, 1},
//	    QueryTimes:   []float64{0, 1, 2},
//	}})
//
//	samples, err := imputer.Impute(ctx, batch)
//	// samples.Shape() == [4]int{1, config.MCSamples, 4, 2}
//
// # Output alignment
//
// Each patient's grid is aligned to Config.GridWidth:
//   - Shorter grids are right-aligned, with zeros on the left
//   - Longer grids keep the most recent GridWidth points
//
// # Errors
//
// Malformed input fails with ErrInvalidInput before any linear algebra runs.
// Restoring parameters into a model with a different number of channels fails
// with ErrShapeMismatch. Numerical failures inside Impute never fail the
// batch; they are listed by Imputer.Ledger. Outside a batch, NewPosterior
// returns an *InstabilityError that matches ErrNumericalInstability.
//
// # Thread Safety
//
//   - Impute may be called concurrently
//   - Parameters must only be mutated between forward passes
//   - The failure ledger is safe for concurrent use
package mgp
