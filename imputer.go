package mgp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

//////
// Const, vars, types.
//////

// Imputer turns batches of irregularly sampled patients into dense posterior
// sample tensors. It owns the failure ledger for its lifetime.
//
// Thread safety:
// - Impute may be called concurrently; every call reads a fresh Snapshot of
// the parameters. Mutating the parameters while a call is running is not
// supported.
type Imputer struct {
	config Config
	params *Parameters
	ledger *Ledger
}

//////
// Factory.
//////

// New creates an Imputer.
//
// Parameters:
// - config: Validated configuration (see DefaultConfig)
// - params: Trainable parameters, built for config.Features channels
//
// Returns:
// - ErrInvalidInput if config is invalid
// - ErrShapeMismatch if params has a different number of channels
//
// Usage example:
//
//	config := DefaultConfig()
//	config.Seed = 42
//
//	params, err := NewParameters(config, rand.NewPCG(config.Seed, 0))
//	if err != nil {
//	    return err
//	}
//
//	imputer, err := New(config, params)
func New(config Config, params *Parameters) (*Imputer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if params == nil {
		return nil, fmt.Errorf("%w: nil parameters", ErrInvalidInput)
	}

	if params.Features() != config.Features {
		return nil, fmt.Errorf("%w: parameters have %d features, config has %d",
			ErrShapeMismatch, params.Features(), config.Features)
	}

	return &Imputer{
		config: config,
		params: params,
		ledger: &Ledger{},
	}, nil
}

//////
// Methods.
//////

// Config returns the configuration the imputer was built with.
func (im *Imputer) Config() Config {
	return im.config
}

// Parameters returns the parameters read by every forward pass.
func (im *Imputer) Parameters() *Parameters {
	return im.params
}

// Ledger returns the failure ledger.
func (im *Imputer) Ledger() *Ledger {
	return im.ledger
}

// Impute computes MCSamples posterior draws for every patient of the batch and
// assembles them into a tensor shaped (batch size, MCSamples, GridWidth,
// Features), in input order.
//
// How it works:
// 1. Validates the whole batch; malformed input fails before any solve
// 2. Snapshots the parameters once for the whole batch
// 3. Evaluates patients on config.Workers goroutines:
//   - Builds the posterior with NewPosterior
//   - Draws samples from a source seeded by (config.Seed, patient index)
//   - Right-aligns or left-truncates the draws into the output grid
//
// 4. Returns the assembled tensor
//
// Important notes:
//   - A patient whose covariance cannot be factorized contributes zeros and is
//     recorded in the ledger once the batch completes. The batch still
//     succeeds.
//   - Results do not depend on config.Workers or on scheduling. Each patient's
//     random stream is keyed by its batch position, so the same patient at
//     another position gets different draws.
//   - Cancelling ctx abandons the remaining patients and returns ctx.Err().
//     Nothing from the abandoned pass reaches the ledger.
//   - A patient with an empty query grid contributes zeros without a solve.
func (im *Imputer) Impute(ctx context.Context, batch Batch) (*Tensor, error) {
	start := time.Now()
	logger := im.config.logger()

	if err := batch.Validate(im.config.Features); err != nil {
		return nil, err
	}

	size := batch.Size()
	out := NewTensor(size, im.config.MCSamples, im.config.GridWidth, im.config.Features)

	if size == 0 {
		return out, nil
	}

	cov := im.params.Snapshot()

	var (
		completed atomic.Int64
		errMu     sync.Mutex
		errs      []error
		pending   []Failure
	)

	// Helper function to send progress updates.
	sendProgress := func(index, retries int, isFailure bool) {
		if im.config.ProgressChan == nil {
			return
		}

		update := ProgressUpdate{
			PatientIndex: index,
			Completed:    int(completed.Load()),
			Total:        size,
			Retries:      retries,
			Failed:       isFailure,
		}

		select {
		case im.config.ProgressChan <- update:
		default:
			// Skip update if channel is full.
		}
	}

	// process evaluates one patient and writes its aligned draws into out.
	// Patients write disjoint blocks of out, so no lock is needed.
	process := func(index int) {
		p := batch.Patient(index)

		post, err := NewPosterior(cov, p, im.config.Jitter, logger)
		if err != nil {
			if !errors.Is(err, ErrNumericalInstability) {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("patient %d: %w", index, err))
				errMu.Unlock()

				return
			}

			// Held back until the pass completes; an abandoned pass leaves
			// the ledger untouched.
			errMu.Lock()
			pending = append(pending, Failure{PatientIndex: index, Patient: p, Err: err})
			errMu.Unlock()

			completed.Add(1)
			sendProgress(index, 0, true)

			return
		}

		draws, err := post.Draw(patientSource(im.config.Seed, index), im.config.MCSamples)
		if err != nil {
			errMu.Lock()
			errs = append(errs, fmt.Errorf("patient %d: %w", index, err))
			errMu.Unlock()

			return
		}

		out.alignInto(index, draws)

		completed.Add(1)
		sendProgress(index, post.Retries, false)
	}

	workers := min(im.config.Workers, size)
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for index := range jobs {
				if ctx.Err() != nil {
					continue
				}

				process(index)
			}
		}()
	}

feed:
	for i := 0; i < size; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}

	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	slices.SortFunc(pending, func(a, b Failure) int {
		return a.PatientIndex - b.PatientIndex
	})

	for _, f := range pending {
		failure := im.ledger.Record(f.PatientIndex, f.Patient, cov, f.Err)

		logger.Error("patient sent to failure ledger",
			"patient", failure.PatientIndex,
			"id", failure.ID.String(),
			"err", failure.Err,
		)
	}

	logger.Debug("batch imputed",
		"patients", size,
		"failures", len(pending),
		"workers", workers,
		"duration", time.Since(start),
	)

	return out, nil
}
