package mgp

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"
)

const (
	// MaxCholeskyAttempts bounds the jitter escalation ladder.
	MaxCholeskyAttempts = 4

	// jitterGrowth multiplies the base jitter on every retry.
	jitterGrowth = 10
)

// FactorizeWithJitter computes the Cholesky factorization of a. When the matrix
// is not numerically positive definite, jitter*10 is added to the diagonal and
// the factorization is retried, up to MaxCholeskyAttempts in total. The added
// jitter is cumulative: attempt k sees a + (k-1)*10*jitter*I.
//
// a is never modified.
//
// Returns:
// - *mat.Cholesky: The factorization
// - int: Number of attempts used (1 means no escalation was needed)
// - error: *InstabilityError if every attempt failed
func FactorizeWithJitter(a *mat.SymDense, jitter float64, logger *slog.Logger) (*mat.Cholesky, int, error) {
	n := a.SymmetricDim()
	if n == 0 {
		return nil, 0, fmt.Errorf("%w: cannot factorize an empty matrix", ErrInvalidInput)
	}

	work := mat.NewSymDense(n, nil)
	work.CopySym(a)

	var (
		chol  mat.Cholesky
		added float64
	)

	for attempt := 1; attempt <= MaxCholeskyAttempts; attempt++ {
		if chol.Factorize(work) {
			return &chol, attempt, nil
		}

		if attempt == MaxCholeskyAttempts {
			break
		}

		step := jitter * jitterGrowth
		added += step
		addDiag(work, step)

		if logger != nil {
			logger.Warn("cholesky ill defined, increasing jitter",
				slog.Int("attempt", attempt),
				slog.Int("size", n),
				slog.Float64("jitter", jitter+added),
			)
		}
	}

	return nil, MaxCholeskyAttempts, &InstabilityError{
		Size:     n,
		Attempts: MaxCholeskyAttempts,
		Jitter:   added,
	}
}
