package mgp

import (
	"errors"
	"fmt"
)

//////
// Errors.
//////

var (
	// ErrInvalidInput is returned for malformed patient records, batches and
	// configurations. It is never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIndexOutOfRange is returned when a feature index falls outside
	// [0, features).
	ErrIndexOutOfRange = fmt.Errorf("%w: index out of range", ErrInvalidInput)

	// ErrNumericalInstability is returned when a covariance matrix could not
	// be factorized within MaxCholeskyAttempts.
	ErrNumericalInstability = errors.New("numerical instability")

	// ErrShapeMismatch is returned when weights or tensors do not match the
	// dimensionality of the receiving model.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// InstabilityError describes a covariance factorization that failed even after
// jitter escalation. It unwraps to ErrNumericalInstability.
type InstabilityError struct {
	// Size is the dimension of the matrix that failed.
	Size int

	// Attempts is the number of factorizations tried.
	Attempts int

	// Jitter is the total diagonal jitter added on top of the input matrix.
	Jitter float64
}

func (e *InstabilityError) Error() string {
	return fmt.Sprintf(
		"cholesky failed for %dx%d matrix after %d attempts (added jitter %g)",
		e.Size, e.Size, e.Attempts, e.Jitter,
	)
}

func (e *InstabilityError) Unwrap() error {
	return ErrNumericalInstability
}
