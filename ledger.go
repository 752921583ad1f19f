package mgp

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Failure records a patient whose posterior could not be computed. It holds
// everything needed to reproduce the failure with NewPosterior.
type Failure struct {
	// ID identifies the record in logs.
	ID uuid.UUID

	// PatientIndex is the batch position of the patient.
	PatientIndex int

	// Patient is a copy of the valid prefix of the patient's inputs.
	Patient Patient

	// Covariances are the parameters in effect for the forward pass.
	Covariances *Covariances

	// Err is the factorization error, usually an *InstabilityError.
	Err error

	// Time is when the failure was recorded.
	Time time.Time
}

// Ledger is an append-only record of numerical failures. It lives as long as
// the Imputer that owns it and is cleared only by Reset.
//
// Thread safety:
// - Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	failures []Failure
}

// Record appends a failure for patient index and returns it.
func (l *Ledger) Record(index int, p Patient, cov *Covariances, err error) Failure {
	f := Failure{
		ID:           uuid.New(),
		PatientIndex: index,
		Patient:      clonePatient(p),
		Covariances:  cov,
		Err:          err,
		Time:         time.Now(),
	}

	l.mu.Lock()
	l.failures = append(l.failures, f)
	l.mu.Unlock()

	return f
}

// Failures returns a copy of the recorded failures ordered by patient index.
// Failures of the same index keep their recording order.
func (l *Ledger) Failures() []Failure {
	l.mu.Lock()
	out := slices.Clone(l.failures)
	l.mu.Unlock()

	slices.SortStableFunc(out, func(a, b Failure) int {
		return a.PatientIndex - b.PatientIndex
	})

	return out
}

// Len returns the number of recorded failures.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.failures)
}

// Reset drops every recorded failure.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.failures = nil
	l.mu.Unlock()
}

func clonePatient(p Patient) Patient {
	return Patient{
		Values:       slices.Clone(p.Values),
		Times:        slices.Clone(p.Times),
		FeatureIndex: slices.Clone(p.FeatureIndex),
		QueryTimes:   slices.Clone(p.QueryTimes),
		Static:       slices.Clone(p.Static),
	}
}
