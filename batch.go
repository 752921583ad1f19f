package mgp

import (
	"fmt"
	"math"
	"slices"

	"golang.org/x/exp/constraints"
)

// Patient is one patient's irregularly sampled observations and the grid at
// which the latent process is imputed.
//
// Invariants (checked by Validate):
// - Values, Times and FeatureIndex have the same, non-zero length
// - every FeatureIndex entry is in [0, features)
// - QueryTimes is strictly increasing (it may be empty).
type Patient struct {
	Values       []float64 `json:"values"`
	Times        []float64 `json:"times"`
	FeatureIndex []int     `json:"feature_index"`
	QueryTimes   []float64 `json:"query_times"`

	// Static covariates are passed through to the downstream classifier and
	// never read by the GP.
	Static []float64 `json:"static,omitempty"`
}

// Validate checks the patient record against the number of features.
func (p Patient) Validate(features int) error {
	n := len(p.Values)

	if n == 0 {
		return fmt.Errorf("%w: patient has no observations", ErrInvalidInput)
	}

	if len(p.Times) != n || len(p.FeatureIndex) != n {
		return fmt.Errorf("%w: %d values, %d times, %d feature indices",
			ErrInvalidInput, n, len(p.Times), len(p.FeatureIndex))
	}

	if err := checkIndex(p.FeatureIndex, features); err != nil {
		return err
	}

	for i := 1; i < len(p.QueryTimes); i++ {
		if !(p.QueryTimes[i] > p.QueryTimes[i-1]) {
			return fmt.Errorf("%w: query times not strictly increasing at position %d", ErrInvalidInput, i)
		}
	}

	return nil
}

// Batch is a set of patients padded to common storage widths, as produced by
// the data-loading pipeline. Only the first NumObservations[i] entries of
// Values[i], Times[i] and FeatureIndex[i] and the first NumQueryPoints[i]
// entries of QueryTimes[i] are read.
type Batch struct {
	Values          [][]float64
	Times           [][]float64
	FeatureIndex    [][]int
	NumObservations []int
	QueryTimes      [][]float64
	NumQueryPoints  []int
	Static          [][]float64
}

// NewBatch pads ragged patient records with zeros to the largest observation
// count and the largest query grid of the set.
func NewBatch(patients []Patient) Batch {
	var maxObs, maxQuery int
	for _, p := range patients {
		maxObs = max(maxObs, len(p.Values))
		maxQuery = max(maxQuery, len(p.QueryTimes))
	}

	b := Batch{
		Values:          make([][]float64, len(patients)),
		Times:           make([][]float64, len(patients)),
		FeatureIndex:    make([][]int, len(patients)),
		NumObservations: make([]int, len(patients)),
		QueryTimes:      make([][]float64, len(patients)),
		NumQueryPoints:  make([]int, len(patients)),
		Static:          make([][]float64, len(patients)),
	}

	for i, p := range patients {
		b.Values[i] = padded(p.Values, maxObs)
		b.Times[i] = padded(p.Times, maxObs)
		b.FeatureIndex[i] = padded(p.FeatureIndex, maxObs)
		b.NumObservations[i] = len(p.Values)
		b.QueryTimes[i] = padded(p.QueryTimes, maxQuery)
		b.NumQueryPoints[i] = len(p.QueryTimes)
		b.Static[i] = slices.Clone(p.Static)
	}

	return b
}

// Size returns the number of patients in the batch.
func (b Batch) Size() int {
	return len(b.NumObservations)
}

// Patient returns the valid prefix of patient i. The returned slices alias
// the batch storage.
func (b Batch) Patient(i int) Patient {
	n, q := b.NumObservations[i], b.NumQueryPoints[i]

	p := Patient{
		Values:       b.Values[i][:n],
		Times:        b.Times[i][:n],
		FeatureIndex: b.FeatureIndex[i][:n],
		QueryTimes:   b.QueryTimes[i][:q],
	}

	if i < len(b.Static) {
		p.Static = b.Static[i]
	}

	return p
}

// Validate checks the padded layout and every patient's valid prefix. It is
// called before any linear algebra is attempted.
func (b Batch) Validate(features int) error {
	size := b.Size()

	if len(b.Values) != size || len(b.Times) != size || len(b.FeatureIndex) != size ||
		len(b.QueryTimes) != size || len(b.NumQueryPoints) != size {
		return fmt.Errorf("%w: batch arrays disagree on the number of patients", ErrInvalidInput)
	}

	if b.Static != nil && len(b.Static) != size {
		return fmt.Errorf("%w: %d static rows for %d patients", ErrInvalidInput, len(b.Static), size)
	}

	for i := 0; i < size; i++ {
		n, q := b.NumObservations[i], b.NumQueryPoints[i]

		if n < 0 || n > len(b.Values[i]) || n > len(b.Times[i]) || n > len(b.FeatureIndex[i]) {
			return fmt.Errorf("%w: patient %d: num_observations %d exceeds storage", ErrInvalidInput, i, n)
		}

		if q < 0 || q > len(b.QueryTimes[i]) {
			return fmt.Errorf("%w: patient %d: num_query_points %d exceeds storage", ErrInvalidInput, i, q)
		}

		if err := b.Patient(i).Validate(features); err != nil {
			return fmt.Errorf("patient %d: %w", i, err)
		}
	}

	return nil
}

// FeatureIndexFrom converts feature-index rows of any numeric type into ints.
// Upstream loaders often store indices in float arrays; non-integral,
// non-finite or out-of-range values are rejected.
func FeatureIndexFrom[T constraints.Integer | constraints.Float](rows [][]T) ([][]int, error) {
	out := make([][]int, len(rows))

	for i, row := range rows {
		out[i] = make([]int, len(row))
		for j, v := range row {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
				return nil, fmt.Errorf("%w: row %d position %d: %v is not an integer index", ErrInvalidInput, i, j, v)
			}

			// int covers [MinInt, -MinInt).
			if f < math.MinInt || f >= -math.MinInt {
				return nil, fmt.Errorf("%w: row %d position %d: %v overflows int", ErrInvalidInput, i, j, v)
			}

			out[i][j] = int(v)
		}
	}

	return out, nil
}

func padded[T any](src []T, width int) []T {
	out := make([]T, width)
	copy(out, src)

	return out
}
