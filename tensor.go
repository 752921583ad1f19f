package mgp

import (
	"fmt"
)

// Tensor is a dense row-major 4-d array shaped
// (patients, MC samples, time steps, channels), the layout consumed by the
// downstream sequence classifier.
type Tensor struct {
	shape [4]int
	data  []float64
}

// NewTensor returns a zero-filled tensor of the given shape.
func NewTensor(patients, samples, steps, channels int) *Tensor {
	return &Tensor{
		shape: [4]int{patients, samples, steps, channels},
		data:  make([]float64, patients*samples*steps*channels),
	}
}

// Shape returns (patients, samples, steps, channels).
func (t *Tensor) Shape() [4]int {
	return t.shape
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// Data returns the backing slice. Changes are visible in t.
func (t *Tensor) Data() []float64 {
	return t.data
}

// At returns the element at (b, s, w, f).
func (t *Tensor) At(b, s, w, f int) float64 {
	return t.data[t.offset(b, s, w, f)]
}

// Set stores v at (b, s, w, f).
func (t *Tensor) Set(b, s, w, f int, v float64) {
	t.data[t.offset(b, s, w, f)] = v
}

// Patient returns the contiguous block of patient b, shaped
// (samples, steps, channels). The slice aliases t.
func (t *Tensor) Patient(b int) []float64 {
	size := t.shape[1] * t.shape[2] * t.shape[3]

	return t.data[b*size : (b+1)*size]
}

func (t *Tensor) offset(b, s, w, f int) int {
	if b < 0 || b >= t.shape[0] || s < 0 || s >= t.shape[1] ||
		w < 0 || w >= t.shape[2] || f < 0 || f >= t.shape[3] {
		panic(fmt.Sprintf("mgp: tensor index (%d, %d, %d, %d) out of range for shape %v", b, s, w, f, t.shape))
	}

	return ((b*t.shape[1]+s)*t.shape[2]+w)*t.shape[3] + f
}

// alignInto copies the draws of patient b, indexed [sample][query][feature],
// into t. Grids shorter than the tensor width are right-aligned with leading
// zeros; longer grids keep their most recent steps.
func (t *Tensor) alignInto(b int, draws [][][]float64) {
	width := t.shape[2]

	for s, sample := range draws {
		q := len(sample)

		src, dst := 0, width-q
		if q > width {
			src, dst = q-width, 0
		}

		for i := src; i < q; i++ {
			copy(t.data[t.offset(b, s, dst+i-src, 0):], sample[i])
		}
	}
}

// BroadcastStatic appends per-patient static covariates to every
// (sample, step) row of t, producing a tensor with channels+len(static[b])
// channels. Every patient must have the same number of static covariates.
func BroadcastStatic(t *Tensor, static [][]float64) (*Tensor, error) {
	patients, samples, steps, channels := t.shape[0], t.shape[1], t.shape[2], t.shape[3]

	if len(static) != patients {
		return nil, fmt.Errorf("%w: %d static rows for %d patients", ErrShapeMismatch, len(static), patients)
	}

	extra := 0
	if patients > 0 {
		extra = len(static[0])
	}

	for b, row := range static {
		if len(row) != extra {
			return nil, fmt.Errorf("%w: patient %d has %d static covariates, want %d", ErrShapeMismatch, b, len(row), extra)
		}
	}

	out := NewTensor(patients, samples, steps, channels+extra)

	for b := 0; b < patients; b++ {
		for s := 0; s < samples; s++ {
			for w := 0; w < steps; w++ {
				row := out.data[out.offset(b, s, w, 0):][:channels+extra]

				copy(row, t.data[t.offset(b, s, w, 0):][:channels])
				copy(row[channels:], static[b])
			}
		}
	}

	return out, nil
}
