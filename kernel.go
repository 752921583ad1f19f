package mgp

import (
	"fmt"
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
)

//////
// Kernel primitives.
//////

// DecayKernel computes the Ornstein-Uhlenbeck time covariance between two sets
// of time stamps.
//
// Parameters:
// - lengthScale: Decay rate of the correlation (must be > 0)
// - t1, t2: Time stamps for rows and columns
//
// Returns:
// - *mat.Dense: len(t1) x len(t2) matrix with entries exp(-|t1[i]-t2[j]| / lengthScale)
//
// Mathematical formula:
//
//	k(t1, t2) = exp(-|t1 - t2| / lengthScale)
//
// Important notes:
// - Returns 1.0 on identical time stamps
// - Returns an empty matrix when either input is empty
// - Pure function, safe for concurrent use.
func DecayKernel(lengthScale float64, t1, t2 []float64) *mat.Dense {
	if len(t1) == 0 || len(t2) == 0 {
		return &mat.Dense{}
	}

	k := mat.NewDense(len(t1), len(t2), nil)
	raw := k.RawMatrix()

	for i, a := range t1 {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j, b := range t2 {
			row[j] = a - b
		}

		vek.Abs_Inplace(row)
		vek.MulNumber_Inplace(row, -1/lengthScale)

		for j := range row {
			row[j] = math.Exp(row[j])
		}
	}

	return k
}

// ExpandByIndex gathers base[rowIndex[i], colIndex[j]] for every (i, j). It
// turns the small features x features covariance into a per-observation
// covariance block without materialising a Kronecker product.
//
// When colIndex is nil, rowIndex is used for both axes.
//
// Returns ErrIndexOutOfRange if any index falls outside base.
func ExpandByIndex(base mat.Matrix, rowIndex, colIndex []int) (*mat.Dense, error) {
	if colIndex == nil {
		colIndex = rowIndex
	}

	r, c := base.Dims()
	if err := checkIndex(rowIndex, r); err != nil {
		return nil, err
	}
	if err := checkIndex(colIndex, c); err != nil {
		return nil, err
	}

	if len(rowIndex) == 0 || len(colIndex) == 0 {
		return &mat.Dense{}, nil
	}

	out := mat.NewDense(len(rowIndex), len(colIndex), nil)
	for i, ri := range rowIndex {
		for j, cj := range colIndex {
			out.Set(i, j, base.At(ri, cj))
		}
	}

	return out, nil
}

// separable builds the two-group Kronecker-separable covariance
//
//	K_fast[f_i, f_j] * k_fast(t_i, t_j) + K_slow[f_i, f_j] * k_slow(t_i, t_j)
//
// between the (rowIndex, rowTimes) and (colIndex, colTimes) pairs.
func (c *Covariances) separable(rowIndex []int, rowTimes []float64, colIndex []int, colTimes []float64) (*mat.Dense, error) {
	fast, err := ExpandByIndex(c.Fast, rowIndex, colIndex)
	if err != nil {
		return nil, err
	}

	slow, err := ExpandByIndex(c.Slow, rowIndex, colIndex)
	if err != nil {
		return nil, err
	}

	if fast.IsEmpty() {
		return fast, nil
	}

	// Freshly allocated dense matrices are contiguous, so the raw backing
	// slices line up element by element.
	fastData := fast.RawMatrix().Data
	vek.Mul_Inplace(fastData, DecayKernel(c.LengthFast, rowTimes, colTimes).RawMatrix().Data)

	slowData := slow.RawMatrix().Data
	vek.Mul_Inplace(slowData, DecayKernel(c.LengthSlow, rowTimes, colTimes).RawMatrix().Data)

	vek.Add_Inplace(fastData, slowData)

	return fast, nil
}

func checkIndex(index []int, n int) error {
	for k, v := range index {
		if v < 0 || v >= n {
			return fmt.Errorf("%w: position %d holds %d, want [0, %d)", ErrIndexOutOfRange, k, v, n)
		}
	}

	return nil
}
