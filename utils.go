package mgp

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

//////
// Helper functions.
//////

// addDiag adds v to every diagonal entry of s in place.
func addDiag(s *mat.SymDense, v float64) {
	for i := 0; i < s.SymmetricDim(); i++ {
		s.SetSym(i, i, s.At(i, i)+v)
	}
}

// symmetrize returns (a + aᵀ) / 2 as a SymDense. Posterior covariances are
// symmetric in exact arithmetic only; the Cholesky routine reads a single
// triangle, so both triangles are averaged first.
func symmetrize(a *mat.Dense) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}

	return s
}

// truncatedNormal draws from d, rejecting values more than two standard
// deviations away from the mean.
func truncatedNormal(d distuv.Normal) float64 {
	for {
		x := d.Rand()
		if math.Abs(x-d.Mu) <= 2*d.Sigma {
			return x
		}
	}
}

// patientSource returns the random source of the patient at the given batch
// position. Sources depend only on (seed, index), which keeps batch results
// independent of goroutine scheduling.
func patientSource(seed uint64, index int) rand.Source {
	return rand.NewPCG(seed, uint64(index))
}
