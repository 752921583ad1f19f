package mgp

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

//////
// Const, vars, types.
//////

// weightCount is the number of arrays returned by Weights.
const weightCount = 5

// Parameters owns the trainable statistical parameters shared by every patient
// in a batch:
// - two unconstrained feature-covariance factors (fast and slow groups),
// - per-feature log noise variances,
// - one log length-scale per group.
//
// Only the lower triangle of each factor is used, and the usable covariance is
// L·Lᵀ, so positive semi-definiteness holds by construction whatever the
// optimizer does to the factor. Noise and length-scales are exponentiated
// before use, so they are strictly positive.
//
// Thread safety:
// - Not safe for concurrent mutation. Take a Snapshot for each forward pass
// and mutate (SetWeights, Apply) only between passes.
type Parameters struct {
	features      int
	fastFactor    *mat.Dense
	slowFactor    *mat.Dense
	logNoise      []float64
	logLengthFast float64
	logLengthSlow float64
}

// Covariances is the read-only view of Parameters consumed by one forward pass.
type Covariances struct {
	// Features is the number of channels.
	Features int

	// Fast and Slow are the feature covariances L·Lᵀ of the two groups.
	Fast *mat.SymDense
	Slow *mat.SymDense

	// Noise holds one positive measurement-noise variance per feature.
	Noise []float64

	// LengthFast and LengthSlow are the positive decay length-scales.
	LengthFast float64
	LengthSlow float64
}

// checkpoint is the persisted form of Parameters.
type checkpoint struct {
	Features int         `json:"features"`
	Weights  [][]float64 `json:"weights"`
}

//////
// Factory.
//////

// NewParameters initialises parameters the way the clinical model expects:
// - the first config.FastFeatures channels (vitals) get FastPriorScale on the
// fast factor diagonal and SlowPriorScale on the slow one, the remaining
// channels (labs) the opposite,
// - log noises and log lengths are drawn from truncated normals.
//
// Parameters:
// - config: Validated configuration
// - src: Random source used for the truncated normal draws
//
// Usage example:
//
//	params, err := NewParameters(DefaultConfig(), rand.NewPCG(1, 2))
func NewParameters(config Config, src rand.Source) (*Parameters, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	n := config.Features
	p := &Parameters{
		features:   n,
		fastFactor: mat.NewDense(n, n, nil),
		slowFactor: mat.NewDense(n, n, nil),
		logNoise:   make([]float64, n),
	}

	for i := 0; i < n; i++ {
		if i < config.FastFeatures {
			p.fastFactor.Set(i, i, config.FastPriorScale)
			p.slowFactor.Set(i, i, config.SlowPriorScale)
		} else {
			p.fastFactor.Set(i, i, config.SlowPriorScale)
			p.slowFactor.Set(i, i, config.FastPriorScale)
		}
	}

	noise := distuv.Normal{Mu: config.LogNoiseMean, Sigma: config.LogNoiseStd, Src: src}
	for i := range p.logNoise {
		p.logNoise[i] = truncatedNormal(noise)
	}

	p.logLengthFast = truncatedNormal(distuv.Normal{Mu: config.LogLengthFastMean, Sigma: config.LogLengthStd, Src: src})
	p.logLengthSlow = truncatedNormal(distuv.Normal{Mu: config.LogLengthSlowMean, Sigma: config.LogLengthStd, Src: src})

	return p, nil
}

// LoadParameters restores parameters saved with Save. It fails with
// ErrShapeMismatch if the checkpoint was written for a different number of
// features.
func LoadParameters(r io.Reader, features int) (*Parameters, error) {
	var c checkpoint
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}

	if features <= 0 {
		return nil, fmt.Errorf("%w: features must be positive, got %d", ErrInvalidInput, features)
	}

	if c.Features != features {
		return nil, fmt.Errorf("%w: checkpoint has %d features, model has %d", ErrShapeMismatch, c.Features, features)
	}

	p := &Parameters{
		features:   features,
		fastFactor: mat.NewDense(features, features, nil),
		slowFactor: mat.NewDense(features, features, nil),
		logNoise:   make([]float64, features),
	}

	if err := p.SetWeights(c.Weights); err != nil {
		return nil, err
	}

	return p, nil
}

//////
// Methods.
//////

// Features returns the number of channels the parameters were built for.
func (p *Parameters) Features() int {
	return p.features
}

// Snapshot computes the covariances used by a forward pass. The result shares
// no memory with p.
func (p *Parameters) Snapshot() *Covariances {
	noise := make([]float64, p.features)
	for i, v := range p.logNoise {
		noise[i] = math.Exp(v)
	}

	return &Covariances{
		Features:   p.features,
		Fast:       factorToCovariance(p.fastFactor),
		Slow:       factorToCovariance(p.slowFactor),
		Noise:      noise,
		LengthFast: math.Exp(p.logLengthFast),
		LengthSlow: math.Exp(p.logLengthSlow),
	}
}

// Weights returns copies of the raw parameters as a flat ordered list:
//
//	[fast factor (row-major n*n), slow factor (row-major n*n), log noise (n),
//	 log length fast (1), log length slow (1)]
func (p *Parameters) Weights() [][]float64 {
	return [][]float64{
		slices.Clone(p.fastFactor.RawMatrix().Data),
		slices.Clone(p.slowFactor.RawMatrix().Data),
		slices.Clone(p.logNoise),
		{p.logLengthFast},
		{p.logLengthSlow},
	}
}

// SetWeights replaces the raw parameters with w, laid out as in Weights. Any
// deviation from the expected shapes returns ErrShapeMismatch and leaves p
// untouched.
func (p *Parameters) SetWeights(w [][]float64) error {
	if err := p.checkShapes(w); err != nil {
		return err
	}

	copy(p.fastFactor.RawMatrix().Data, w[0])
	copy(p.slowFactor.RawMatrix().Data, w[1])
	copy(p.logNoise, w[2])
	p.logLengthFast = w[3][0]
	p.logLengthSlow = w[4][0]

	return nil
}

// Apply performs one plain gradient step, w -= rate * grads, with grads laid
// out as in Weights. Gradients are computed by the training harness.
func (p *Parameters) Apply(grads [][]float64, rate float64) error {
	if err := p.checkShapes(grads); err != nil {
		return err
	}

	w := p.Weights()
	for i := range w {
		vek.Sub_Inplace(w[i], vek.MulNumber(grads[i], rate))
	}

	return p.SetWeights(w)
}

// Save writes p as a JSON checkpoint.
func (p *Parameters) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(checkpoint{Features: p.features, Weights: p.Weights()}); err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}

	return nil
}

func (p *Parameters) checkShapes(w [][]float64) error {
	if len(w) != weightCount {
		return fmt.Errorf("%w: got %d weight arrays, want %d", ErrShapeMismatch, len(w), weightCount)
	}

	n := p.features
	want := []int{n * n, n * n, n, 1, 1}
	for i, size := range want {
		if len(w[i]) != size {
			return fmt.Errorf("%w: weight array %d has %d values, want %d", ErrShapeMismatch, i, len(w[i]), size)
		}
	}

	return nil
}

// factorToCovariance keeps the lower triangle of f and returns L·Lᵀ.
func factorToCovariance(f *mat.Dense) *mat.SymDense {
	n, _ := f.Dims()
	low := mat.NewTriDense(n, mat.Lower, nil)

	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			low.SetTri(i, j, f.At(i, j))
		}
	}

	var cov mat.SymDense
	cov.SymOuterK(1, low)

	return &cov
}
