package mgp

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Posterior is the multi-output GP posterior of one patient evaluated at its
// query grid. Entries are flattened feature-major: index f*QueryPoints + q
// refers to feature f at query time q.
type Posterior struct {
	// Features is the number of channels.
	Features int

	// QueryPoints is the length of the query grid.
	QueryPoints int

	// Mean is the posterior mean, length Features*QueryPoints.
	Mean *mat.VecDense

	// Cov is the posterior covariance including the diagonal jitter.
	Cov *mat.SymDense

	// Retries is the number of jitter escalations needed across both
	// factorizations.
	Retries int

	factor *mat.TriDense
}

// NewPosterior conditions the latent process on the patient's observations and
// evaluates it at the patient's query times.
//
// How it works:
//  1. Builds the observation covariance
//     K_fast ⊙ k_fast(T, T) + K_slow ⊙ k_slow(T, T) + diag(noise) + jitter*I
//  2. Builds the query/query and query/observation covariances over every
//     (feature, query time) pair, feature-major
//  3. Factorizes the observation covariance (with jitter escalation) and
//     solves for the mean and covariance without forming an inverse
//  4. Factorizes the posterior covariance for sampling
//
// A patient with an empty query grid yields an empty posterior without any
// solve. Factorization failures are returned as *InstabilityError.
//
// Thread safety:
// - Pure function of its inputs; cov is only read.
func NewPosterior(cov *Covariances, p Patient, jitter float64, logger *slog.Logger) (*Posterior, error) {
	if err := p.Validate(cov.Features); err != nil {
		return nil, err
	}

	nf, nq := cov.Features, len(p.QueryTimes)
	post := &Posterior{Features: nf, QueryPoints: nq}

	if nq == 0 {
		post.Mean = &mat.VecDense{}
		post.Cov = &mat.SymDense{}

		return post, nil
	}

	n := len(p.Values)
	m := nf * nq

	// Every feature is predicted at every query time.
	queryIndex := make([]int, m)
	queryTimes := make([]float64, m)
	for f := 0; f < nf; f++ {
		for q, t := range p.QueryTimes {
			queryIndex[f*nq+q] = f
			queryTimes[f*nq+q] = t
		}
	}

	obs, err := cov.separable(p.FeatureIndex, p.Times, p.FeatureIndex, p.Times)
	if err != nil {
		return nil, err
	}

	prior := mat.NewSymDense(n, obs.RawMatrix().Data)
	for i, f := range p.FeatureIndex {
		prior.SetSym(i, i, prior.At(i, i)+cov.Noise[f]+jitter)
	}

	queryQuery, err := cov.separable(queryIndex, queryTimes, queryIndex, queryTimes)
	if err != nil {
		return nil, err
	}

	queryObs, err := cov.separable(queryIndex, queryTimes, p.FeatureIndex, p.Times)
	if err != nil {
		return nil, err
	}

	chol, attempts, err := FactorizeWithJitter(prior, jitter, logger)
	if err != nil {
		return nil, fmt.Errorf("observation covariance: %w", err)
	}
	post.Retries += attempts - 1

	// Mean = K_xt · Σ⁻¹ · y
	var alpha mat.VecDense
	if err := chol.SolveVecTo(&alpha, mat.NewVecDense(n, append([]float64(nil), p.Values...))); err != nil && !isCondition(err) {
		return nil, fmt.Errorf("solve observations: %w", err)
	}

	post.Mean = mat.NewVecDense(m, nil)
	post.Mean.MulVec(queryObs, &alpha)

	// Cov = K_xx - K_xt · Σ⁻¹ · K_tx + jitter*I
	var solved mat.Dense
	if err := chol.SolveTo(&solved, queryObs.T()); err != nil && !isCondition(err) {
		return nil, fmt.Errorf("solve cross covariance: %w", err)
	}

	var explained mat.Dense
	explained.Mul(queryObs, &solved)
	queryQuery.Sub(queryQuery, &explained)

	post.Cov = symmetrize(queryQuery)
	addDiag(post.Cov, jitter)

	postChol, attempts, err := FactorizeWithJitter(post.Cov, jitter, logger)
	if err != nil {
		return nil, fmt.Errorf("posterior covariance: %w", err)
	}
	post.Retries += attempts - 1

	post.factor = &mat.TriDense{}
	postChol.LTo(post.factor)

	return post, nil
}

// MeanAt returns the posterior mean of feature f at query point q.
func (p *Posterior) MeanAt(f, q int) float64 {
	return p.Mean.AtVec(f*p.QueryPoints + q)
}

// VarianceAt returns the posterior variance of feature f at query point q.
func (p *Posterior) VarianceAt(f, q int) float64 {
	i := f*p.QueryPoints + q

	return p.Cov.At(i, i)
}

// Draw generates n reparameterised posterior samples using standard normals
// from src. The result is indexed [sample][query point][feature].
//
// The same src state always yields bit-identical samples.
func (p *Posterior) Draw(src rand.Source, n int) ([][][]float64, error) {
	m := p.Features * p.QueryPoints
	if m == 0 || n == 0 {
		return emptyDraws(n, p.QueryPoints, p.Features), nil
	}

	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	eps := mat.NewDense(m, n, nil)

	raw := eps.RawMatrix()
	for i := range raw.Data {
		raw.Data[i] = normal.Rand()
	}

	draws, err := p.DrawWith(eps)
	if err != nil {
		return nil, err
	}

	return draws, nil
}

// DrawWith maps caller-supplied standard normals to posterior samples:
//
//	samples = L · eps + mean
//
// where L is the Cholesky factor of Cov. eps must be (Features*QueryPoints) x
// n; each column yields one sample. Keeping the noise explicit lets a training
// harness differentiate samples with respect to the mean and the factor.
func (p *Posterior) DrawWith(eps *mat.Dense) ([][][]float64, error) {
	m := p.Features * p.QueryPoints

	if m == 0 {
		_, n := eps.Dims()
		return emptyDraws(n, p.QueryPoints, p.Features), nil
	}

	rows, n := eps.Dims()
	if rows != m {
		return nil, fmt.Errorf("%w: noise has %d rows, want %d", ErrShapeMismatch, rows, m)
	}

	var draws mat.Dense
	draws.Mul(p.factor, eps)

	for i := 0; i < m; i++ {
		vek.AddNumber_Inplace(draws.RawRowView(i), p.Mean.AtVec(i))
	}

	out := emptyDraws(n, p.QueryPoints, p.Features)
	for s := 0; s < n; s++ {
		for q := 0; q < p.QueryPoints; q++ {
			for f := 0; f < p.Features; f++ {
				out[s][q][f] = draws.At(f*p.QueryPoints+q, s)
			}
		}
	}

	return out, nil
}

func emptyDraws(n, queryPoints, features int) [][][]float64 {
	out := make([][][]float64, n)
	for s := range out {
		out[s] = make([][]float64, queryPoints)
		for q := range out[s] {
			out[s][q] = make([]float64, features)
		}
	}

	return out
}

// isCondition reports whether err only warns about a poorly conditioned
// system. The solution is still computed in that case.
func isCondition(err error) bool {
	var c mat.Condition

	return errors.As(err, &c)
}
