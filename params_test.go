package mgp

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testParameters(t *testing.T, features, fast int) (*Parameters, Config) {
	t.Helper()

	config := DefaultConfig()
	config.Features = features
	config.FastFeatures = fast
	config.Seed = 42

	params, err := NewParameters(config, rand.NewPCG(config.Seed, 0))
	require.NoError(t, err)

	return params, config
}

func TestNewParametersPriors(t *testing.T) {
	params, _ := testParameters(t, 3, 1)
	cov := params.Snapshot()

	// The vital channel leads the fast group, the lab channels the slow one.
	assert.InDelta(t, 1.0, cov.Fast.At(0, 0), 1e-12)
	assert.InDelta(t, 1e-4, cov.Fast.At(1, 1), 1e-12)
	assert.InDelta(t, 1e-4, cov.Slow.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0, cov.Slow.At(2, 2), 1e-12)
	assert.Equal(t, 0.0, cov.Fast.At(0, 1))

	for _, v := range cov.Noise {
		assert.Greater(t, v, 0.0)
		assert.InDelta(t, math.Exp(-2), v, math.Exp(-2)*(math.Exp(0.2)-1)+1e-12)
	}

	assert.InDelta(t, 0.5, cov.LengthFast, 0.01)
	assert.InDelta(t, 10.0, cov.LengthSlow, 0.1)
}

func TestNewParametersInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.Features = 0

	_, err := NewParameters(config, rand.NewPCG(1, 1))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSnapshotIsPSDForAnyFactor(t *testing.T) {
	params, _ := testParameters(t, 4, 2)

	rng := rand.New(rand.NewPCG(9, 9))

	w := params.Weights()
	for i := range w[0] {
		w[0][i] = rng.NormFloat64() * 3
		w[1][i] = rng.NormFloat64() * 3
	}
	require.NoError(t, params.SetWeights(w))

	cov := params.Snapshot()

	for _, m := range []*mat.SymDense{cov.Fast, cov.Slow} {
		var eig mat.EigenSym
		require.True(t, eig.Factorize(m, false))

		for _, v := range eig.Values(nil) {
			assert.GreaterOrEqual(t, v, -1e-9)
		}
	}
}

func TestSnapshotIgnoresUpperTriangle(t *testing.T) {
	params, _ := testParameters(t, 2, 1)
	before := params.Snapshot()

	w := params.Weights()
	w[0][1] = 123 // row 0, column 1
	require.NoError(t, params.SetWeights(w))

	assert.True(t, mat.Equal(before.Fast, params.Snapshot().Fast))
}

func TestSaveLoadParameters(t *testing.T) {
	params, _ := testParameters(t, 3, 1)

	var buf bytes.Buffer
	require.NoError(t, params.Save(&buf))

	restored, err := LoadParameters(bytes.NewReader(buf.Bytes()), 3)
	require.NoError(t, err)

	assert.Equal(t, params.Weights(), restored.Weights())
}

func TestLoadParametersShapeMismatch(t *testing.T) {
	params, _ := testParameters(t, 3, 1)

	var buf bytes.Buffer
	require.NoError(t, params.Save(&buf))

	_, err := LoadParameters(bytes.NewReader(buf.Bytes()), 4)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = LoadParameters(bytes.NewReader(buf.Bytes()), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = LoadParameters(bytes.NewReader([]byte(`{"features": 3, "weights": [[1]]}`)), 3)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSetWeightsShapeMismatchKeepsState(t *testing.T) {
	params, _ := testParameters(t, 2, 1)
	before := params.Weights()

	bad := params.Weights()
	bad[2] = append(bad[2], 0)

	assert.ErrorIs(t, params.SetWeights(bad), ErrShapeMismatch)
	assert.ErrorIs(t, params.SetWeights(bad[:4]), ErrShapeMismatch)
	assert.Equal(t, before, params.Weights())
}

func TestApply(t *testing.T) {
	params, _ := testParameters(t, 2, 1)
	before := params.Weights()

	grads := params.Weights()
	for i := range grads {
		for j := range grads[i] {
			grads[i][j] = 1
		}
	}

	require.NoError(t, params.Apply(grads, 0.5))

	after := params.Weights()
	for i := range after {
		for j := range after[i] {
			assert.InDelta(t, before[i][j]-0.5, after[i][j], 1e-12)
		}
	}

	assert.ErrorIs(t, params.Apply(grads[:2], 0.5), ErrShapeMismatch)
}
