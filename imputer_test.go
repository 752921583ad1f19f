package mgp

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Sample patient with both channels observed and a query grid of q points.
func testPatient(shift float64, q int) Patient {
	query := make([]float64, q)
	for i := range query {
		query[i] = shift + float64(i)
	}

	return Patient{
		Values:       []float64{1.0 + shift, 1.2, 5.0, 4.4 - shift},
		Times:        []float64{shift, shift + 1, shift, shift + 2.5},
		FeatureIndex: []int{0, 0, 1, 1},
		QueryTimes:   query,
		Static:       []float64{shift},
	}
}

// illConditionedPatient has a corrupt time stamp, so its covariance cannot be
// factorized whatever the jitter.
func illConditionedPatient() Patient {
	return Patient{
		Values:       []float64{1, 2},
		Times:        []float64{0, math.NaN()},
		FeatureIndex: []int{0, 1},
		QueryTimes:   []float64{0, 1},
	}
}

func testImputer(t *testing.T) *Imputer {
	t.Helper()

	config := DefaultConfig()
	config.Features = 2
	config.FastFeatures = 1
	config.GridWidth = 5
	config.MCSamples = 3
	config.Workers = 4
	config.Seed = 42
	config.Logger = testLogger()

	params, err := NewParameters(config, patientSource(config.Seed, 0))
	require.NoError(t, err)

	imputer, err := New(config, params)
	require.NoError(t, err)

	return imputer
}

// direct computes the draws of patient index without the batch machinery.
func direct(t *testing.T, im *Imputer, p Patient, index int) [][][]float64 {
	t.Helper()

	post, err := NewPosterior(im.Parameters().Snapshot(), p, im.Config().Jitter, nil)
	require.NoError(t, err)

	draws, err := post.Draw(patientSource(im.Config().Seed, index), im.Config().MCSamples)
	require.NoError(t, err)

	return draws
}

// assertPatient checks that block b of out holds exactly the aligned draws.
func assertPatient(t *testing.T, out *Tensor, b int, draws [][][]float64) {
	t.Helper()

	want := NewTensor(out.Shape()[0], out.Shape()[1], out.Shape()[2], out.Shape()[3])
	want.alignInto(b, draws)

	assert.Equal(t, want.Patient(b), out.Patient(b))
}

func TestImputeShape(t *testing.T) {
	imputer := testImputer(t)

	out, err := imputer.Impute(context.Background(), NewBatch([]Patient{
		testPatient(0, 5),
		testPatient(1, 2),
		testPatient(2, 9),
	}))
	require.NoError(t, err)

	assert.Equal(t, [4]int{3, 3, 5, 2}, out.Shape())
	assert.Zero(t, imputer.Ledger().Len())
}

func TestImputeRightAlignsShortGrids(t *testing.T) {
	imputer := testImputer(t)
	p := testPatient(0, 3)

	out, err := imputer.Impute(context.Background(), NewBatch([]Patient{p}))
	require.NoError(t, err)

	want := direct(t, imputer, p, 0)

	for s := 0; s < 3; s++ {
		for f := 0; f < 2; f++ {
			assert.Zero(t, out.At(0, s, 0, f))
			assert.Zero(t, out.At(0, s, 1, f))

			for q := 0; q < 3; q++ {
				assert.InDelta(t, want[s][q][f], out.At(0, s, 2+q, f), 1e-12)
			}
		}
	}
}

func TestImputeTruncatesLongGrids(t *testing.T) {
	imputer := testImputer(t)
	p := testPatient(0, 7)

	out, err := imputer.Impute(context.Background(), NewBatch([]Patient{p}))
	require.NoError(t, err)

	want := direct(t, imputer, p, 0)

	for s := 0; s < 3; s++ {
		for w := 0; w < 5; w++ {
			for f := 0; f < 2; f++ {
				assert.InDelta(t, want[s][w+2][f], out.At(0, s, w, f), 1e-12)
			}
		}
	}
}

func TestImputeIsolatesNumericalFailures(t *testing.T) {
	imputer := testImputer(t)

	good := []Patient{testPatient(0, 5), testPatient(1, 4), testPatient(2, 6)}

	clean, err := imputer.Impute(context.Background(), NewBatch(good))
	require.NoError(t, err)

	bad := []Patient{good[0], illConditionedPatient(), good[2]}

	out, err := imputer.Impute(context.Background(), NewBatch(bad))
	require.NoError(t, err)

	assert.Equal(t, [4]int{3, 3, 5, 2}, out.Shape())

	// The failing patient contributes zeros.
	for _, v := range out.Patient(1) {
		assert.Zero(t, v)
	}

	// The others are untouched, and match the patient evaluated on its own.
	assert.Equal(t, clean.Patient(0), out.Patient(0))
	assert.Equal(t, clean.Patient(2), out.Patient(2))

	assertPatient(t, out, 0, direct(t, imputer, good[0], 0))
	assertPatient(t, out, 2, direct(t, imputer, good[2], 2))

	failures := imputer.Ledger().Failures()
	require.Len(t, failures, 1)

	assert.Equal(t, 1, failures[0].PatientIndex)
	assert.ErrorIs(t, failures[0].Err, ErrNumericalInstability)
	assert.Equal(t, []float64{1, 2}, failures[0].Patient.Values)
	assert.NotNil(t, failures[0].Covariances)
}

func TestImputeLedgerPersistsUntilReset(t *testing.T) {
	imputer := testImputer(t)
	batch := NewBatch([]Patient{illConditionedPatient()})

	for i := 0; i < 2; i++ {
		_, err := imputer.Impute(context.Background(), batch)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, imputer.Ledger().Len())

	imputer.Ledger().Reset()
	assert.Zero(t, imputer.Ledger().Len())
}

func TestImputeIndependentOfWorkers(t *testing.T) {
	patients := []Patient{
		testPatient(0, 5), testPatient(1, 3), testPatient(2, 8),
		testPatient(3, 5), testPatient(4, 1), testPatient(5, 6),
	}

	var results [][]float64

	for _, workers := range []int{1, 3, 8} {
		imputer := testImputer(t)
		imputer.config.Workers = workers

		out, err := imputer.Impute(context.Background(), NewBatch(patients))
		require.NoError(t, err)

		results = append(results, out.Data())
	}

	assert.Equal(t, results[0], results[1])
	assert.Equal(t, results[0], results[2])
}

func TestImputeEmptyQueryGrid(t *testing.T) {
	imputer := testImputer(t)

	out, err := imputer.Impute(context.Background(), NewBatch([]Patient{
		testPatient(0, 0),
		testPatient(1, 5),
	}))
	require.NoError(t, err)

	for _, v := range out.Patient(0) {
		assert.Zero(t, v)
	}

	assert.Zero(t, imputer.Ledger().Len())
}

func TestImputeInvalidBatch(t *testing.T) {
	imputer := testImputer(t)

	p := testPatient(0, 3)
	p.FeatureIndex[1] = 9

	_, err := imputer.Impute(context.Background(), NewBatch([]Patient{testPatient(1, 3), p}))
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Zero(t, imputer.Ledger().Len())
}

func TestImputeEmptyBatch(t *testing.T) {
	out, err := testImputer(t).Impute(context.Background(), NewBatch(nil))
	require.NoError(t, err)

	assert.Equal(t, [4]int{0, 3, 5, 2}, out.Shape())
}

func TestImputeCancelled(t *testing.T) {
	imputer := testImputer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := imputer.Impute(ctx, NewBatch([]Patient{testPatient(0, 5), testPatient(1, 5)}))
	assert.ErrorIs(t, err, context.Canceled)
}

// cancelOnWarn cancels the pass as soon as a jitter escalation is logged.
type cancelOnWarn struct {
	slog.Handler
	cancel context.CancelFunc
}

func (h cancelOnWarn) Handle(_ context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		h.cancel()
	}

	return nil
}

func TestImputeCancelledMidBatchLeavesLedgerEmpty(t *testing.T) {
	imputer := testImputer(t)
	imputer.config.Workers = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	imputer.config.Logger = slog.New(cancelOnWarn{
		Handler: slog.NewTextHandler(io.Discard, nil),
		cancel:  cancel,
	})

	out, err := imputer.Impute(ctx, NewBatch([]Patient{
		illConditionedPatient(),
		testPatient(1, 5),
		testPatient(2, 5),
	}))

	assert.Nil(t, out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, imputer.Ledger().Len())
}

func TestImputeProgressChannel(t *testing.T) {
	imputer := testImputer(t)

	patients := []Patient{testPatient(0, 5), illConditionedPatient(), testPatient(2, 5)}

	// Create a channel large enough that no update is dropped.
	progressChan := make(chan ProgressUpdate, len(patients))
	imputer.config.ProgressChan = progressChan

	_, err := imputer.Impute(context.Background(), NewBatch(patients))
	require.NoError(t, err)

	close(progressChan)

	var (
		updates []ProgressUpdate
		failed  int
	)

	for update := range progressChan {
		updates = append(updates, update)

		if update.Failed {
			failed++
			assert.Equal(t, 1, update.PatientIndex)
		}

		assert.Equal(t, len(patients), update.Total)
		assert.Positive(t, update.Completed)
	}

	// Ensure events where emitted.
	assert.Len(t, updates, len(patients))
	assert.Equal(t, 1, failed)
}

func TestNewShapeMismatch(t *testing.T) {
	config := DefaultConfig()
	config.Features = 3
	config.FastFeatures = 1

	params, err := NewParameters(config, patientSource(1, 0))
	require.NoError(t, err)

	config.Features = 4

	_, err = New(config, params)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = New(config, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestImputeFeedsClassifierWithStatics(t *testing.T) {
	imputer := testImputer(t)
	patients := []Patient{testPatient(0, 5), testPatient(1, 5)}
	batch := NewBatch(patients)

	out, err := imputer.Impute(context.Background(), batch)
	require.NoError(t, err)

	withStatic, err := BroadcastStatic(out, batch.Static)
	require.NoError(t, err)

	assert.Equal(t, [4]int{2, 3, 5, 3}, withStatic.Shape())
	assert.Equal(t, 1.0, withStatic.At(1, 2, 4, 2))
}
