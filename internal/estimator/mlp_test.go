package estimator

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

func newTestMLP(t *testing.T, seed uint64) *MLP {
	t.Helper()
	m, err := New(Config{Device: "cpu", LearningRate: 0.01, Gamma: 0.9, TDClip: 1, Seed: seed})
	require.NoError(t, err)
	return m
}

func state(v float32) domain.FeatureVector {
	var fv domain.FeatureVector
	for i := range fv {
		fv[i] = v * float32(i+1) / 12
	}
	return fv
}

func TestNewRejectsUnknownDevice(t *testing.T) {
	_, err := New(Config{Device: "cuda"})
	assert.True(t, errors.Is(err, domain.ErrUnsupportedDevice))

	m, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DeviceCPU, m.cfg.Device)
}

func TestPredictIsDeterministicPerSeed(t *testing.T) {
	a := newTestMLP(t, 42)
	b := newTestMLP(t, 42)
	c := newTestMLP(t, 43)

	s := state(1)
	assert.Equal(t, a.Predict(s), b.Predict(s))
	assert.NotEqual(t, a.Predict(s), c.Predict(s))
}

func TestUpdateReducesLoss(t *testing.T) {
	// Gamma 0 turns the TD target into a fixed regression target.
	m, err := New(Config{LearningRate: 0.01, TDClip: 1, Seed: 7})
	require.NoError(t, err)
	batch := []domain.ExperienceSample{
		{State: state(1), Action: domain.ActionBuy, Reward: 1, NextState: state(0)},
		{State: state(-1), Action: domain.ActionSell, Reward: -1, NextState: state(0)},
		{State: state(0.5), Action: domain.ActionHold, Reward: 0, NextState: state(0)},
	}

	first := m.Update(batch)
	var last float32
	for i := 0; i < 300; i++ {
		last = m.Update(batch)
	}
	assert.Less(t, last, first)
}

func TestUpdateEmptyBatch(t *testing.T) {
	m := newTestMLP(t, 1)
	before := m.Predict(state(1))
	assert.Equal(t, float32(0), m.Update(nil))
	assert.Equal(t, before, m.Predict(state(1)))
}

func TestCheckpointRoundTrip(t *testing.T) {
	src := newTestMLP(t, 1)
	src.Update([]domain.ExperienceSample{{State: state(1), Action: domain.ActionSell, Reward: 0.5}})

	var buf bytes.Buffer
	require.NoError(t, src.Checkpoint(&buf))

	dst := newTestMLP(t, 2)
	require.NotEqual(t, src.Predict(state(1)), dst.Predict(state(1)))
	require.NoError(t, dst.Restore(&buf))
	assert.Equal(t, src.Predict(state(1)), dst.Predict(state(1)))
}

func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	src := newTestMLP(t, 3)
	require.NoError(t, src.Save(path))

	dst := newTestMLP(t, 4)
	require.NoError(t, dst.Load(path))
	assert.Equal(t, src.Predict(state(2)), dst.Predict(state(2)))
}

func TestRestoreRejectsShapeMismatch(t *testing.T) {
	m := newTestMLP(t, 1)
	bad := &MLP{layers: []layer{{in: 12, out: 3, w: make([]float32, 36), b: make([]float32, 3)}}}

	var buf bytes.Buffer
	require.NoError(t, bad.Checkpoint(&buf))

	before := m.Predict(state(1))
	err := m.Restore(&buf)
	assert.True(t, errors.Is(err, domain.ErrShapeMismatch))
	assert.Equal(t, before, m.Predict(state(1)))
}

func TestRestoreRejectsGarbage(t *testing.T) {
	m := newTestMLP(t, 1)
	assert.Error(t, m.Restore(bytes.NewReader([]byte{0xff, 0xff, 0xff})))
}
