package replay

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

func sampleWithReward(r float32) domain.ExperienceSample {
	return domain.ExperienceSample{Action: domain.ActionHold, Reward: r}
}

func items(m *Memory) []domain.ExperienceSample {
	out := make([]domain.ExperienceSample, m.ring.Len())
	for i := range out {
		out[i] = m.ring.At(i)
	}
	return out
}

func TestMemoryFIFOEviction(t *testing.T) {
	m := NewMemory(3, rand.New(rand.NewPCG(1, 1)))
	for i := 0; i < 5; i++ {
		m.Push(sampleWithReward(float32(i)))
	}
	require.Equal(t, 3, m.Len())

	items := items(m)
	assert.Equal(t, float32(2), items[0].Reward)
	assert.Equal(t, float32(4), items[2].Reward)
}

func TestMemorySampleDistinct(t *testing.T) {
	m := NewMemory(64, rand.New(rand.NewPCG(7, 9)))
	for i := 0; i < 100; i++ {
		m.Push(sampleWithReward(float32(i)))
	}

	for round := 0; round < 50; round++ {
		batch := m.Sample(32)
		require.Len(t, batch, 32)

		seen := map[float32]bool{}
		for _, s := range batch {
			assert.False(t, seen[s.Reward], "duplicate sample %v", s.Reward)
			seen[s.Reward] = true
			// Only the 64 newest rewards (36..99) are retained.
			assert.GreaterOrEqual(t, s.Reward, float32(36))
		}
	}
}

func TestMemorySampleWholeBuffer(t *testing.T) {
	m := NewMemory(5, nil)
	for i := 0; i < 5; i++ {
		m.Push(sampleWithReward(float32(i)))
	}
	batch := m.Sample(5)
	assert.ElementsMatch(t, items(m), batch)
}

func TestMemoryIsReady(t *testing.T) {
	m := NewMemory(10, nil)
	assert.True(t, m.IsReady(0))
	assert.False(t, m.IsReady(1))
	m.Push(sampleWithReward(1))
	assert.True(t, m.IsReady(1))
	assert.False(t, m.IsReady(2))
}

func TestMemorySampleGuard(t *testing.T) {
	m := NewMemory(10, nil)
	m.Push(sampleWithReward(1))

	assert.Panics(t, func() { m.Sample(2) })

	_, err := m.TrySample(2)
	assert.True(t, errors.Is(err, domain.ErrInsufficientSamples))

	batch, err := m.TrySample(1)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func TestMemoryExtend(t *testing.T) {
	m := NewMemory(4, nil)
	m.Extend([]domain.ExperienceSample{sampleWithReward(1), sampleWithReward(2)})
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, float32(2), items(m)[1].Reward)
}
