// Package replay holds the bounded experience memory and the flattened
// record format used to persist experience batches.
package replay

import (
	"fmt"
	"math/rand/v2"

	"github.com/alanyoungcy/tickrl/internal/domain"
	"github.com/alanyoungcy/tickrl/internal/market"
)

// Memory is a bounded FIFO of experience samples with uniform sampling
// without replacement. It is not safe for concurrent use.
type Memory struct {
	ring *market.Ring[domain.ExperienceSample]
	rng  *rand.Rand
}

// NewMemory creates a Memory holding at most capacity samples.
func NewMemory(capacity int, rng *rand.Rand) *Memory {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Memory{
		ring: market.NewRing[domain.ExperienceSample](capacity),
		rng:  rng,
	}
}

// Push appends a sample, evicting the oldest when full.
func (m *Memory) Push(s domain.ExperienceSample) { m.ring.Push(s) }

// Extend pushes every sample in order.
func (m *Memory) Extend(samples []domain.ExperienceSample) {
	for _, s := range samples {
		m.ring.Push(s)
	}
}

// Len returns the number of retained samples.
func (m *Memory) Len() int { return m.ring.Len() }

// Cap returns the capacity.
func (m *Memory) Cap() int { return m.ring.Cap() }

// IsReady reports whether Sample(batchSize) may be called.
func (m *Memory) IsReady(batchSize int) bool { return m.ring.Len() >= batchSize }

// Sample draws batchSize distinct samples uniformly. Calling it when
// IsReady(batchSize) is false is a programming error and panics.
func (m *Memory) Sample(batchSize int) []domain.ExperienceSample {
	if batchSize < 0 || !m.IsReady(batchSize) {
		panic(fmt.Sprintf("replay: sample %d from memory of %d", batchSize, m.ring.Len()))
	}

	// Partial Fisher-Yates over indices: the first batchSize slots end up a
	// uniform draw without replacement.
	n := m.ring.Len()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	out := make([]domain.ExperienceSample, batchSize)
	for i := 0; i < batchSize; i++ {
		j := i + m.rng.IntN(n-i)
		idx[i], idx[j] = idx[j], idx[i]
		out[i] = m.ring.At(idx[i])
	}
	return out
}

// TrySample is Sample guarded by IsReady.
func (m *Memory) TrySample(batchSize int) ([]domain.ExperienceSample, error) {
	if batchSize < 0 || !m.IsReady(batchSize) {
		return nil, fmt.Errorf("replay: want %d have %d: %w", batchSize, m.ring.Len(), domain.ErrInsufficientSamples)
	}
	return m.Sample(batchSize), nil
}
