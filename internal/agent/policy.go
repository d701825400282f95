// Package agent implements epsilon-greedy action selection over the value
// estimator's per-action scores.
package agent

import (
	"math"
	"math/rand/v2"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

// Policy chooses actions epsilon-greedily. Epsilon only moves down through
// Decay unless Reset is called explicitly. Policy is not safe for concurrent
// use.
type Policy struct {
	epsilon float32
	rng     *rand.Rand
}

// NewPolicy creates a Policy starting at epsilon, drawing randomness from rng.
// A nil rng is replaced by one seeded from the runtime.
func NewPolicy(epsilon float32, rng *rand.Rand) *Policy {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Policy{epsilon: clamp01(epsilon), rng: rng}
}

// Epsilon returns the current exploration probability.
func (p *Policy) Epsilon() float32 { return p.epsilon }

// SelectAction explores with probability epsilon and otherwise returns the
// index of the largest value, the first one on ties. Empty or all-NaN input
// always yields Hold.
func (p *Policy) SelectAction(values []float32) domain.Action {
	best, ok := argmax(values)
	if !ok {
		return domain.ActionHold
	}
	if p.rng.Float32() < p.epsilon {
		return domain.Action(p.rng.IntN(domain.ActionCount))
	}
	return domain.Action(best)
}

// Decay sets epsilon to max(epsilon*rate, floor).
func (p *Policy) Decay(rate, floor float32) {
	p.epsilon = max(p.epsilon*rate, floor)
}

// Reset restores epsilon to an explicit value.
func (p *Policy) Reset(epsilon float32) {
	p.epsilon = clamp01(epsilon)
}

// argmax looks at the first ActionCount entries, skips NaN and keeps the
// earliest index among equal maxima.
func argmax(values []float32) (int, bool) {
	if len(values) > domain.ActionCount {
		values = values[:domain.ActionCount]
	}
	best := -1
	for i, v := range values {
		if math.IsNaN(float64(v)) {
			continue
		}
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best, best >= 0
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
