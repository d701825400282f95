package agent

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func TestSelectActionGreedy(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		name   string
		values []float32
		want   domain.Action
	}{
		{"max at sell", []float32{0.1, 0.9, 0.3}, domain.ActionSell},
		{"tie keeps first", []float32{0.5, 0.5, 0.1}, domain.ActionBuy},
		{"all equal", []float32{1, 1, 1}, domain.ActionBuy},
		{"nan skipped", []float32{nan, 0.2, 0.7}, domain.ActionHold},
		{"nan first then tie", []float32{nan, 0.4, 0.4}, domain.ActionSell},
		{"all nan", []float32{nan, nan, nan}, domain.ActionHold},
		{"empty", nil, domain.ActionHold},
		{"negative", []float32{-3, -1, -2}, domain.ActionSell},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy(0, seeded())
			assert.Equal(t, tt.want, p.SelectAction(tt.values))
		})
	}
}

func TestSelectActionFullExplorationCoversAllActions(t *testing.T) {
	p := NewPolicy(1, seeded())
	seen := map[domain.Action]int{}
	for i := 0; i < 3000; i++ {
		a := p.SelectAction([]float32{10, 0, 0})
		assert.True(t, a.Valid())
		seen[a]++
	}
	assert.Len(t, seen, domain.ActionCount)
	for a, n := range seen {
		assert.Greater(t, n, 800, a.String())
	}
}

func TestSelectActionEmptyIgnoresExploration(t *testing.T) {
	p := NewPolicy(1, seeded())
	for i := 0; i < 50; i++ {
		assert.Equal(t, domain.ActionHold, p.SelectAction(nil))
	}
}

func TestDecayConvergesToFloor(t *testing.T) {
	p := NewPolicy(0.9, seeded())
	prev := p.Epsilon()
	for i := 0; i < 1000; i++ {
		p.Decay(0.99, 0.05)
		eps := p.Epsilon()
		assert.LessOrEqual(t, eps, prev)
		assert.GreaterOrEqual(t, eps, float32(0.05))
		prev = eps
	}
	assert.Equal(t, float32(0.05), p.Epsilon())
}

func TestDecayRateOneIsStable(t *testing.T) {
	p := NewPolicy(0.3, seeded())
	p.Decay(1, 0.05)
	assert.Equal(t, float32(0.3), p.Epsilon())
}

func TestResetClamps(t *testing.T) {
	p := NewPolicy(2, seeded())
	assert.Equal(t, float32(1), p.Epsilon())
	p.Reset(-1)
	assert.Equal(t, float32(0), p.Epsilon())
}
