package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

func tick(price float64) domain.TickEvent {
	return domain.TickEvent{Price: price, Volume: 2, Side: domain.SideBid, Timestamp: 1}
}

func TestRoundTrip(t *testing.T) {
	s := NewState()
	var fv domain.FeatureVector

	_, r := s.Step(domain.ActionBuy, tick(100), fv)
	assert.Equal(t, float32(0), r)
	assert.Equal(t, Position{Held: true, EntryPrice: 100}, s.Position())

	_, r = s.Step(domain.ActionSell, tick(110), fv)
	assert.InDelta(t, 0.10, r, 1e-6)
	assert.False(t, s.Position().Held)

	_, r = s.Step(domain.ActionSell, tick(120), fv)
	assert.Equal(t, InvalidActionPenalty, r)
	assert.False(t, s.Position().Held)

	assert.Equal(t, 1, s.ClosedTrades())
	assert.InDelta(t, 0.10, s.RealizedReturn(), 1e-9)
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name     string
		held     bool
		action   domain.Action
		price    float64
		wantHeld bool
		wantRew  float32
	}{
		{"flat buy", false, domain.ActionBuy, 50, true, 0},
		{"long buy", true, domain.ActionBuy, 50, true, InvalidActionPenalty},
		{"long sell loss", true, domain.ActionSell, 90, false, -0.1},
		{"flat sell", false, domain.ActionSell, 50, false, InvalidActionPenalty},
		{"flat hold", false, domain.ActionHold, 50, false, 0},
		{"long hold", true, domain.ActionHold, 50, true, 0},
		{"long invalid", true, domain.Action(7), 50, true, 0},
		{"flat negative", false, domain.Action(-1), 50, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			if tt.held {
				s.Step(domain.ActionBuy, tick(100), domain.FeatureVector{})
			}
			_, r := s.Step(tt.action, tick(tt.price), domain.FeatureVector{})
			assert.InDelta(t, tt.wantRew, r, 1e-6)
			assert.Equal(t, tt.wantHeld, s.Position().Held)
		})
	}
}

func TestLongBuyKeepsEntry(t *testing.T) {
	s := NewState()
	s.Step(domain.ActionBuy, tick(100), domain.FeatureVector{})
	s.Step(domain.ActionBuy, tick(150), domain.FeatureVector{})
	assert.Equal(t, 100.0, s.Position().EntryPrice)
}

func TestNextStatePatchesTickFields(t *testing.T) {
	s := NewState()
	var fv domain.FeatureVector
	for i := range fv {
		fv[i] = float32(i + 1)
	}

	next, _ := s.Step(domain.ActionHold, domain.TickEvent{Price: 42, Volume: 7}, fv)

	want := fv
	want[domain.FeatAvgPrice] = 42
	want[domain.FeatVolumeSum] = 7
	want[domain.FeatLastTickSize] = 7
	assert.Equal(t, want, next)

	// The input vector is a value and must not be touched.
	assert.Equal(t, float32(1), fv[domain.FeatAvgPrice])
}
