// Package trading holds the single-instrument position state machine that
// turns an action into a reward.
package trading

import "github.com/alanyoungcy/tickrl/internal/domain"

// InvalidActionPenalty is the reward for buying while long or selling while
// flat.
const InvalidActionPenalty float32 = -0.01

// Position is the current holding. EntryPrice is meaningful only while Held.
type Position struct {
	Held       bool
	EntryPrice float64
}

// State is the Flat/Long machine. It is owned by the ingestion goroutine.
type State struct {
	pos Position

	closedTrades   int
	realizedReturn float64
}

// NewState returns a flat State.
func NewState() *State { return &State{} }

// Position returns a copy of the current position.
func (s *State) Position() Position { return s.pos }

// ClosedTrades returns how many round trips have completed.
func (s *State) ClosedTrades() int { return s.closedTrades }

// RealizedReturn returns the sum of per-trade returns.
func (s *State) RealizedReturn() float64 { return s.realizedReturn }

// Step applies action at the tick's price and returns the reward together
// with next_state. next_state is features with avg_price replaced by the
// tick price and volume_sum and last_tick_size replaced by the tick volume;
// the rest of the vector is carried over unchanged. Out-of-range actions are
// treated as Hold.
func (s *State) Step(action domain.Action, tick domain.TickEvent, features domain.FeatureVector) (domain.FeatureVector, float32) {
	reward := s.transition(action.Normalize(), tick.Price)

	next := features
	next[domain.FeatAvgPrice] = float32(tick.Price)
	next[domain.FeatVolumeSum] = float32(tick.Volume)
	next[domain.FeatLastTickSize] = float32(tick.Volume)
	return next, reward
}

func (s *State) transition(action domain.Action, price float64) float32 {
	switch action {
	case domain.ActionBuy:
		if s.pos.Held {
			return InvalidActionPenalty
		}
		s.pos = Position{Held: true, EntryPrice: price}
		return 0

	case domain.ActionSell:
		if !s.pos.Held {
			return InvalidActionPenalty
		}
		var ret float64
		if s.pos.EntryPrice > 0 {
			ret = (price - s.pos.EntryPrice) / s.pos.EntryPrice
		}
		s.pos = Position{}
		s.closedTrades++
		s.realizedReturn += ret
		return float32(ret)

	default:
		return 0
	}
}
