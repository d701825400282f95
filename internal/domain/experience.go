package domain

// ActionCount is the number of discrete actions.
const ActionCount = 3

// Action is a discrete trading decision.
type Action int

const (
	ActionBuy Action = iota
	ActionSell
	ActionHold
)

// Valid reports whether a is one of Buy, Sell or Hold.
func (a Action) Valid() bool {
	return a >= ActionBuy && a <= ActionHold
}

// Normalize maps any out-of-range action to Hold.
func (a Action) Normalize() Action {
	if !a.Valid() {
		return ActionHold
	}
	return a
}

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionHold:
		return "hold"
	default:
		return "invalid"
	}
}

// ExperienceSample is one (state, action, reward, next_state) transition.
type ExperienceSample struct {
	State     FeatureVector
	Action    Action
	Reward    float32
	NextState FeatureVector
}
