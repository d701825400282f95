package feed

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

// envelope carries the discriminator shared by every Upbit message.
type envelope struct {
	Type string `json:"type"`
}

// tradeMessage is an Upbit "trade" push.
type tradeMessage struct {
	Code        string  `json:"code"`
	TradePrice  float64 `json:"trade_price"`
	TradeVolume float64 `json:"trade_volume"`
	AskBid      string  `json:"ask_bid"`
	Timestamp   int64   `json:"timestamp"`
}

// orderbookUnit is one depth rank inside an Upbit "orderbook" push.
type orderbookUnit struct {
	AskPrice float64 `json:"ask_price"`
	AskSize  float64 `json:"ask_size"`
	BidPrice float64 `json:"bid_price"`
	BidSize  float64 `json:"bid_size"`
}

// orderbookMessage is an Upbit "orderbook" push.
type orderbookMessage struct {
	Code           string          `json:"code"`
	Timestamp      int64           `json:"timestamp"`
	OrderbookUnits []orderbookUnit `json:"orderbook_units"`
}

// subscribeFrame builds the subscription request for trade and orderbook
// streams of one market code.
func subscribeFrame(ticket, market string) ([]byte, error) {
	codes := []string{market}
	return json.Marshal([]any{
		map[string]string{"ticket": ticket},
		map[string]any{"type": "trade", "codes": codes},
		map[string]any{"type": "orderbook", "codes": codes},
	})
}

// message is a decoded frame: exactly one of tick or book is set.
type message struct {
	tick *domain.TickEvent
	book *domain.OrderBookSnapshot
}

// parseMessage decodes one frame. Unknown types return an empty message and
// no error.
func parseMessage(raw []byte) (message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return message{}, fmt.Errorf("feed: envelope: %w", err)
	}

	switch env.Type {
	case "trade":
		var tm tradeMessage
		if err := json.Unmarshal(raw, &tm); err != nil {
			return message{}, fmt.Errorf("feed: trade: %w", err)
		}
		side, ok := domain.ParseSide(tm.AskBid)
		if !ok {
			return message{}, fmt.Errorf("feed: trade side %q", tm.AskBid)
		}
		if tm.TradePrice <= 0 || tm.TradeVolume < 0 {
			return message{}, fmt.Errorf("feed: trade price %v volume %v", tm.TradePrice, tm.TradeVolume)
		}
		return message{tick: &domain.TickEvent{
			Price:     tm.TradePrice,
			Volume:    tm.TradeVolume,
			Side:      side,
			Timestamp: tm.Timestamp,
		}}, nil

	case "orderbook":
		var om orderbookMessage
		if err := json.Unmarshal(raw, &om); err != nil {
			return message{}, fmt.Errorf("feed: orderbook: %w", err)
		}
		levels := make([]domain.OrderBookLevel, len(om.OrderbookUnits))
		for i, u := range om.OrderbookUnits {
			levels[i] = domain.OrderBookLevel{
				AskPrice: u.AskPrice,
				AskSize:  u.AskSize,
				BidPrice: u.BidPrice,
				BidSize:  u.BidSize,
			}
		}
		return message{book: &domain.OrderBookSnapshot{
			Timestamp: om.Timestamp,
			Levels:    levels,
		}}, nil

	default:
		return message{}, nil
	}
}
