package domain

import "time"

// Side is the aggressor side of a trade tick.
type Side uint8

const (
	SideAsk Side = iota
	SideBid
)

// String returns the exchange spelling of the side.
func (s Side) String() string {
	switch s {
	case SideAsk:
		return "ASK"
	case SideBid:
		return "BID"
	default:
		return "UNKNOWN"
	}
}

// ParseSide converts an exchange side string ("ASK" or "BID").
func ParseSide(s string) (Side, bool) {
	switch s {
	case "ASK", "ask":
		return SideAsk, true
	case "BID", "bid":
		return SideBid, true
	default:
		return 0, false
	}
}

// TickEvent is one executed trade.
type TickEvent struct {
	Price     float64
	Volume    float64
	Side      Side
	Timestamp int64 // unix milliseconds
}

// Time returns the tick timestamp as a time.Time.
func (t TickEvent) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// OrderBookLevel is one depth rank of the book, best price first.
type OrderBookLevel struct {
	AskPrice float64 `json:"ask_price"`
	AskSize  float64 `json:"ask_size"`
	BidPrice float64 `json:"bid_price"`
	BidSize  float64 `json:"bid_size"`
}

// OrderBookSnapshot is a full replacement view of the book.
type OrderBookSnapshot struct {
	Timestamp int64            `json:"timestamp"` // unix milliseconds
	Levels    []OrderBookLevel `json:"levels"`
}

// BestAsk returns the first level's ask price, or 0 for an empty book.
func (s OrderBookSnapshot) BestAsk() float64 {
	if len(s.Levels) == 0 {
		return 0
	}
	return s.Levels[0].AskPrice
}

// BestBid returns the first level's bid price, or 0 for an empty book.
func (s OrderBookSnapshot) BestBid() float64 {
	if len(s.Levels) == 0 {
		return 0
	}
	return s.Levels[0].BidPrice
}
