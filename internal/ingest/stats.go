package ingest

import (
	"math"
	"sync/atomic"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

// Recorder receives loop events for metrics export.
type Recorder interface {
	TickReceived()
	BookReceived()
	StepSkipped()
	StepTaken(action domain.Action, reward float32)
	BatchFlushed(size int)
	EpsilonChanged(eps float32)
	LossObserved(loss float32)
}

type nopRecorder struct{}

func (nopRecorder) TickReceived()                    {}
func (nopRecorder) BookReceived()                    {}
func (nopRecorder) StepSkipped()                     {}
func (nopRecorder) StepTaken(domain.Action, float32) {}
func (nopRecorder) BatchFlushed(int)                 {}
func (nopRecorder) EpsilonChanged(float32)           {}
func (nopRecorder) LossObserved(float32)             {}

// StatsSnapshot is a point-in-time copy of loop counters.
type StatsSnapshot struct {
	Ticks          int64   `json:"ticks"`
	Books          int64   `json:"books"`
	Steps          int64   `json:"steps"`
	Skipped        int64   `json:"skipped"`
	Flushes        int64   `json:"flushes"`
	Pending        int64   `json:"pending"`
	MemorySize     int64   `json:"memory_size"`
	TickWindow     int64   `json:"tick_window"`
	BookWindow     int64   `json:"book_window"`
	Epsilon        float32 `json:"epsilon"`
	Holding        bool    `json:"holding"`
	EntryPrice     float64 `json:"entry_price"`
	ClosedTrades   int64   `json:"closed_trades"`
	RealizedReturn float64 `json:"realized_return"`
	LastLoss       float32 `json:"last_loss"`
}

// Stats is written by the loop goroutine and read from anywhere.
type Stats struct {
	ticks, books, steps, skipped, flushes atomic.Int64
	pending, memorySize, closedTrades     atomic.Int64
	tickWindow, bookWindow                atomic.Int64

	epsilon        atomic.Uint32
	lastLoss       atomic.Uint32
	holding        atomic.Bool
	entryPrice     atomic.Uint64
	realizedReturn atomic.Uint64
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Ticks:          s.ticks.Load(),
		Books:          s.books.Load(),
		Steps:          s.steps.Load(),
		Skipped:        s.skipped.Load(),
		Flushes:        s.flushes.Load(),
		Pending:        s.pending.Load(),
		MemorySize:     s.memorySize.Load(),
		TickWindow:     s.tickWindow.Load(),
		BookWindow:     s.bookWindow.Load(),
		Epsilon:        math.Float32frombits(s.epsilon.Load()),
		Holding:        s.holding.Load(),
		EntryPrice:     math.Float64frombits(s.entryPrice.Load()),
		ClosedTrades:   s.closedTrades.Load(),
		RealizedReturn: math.Float64frombits(s.realizedReturn.Load()),
		LastLoss:       math.Float32frombits(s.lastLoss.Load()),
	}
}

func (s *Stats) setEpsilon(v float32)        { s.epsilon.Store(math.Float32bits(v)) }
func (s *Stats) setLoss(v float32)           { s.lastLoss.Store(math.Float32bits(v)) }
func (s *Stats) setEntryPrice(v float64)     { s.entryPrice.Store(math.Float64bits(v)) }
func (s *Stats) setRealizedReturn(v float64) { s.realizedReturn.Store(math.Float64bits(v)) }
