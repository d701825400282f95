package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickrl/internal/agent"
	"github.com/alanyoungcy/tickrl/internal/domain"
	"github.com/alanyoungcy/tickrl/internal/market"
	"github.com/alanyoungcy/tickrl/internal/replay"
	"github.com/alanyoungcy/tickrl/internal/trading"
)

type fixedEstimator struct{ scores [domain.ActionCount]float32 }

func (f fixedEstimator) Predict(domain.FeatureVector) [domain.ActionCount]float32 { return f.scores }
func (fixedEstimator) Update([]domain.ExperienceSample) float32                   { return 0 }
func (fixedEstimator) Save(string) error                                          { return nil }
func (fixedEstimator) Load(string) error                                          { return nil }

type recordingSink struct {
	mu      sync.Mutex
	batches []Batch
	err     error
}

func (s *recordingSink) Flush(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := make([]domain.ExperienceSample, len(b.Samples))
	copy(cp, b.Samples)
	s.batches = append(s.batches, Batch{Samples: cp, Epsilon: b.Epsilon})
	return nil
}

type countingTrainer struct{ calls int }

func (c *countingTrainer) Train(context.Context, *replay.Memory) (float32, error) {
	c.calls++
	return 0.5, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLoop(t *testing.T, threshold int, sink BatchSink, trainer Trainer) *Loop {
	t.Helper()
	l, err := NewLoop(Config{
		BatchThreshold: threshold,
		PollTimeout:    5 * time.Millisecond,
		EpsilonDecay:   0.5,
		EpsilonFloor:   0,
	}, Deps{
		Storage:   market.NewStorage(50, 10),
		Estimator: fixedEstimator{scores: [3]float32{1, 0, 0}},
		Policy:    agent.NewPolicy(0, rand.New(rand.NewPCG(1, 1))),
		State:     trading.NewState(),
		Memory:    replay.NewMemory(100, nil),
		Sink:      sink,
		Trainer:   trainer,
	}, discardLogger())
	require.NoError(t, err)
	return l
}

func book() domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Timestamp: 1,
		Levels:    []domain.OrderBookLevel{{AskPrice: 101, AskSize: 1, BidPrice: 99, BidSize: 2}},
	}
}

func tickAt(i int) domain.TickEvent {
	return domain.TickEvent{Price: 100 + float64(i), Volume: 1, Side: domain.SideBid, Timestamp: int64(1000 + i*100)}
}

// feed sends events in order on unbuffered channels so the loop sees them
// exactly in that order, then closes both channels.
func feed(ticks chan<- domain.TickEvent, books chan<- domain.OrderBookSnapshot, events ...any) {
	for _, e := range events {
		switch v := e.(type) {
		case domain.TickEvent:
			ticks <- v
		case domain.OrderBookSnapshot:
			books <- v
		}
	}
	close(ticks)
	close(books)
}

func TestLoopSkipsUntilBookAndEnoughTicks(t *testing.T) {
	sink := &recordingSink{}
	l := newTestLoop(t, 10, sink, nil)

	ticks := make(chan domain.TickEvent)
	books := make(chan domain.OrderBookSnapshot)
	go feed(ticks, books, tickAt(0), tickAt(1), book(), tickAt(2), tickAt(3))

	require.NoError(t, l.Run(context.Background(), ticks, books))

	snap := l.Stats().Snapshot()
	assert.Equal(t, int64(4), snap.Ticks)
	assert.Equal(t, int64(1), snap.Books)
	// Two ticks before the book, one with a single stored tick.
	assert.Equal(t, int64(3), snap.Skipped)
	assert.Equal(t, int64(1), snap.Steps)
	// Ticks before the first book are not stored.
	assert.Equal(t, int64(2), snap.TickWindow)
	assert.Equal(t, int64(1), snap.BookWindow)

	// The partial batch is drained on close.
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0].Samples, 1)
}

func TestLoopFlushesAtThreshold(t *testing.T) {
	sink := &recordingSink{}
	trainer := &countingTrainer{}
	l := newTestLoop(t, 3, sink, trainer)

	ticks := make(chan domain.TickEvent)
	books := make(chan domain.OrderBookSnapshot)
	events := []any{book()}
	for i := 0; i < 7; i++ {
		events = append(events, tickAt(i))
	}
	go feed(ticks, books, events...)

	require.NoError(t, l.Run(context.Background(), ticks, books))

	// Six steps: two full batches, nothing left to drain.
	require.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[0].Samples, 3)
	assert.Len(t, sink.batches[1].Samples, 3)
	assert.Equal(t, float32(0), sink.batches[0].Epsilon)
	assert.Equal(t, 2, trainer.calls)

	first := sink.batches[0].Samples
	assert.Equal(t, domain.ActionBuy, first[0].Action)
	assert.Equal(t, float32(0), first[0].Reward)
	assert.Equal(t, trading.InvalidActionPenalty, first[1].Reward)

	snap := l.Stats().Snapshot()
	assert.Equal(t, int64(2), snap.Flushes)
	assert.Equal(t, int64(0), snap.Pending)
	assert.True(t, snap.Holding)
	assert.Equal(t, float32(0.5), snap.LastLoss)
	assert.Equal(t, float32(0), snap.Epsilon)
}

func TestLoopSinkFailureKeepsBatch(t *testing.T) {
	boom := errors.New("disk full")
	sink := &recordingSink{err: boom}
	l := newTestLoop(t, 2, sink, nil)

	ticks := make(chan domain.TickEvent)
	books := make(chan domain.OrderBookSnapshot)
	go func() {
		books <- book()
		for i := 0; i < 3; i++ {
			ticks <- tickAt(i)
		}
	}()

	err := l.Run(context.Background(), ticks, books)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Len(t, l.Pending(), 2)
}

func TestLoopCancelDrainsPartialBatch(t *testing.T) {
	sink := &recordingSink{}
	l := newTestLoop(t, 100, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan domain.TickEvent)
	books := make(chan domain.OrderBookSnapshot)
	go func() {
		books <- book()
		for i := 0; i < 4; i++ {
			ticks <- tickAt(i)
		}
		cancel()
	}()

	err := l.Run(ctx, ticks, books)
	assert.True(t, errors.Is(err, context.Canceled))
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0].Samples, 3)
}

func TestNewLoopValidates(t *testing.T) {
	_, err := NewLoop(Config{BatchThreshold: 1}, Deps{}, discardLogger())
	assert.Error(t, err)

	_, err = NewLoop(Config{BatchThreshold: 0}, Deps{
		Storage:   market.NewStorage(1, 1),
		Estimator: fixedEstimator{},
		Policy:    agent.NewPolicy(0, nil),
		State:     trading.NewState(),
		Memory:    replay.NewMemory(1, nil),
		Sink:      &recordingSink{},
	}, discardLogger())
	assert.Error(t, err)
}
