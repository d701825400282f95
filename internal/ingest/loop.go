// Package ingest runs the consumer side of the market feed: it drains the
// tick and book channels, keeps bounded history, and turns each tick into an
// experience sample.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tickrl/internal/agent"
	"github.com/alanyoungcy/tickrl/internal/domain"
	"github.com/alanyoungcy/tickrl/internal/features"
	"github.com/alanyoungcy/tickrl/internal/market"
	"github.com/alanyoungcy/tickrl/internal/replay"
	"github.com/alanyoungcy/tickrl/internal/trading"
)

// drainTimeout bounds the final flush after the context is cancelled.
const drainTimeout = 10 * time.Second

// Batch is a group of samples handed to the sink once the threshold is hit.
type Batch struct {
	Samples []domain.ExperienceSample
	Epsilon float32
}

// BatchSink persists a flushed batch.
type BatchSink interface {
	Flush(ctx context.Context, b Batch) error
}

// Trainer improves the estimator from the replay memory after each flush.
// It returns the last training loss, or 0 when it skipped.
type Trainer interface {
	Train(ctx context.Context, mem *replay.Memory) (float32, error)
}

// Config tunes the loop.
type Config struct {
	BatchThreshold int
	PollTimeout    time.Duration
	EpsilonDecay   float32
	EpsilonFloor   float32
}

// Deps are the collaborators the loop drives. Storage, Estimator, Policy,
// State, Memory and Sink are required.
type Deps struct {
	Storage   *market.Storage
	Estimator domain.ValueEstimator
	Policy    *agent.Policy
	State     *trading.State
	Memory    *replay.Memory
	Sink      BatchSink
	Trainer   Trainer
	Recorder  Recorder
}

// Loop owns all pipeline state. Only the goroutine calling Run touches it;
// Stats is the exception and is safe to read concurrently.
type Loop struct {
	cfg  Config
	deps Deps

	stats    *Stats
	pending  []domain.ExperienceSample
	bookSeen bool

	logger *slog.Logger
}

// NewLoop validates deps and builds a Loop.
func NewLoop(cfg Config, deps Deps, logger *slog.Logger) (*Loop, error) {
	if deps.Storage == nil || deps.Estimator == nil || deps.Policy == nil ||
		deps.State == nil || deps.Memory == nil || deps.Sink == nil {
		return nil, errors.New("ingest: storage, estimator, policy, state, memory and sink are required")
	}
	if cfg.BatchThreshold < 1 {
		return nil, fmt.Errorf("ingest: batch threshold must be positive, got %d", cfg.BatchThreshold)
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}

	l := &Loop{
		cfg:     cfg,
		deps:    deps,
		stats:   &Stats{},
		pending: make([]domain.ExperienceSample, 0, cfg.BatchThreshold),
		logger:  logger.With(slog.String("component", "ingest")),
	}
	l.stats.setEpsilon(deps.Policy.Epsilon())
	deps.Recorder.EpsilonChanged(deps.Policy.Epsilon())
	return l, nil
}

// Stats exposes live counters.
func (l *Loop) Stats() *Stats { return l.stats }

// Pending returns a copy of samples not yet handed to the sink. After a
// failed flush this is the batch the sink rejected.
func (l *Loop) Pending() []domain.ExperienceSample {
	out := make([]domain.ExperienceSample, len(l.pending))
	copy(out, l.pending)
	return out
}

// Run drains both channels until ctx is cancelled or both channels close.
// Any partial batch is handed to the sink before Run returns. A sink or
// trainer failure stops the loop and is returned.
func (l *Loop) Run(ctx context.Context, ticks <-chan domain.TickEvent, books <-chan domain.OrderBookSnapshot) error {
	poller := NewPoller(ticks, books, l.cfg.PollTimeout)
	l.logger.InfoContext(ctx, "ingestion loop started",
		slog.Int("batch_threshold", l.cfg.BatchThreshold),
		slog.Duration("poll_timeout", poller.timeout),
	)

	for {
		ev, err := poller.Next(ctx)
		if err != nil {
			return l.stop(ctx, err)
		}

		switch ev.Kind {
		case EventBook:
			l.handleBook(ev.Book)
		case EventTick:
			if err := l.handleTick(ctx, ev.Tick); err != nil {
				return err
			}
		}
	}
}

// stop drains the partial batch and reports why the loop ended.
func (l *Loop) stop(ctx context.Context, cause error) error {
	if errors.Is(cause, ErrFeedClosed) {
		l.logger.InfoContext(ctx, "feed closed, draining")
		return l.drain(ctx)
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	if err := l.drain(dctx); err != nil {
		l.logger.ErrorContext(ctx, "final flush failed", slog.String("error", err.Error()))
		return err
	}
	return cause
}

func (l *Loop) drain(ctx context.Context) error {
	if len(l.pending) == 0 {
		return nil
	}
	return l.flush(ctx)
}

func (l *Loop) handleBook(b domain.OrderBookSnapshot) {
	l.deps.Storage.PushOrderBook(b)
	l.bookSeen = true
	l.stats.bookWindow.Store(int64(l.deps.Storage.BookCount()))
	l.stats.books.Add(1)
	l.deps.Recorder.BookReceived()
}

func (l *Loop) handleTick(ctx context.Context, tick domain.TickEvent) error {
	l.stats.ticks.Add(1)
	l.deps.Recorder.TickReceived()

	if !l.bookSeen {
		l.skip()
		return nil
	}
	l.deps.Storage.PushTick(tick)
	l.stats.tickWindow.Store(int64(l.deps.Storage.TickCount()))

	state, ok := features.Analyze(l.deps.Storage)
	if !ok {
		l.skip()
		return nil
	}

	scores := l.deps.Estimator.Predict(state)
	action := l.deps.Policy.SelectAction(scores[:])
	next, reward := l.deps.State.Step(action, tick, state)

	sample := domain.ExperienceSample{
		State:     state,
		Action:    action,
		Reward:    reward,
		NextState: next,
	}
	l.deps.Memory.Push(sample)
	l.pending = append(l.pending, sample)
	l.recordStep(action, reward)

	l.logger.DebugContext(ctx, "step",
		slog.String("action", action.String()),
		slog.Time("tick_time", tick.Time()),
		slog.Float64("price", tick.Price),
		slog.Float64("reward", float64(reward)),
	)

	if len(l.pending) >= l.cfg.BatchThreshold {
		return l.flush(ctx)
	}
	return nil
}

func (l *Loop) skip() {
	l.stats.skipped.Add(1)
	l.deps.Recorder.StepSkipped()
}

func (l *Loop) recordStep(action domain.Action, reward float32) {
	pos := l.deps.State.Position()
	l.stats.steps.Add(1)
	l.stats.pending.Store(int64(len(l.pending)))
	l.stats.memorySize.Store(int64(l.deps.Memory.Len()))
	l.stats.holding.Store(pos.Held)
	l.stats.setEntryPrice(pos.EntryPrice)
	l.stats.closedTrades.Store(int64(l.deps.State.ClosedTrades()))
	l.stats.setRealizedReturn(l.deps.State.RealizedReturn())
	l.deps.Recorder.StepTaken(action, reward)
}

// flush hands the pending batch to the sink, then decays epsilon and runs
// the trainer. The batch is cleared only after the sink accepted it.
func (l *Loop) flush(ctx context.Context) error {
	batch := Batch{Samples: l.pending, Epsilon: l.deps.Policy.Epsilon()}
	if err := l.deps.Sink.Flush(ctx, batch); err != nil {
		return fmt.Errorf("ingest: flush %d samples: %w", len(batch.Samples), err)
	}
	size := len(batch.Samples)
	l.pending = make([]domain.ExperienceSample, 0, l.cfg.BatchThreshold)
	l.stats.pending.Store(0)
	l.stats.flushes.Add(1)
	l.deps.Recorder.BatchFlushed(size)

	if l.cfg.EpsilonDecay > 0 {
		l.deps.Policy.Decay(l.cfg.EpsilonDecay, l.cfg.EpsilonFloor)
		eps := l.deps.Policy.Epsilon()
		l.stats.setEpsilon(eps)
		l.deps.Recorder.EpsilonChanged(eps)
	}

	l.logger.InfoContext(ctx, "batch flushed",
		slog.Int("size", size),
		slog.Float64("epsilon", float64(l.deps.Policy.Epsilon())),
		slog.Bool("holding", l.deps.State.Position().Held),
		slog.Int("memory", l.deps.Memory.Len()),
	)

	if l.deps.Trainer == nil {
		return nil
	}
	loss, err := l.deps.Trainer.Train(ctx, l.deps.Memory)
	if err != nil {
		return fmt.Errorf("ingest: train: %w", err)
	}
	if loss != 0 {
		l.stats.setLoss(loss)
		l.deps.Recorder.LossObserved(loss)
	}
	return nil
}
