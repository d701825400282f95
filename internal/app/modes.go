package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tickrl/internal/agent"
	"github.com/alanyoungcy/tickrl/internal/domain"
	"github.com/alanyoungcy/tickrl/internal/estimator"
	"github.com/alanyoungcy/tickrl/internal/feed"
	"github.com/alanyoungcy/tickrl/internal/ingest"
	"github.com/alanyoungcy/tickrl/internal/market"
	"github.com/alanyoungcy/tickrl/internal/metrics"
	"github.com/alanyoungcy/tickrl/internal/notify"
	"github.com/alanyoungcy/tickrl/internal/pipeline"
	"github.com/alanyoungcy/tickrl/internal/replay"
	"github.com/alanyoungcy/tickrl/internal/server"
	"github.com/alanyoungcy/tickrl/internal/server/handler"
	"github.com/alanyoungcy/tickrl/internal/server/ws"
	"github.com/alanyoungcy/tickrl/internal/trading"
)

// wsBacklog is how many recent flush events a new dashboard client sees.
const wsBacklog = 20

// CollectMode streams the live feed through the ingestion loop and flushes
// experience batches. Training runs after each flush only when
// train.on_flush is set.
func (a *App) CollectMode(ctx context.Context, deps *Dependencies) error {
	return a.runLive(ctx, deps, a.cfg.Train.OnFlush)
}

// FullMode is CollectMode with training after every flush.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	return a.runLive(ctx, deps, true)
}

// TrainMode trains the estimator from archived replay batches, then
// returns.
func (a *App) TrainMode(ctx context.Context, deps *Dependencies) error {
	if deps.BlobReader == nil && deps.Store == nil {
		return errors.New("app: train mode requires s3 or postgres")
	}
	est, err := a.newEstimator(ctx, deps)
	if err != nil {
		return err
	}
	trainer := a.newTrainer(est, deps)

	loss, err := trainer.TrainArchive(ctx, a.cfg.Train.ArchivePrefix)
	if err != nil {
		return fmt.Errorf("app: train: %w", err)
	}
	a.logger.InfoContext(ctx, "training finished", slog.Float64("loss", float64(loss)))
	_ = deps.Notifier.Notify(ctx, notify.EventTrained,
		fmt.Sprintf("tickrl trained %s", a.cfg.Feed.Market),
		fmt.Sprintf("loss %.6f, checkpoint %s", loss, a.cfg.Estimator.CheckpointPath))
	return nil
}

func (a *App) runLive(ctx context.Context, deps *Dependencies, trainOnFlush bool) error {
	cfg := a.cfg

	est, err := a.newEstimator(ctx, deps)
	if err != nil {
		return err
	}

	upbit := feed.NewUpbit(feed.Config{
		URL:              cfg.Feed.URL,
		Market:           cfg.Feed.Market,
		ChannelCapacity:  cfg.Feed.ChannelCapacity,
		ReconnectDelay:   cfg.Feed.ReconnectDelay.Duration,
		HandshakeTimeout: cfg.Feed.HandshakeTimeout.Duration,
	}, deps.BookCache, a.logger)

	m := metrics.New(cfg.Feed.Market)
	loopDeps := ingest.Deps{
		Storage:   market.NewStorage(cfg.Market.TickCapacity, cfg.Market.BookCapacity),
		Estimator: est,
		Policy:    agent.NewPolicy(float32(cfg.Agent.Epsilon), seededRand(cfg.Agent.Seed)),
		State:     trading.NewState(),
		Memory:    replay.NewMemory(cfg.Memory.Capacity, seededRand(cfg.Agent.Seed)),
		Sink:      pipeline.NewFlusher(cfg.Feed.Market, deps.BlobWriter, deps.Store, deps.SignalBus, a.logger),
		Recorder:  m,
	}
	if trainOnFlush {
		loopDeps.Trainer = a.newTrainer(est, deps)
	}

	loop, err := ingest.NewLoop(ingest.Config{
		BatchThreshold: cfg.Memory.BatchThreshold,
		PollTimeout:    cfg.Market.PollTimeout.Duration,
		EpsilonDecay:   float32(cfg.Agent.EpsilonDecay),
		EpsilonFloor:   float32(cfg.Agent.EpsilonFloor),
	}, loopDeps, a.logger)
	if err != nil {
		return fmt.Errorf("app: build loop: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		mode := cfg.Mode
		status := handler.NewStatusHandler(mode, cfg.Feed.Market, loop.Stats(), upbit)
		hub := ws.NewHub(func() any {
			return map[string]any{
				"mode":           mode,
				"market":         cfg.Feed.Market,
				"feed_connected": upbit.Connected(),
				"loop":           loop.Stats().Snapshot(),
			}
		}, a.logger)

		var flushes <-chan []byte
		if deps.SignalBus != nil {
			flushes, err = deps.SignalBus.Subscribe(ctx, pipeline.FlushChannel)
			if err != nil {
				return fmt.Errorf("app: subscribe %s: %w", pipeline.FlushChannel, err)
			}
			hub.SetBacklog(flushBacklog(deps.SignalBus, wsBacklog))
		}

		srv := server.NewServer(server.Config{
			Addr:        cfg.Server.Addr(),
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
		}, server.Handlers{
			Health:  handler.NewHealthHandler(deps.Health, a.logger),
			Status:  status,
			Batches: handler.NewBatchHandler(deps.Store, cfg.Feed.Market, a.logger),
			Book:    handler.NewBookHandler(deps.BookCache, cfg.Feed.Market, a.logger),
			Metrics: m.Handler(),
			Hub:     hub,
		}, a.logger)

		g.Go(func() error { return ignoreCanceled(hub.Run(ctx, flushes)) })
		g.Go(func() error { return srv.Run(ctx) })
	}

	g.Go(func() error { return upbit.Run(ctx) })
	g.Go(func() error { return loop.Run(ctx, upbit.Ticks(), upbit.Books()) })

	err = g.Wait()
	a.keepPending(loop.Pending())
	return err
}

// keepPending saves samples the sink never accepted and returns the file
// path, or "" when there was nothing to save or the write failed.
func (a *App) keepPending(pending []domain.ExperienceSample) string {
	if len(pending) == 0 {
		return ""
	}
	path, err := a.savePending(pending)
	if err != nil {
		a.logger.Error("unflushed samples lost",
			slog.Int("count", len(pending)),
			slog.String("error", err.Error()),
		)
		return ""
	}
	a.logger.Warn("unflushed samples saved",
		slog.Int("count", len(pending)),
		slog.String("path", path),
	)
	return path
}

// savePending writes samples to pending-<unix>.csv next to the checkpoint,
// in the replay CSV format.
func (a *App) savePending(samples []domain.ExperienceSample) (string, error) {
	dir := filepath.Dir(a.cfg.Estimator.CheckpointPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("app: pending dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("pending-%d.csv", time.Now().Unix()))
	if err := replay.SaveFile(path, samples); err != nil {
		return "", err
	}
	return path, nil
}

// flushBacklog replays the newest flush events from the durable stream.
func flushBacklog(bus domain.SignalBus, n int) ws.BacklogFunc {
	return func(ctx context.Context) ([][]byte, error) {
		msgs, err := bus.StreamTail(ctx, pipeline.FlushStream, n)
		if err != nil {
			return nil, err
		}
		out := make([][]byte, len(msgs))
		for i, m := range msgs {
			out[i] = m.Payload
		}
		return out, nil
	}
}

func (a *App) newTrainer(est *estimator.MLP, deps *Dependencies) *pipeline.Trainer {
	return pipeline.NewTrainer(pipeline.TrainerConfig{
		Market:         a.cfg.Feed.Market,
		Epochs:         a.cfg.Train.Epochs,
		BatchSize:      a.cfg.Train.BatchSize,
		CheckpointPath: a.cfg.Estimator.CheckpointPath,
		MemoryCapacity: a.cfg.Memory.Capacity,
	}, est, deps.BlobWriter, deps.BlobReader, deps.Store, a.logger)
}

// newEstimator builds the MLP and, with estimator.resume set, restores the
// local checkpoint or, failing that, the market's checkpoint in the blob
// store.
func (a *App) newEstimator(ctx context.Context, deps *Dependencies) (*estimator.MLP, error) {
	ec := a.cfg.Estimator
	est, err := estimator.New(estimator.Config{
		Device:       strings.ToLower(ec.Device),
		LearningRate: float32(ec.LearningRate),
		Gamma:        float32(ec.Gamma),
		TDClip:       float32(ec.TDClip),
		Seed:         uint64(ec.Seed),
	})
	if err != nil {
		return nil, fmt.Errorf("app: estimator: %w", err)
	}
	if !ec.Resume {
		return est, nil
	}

	if ec.CheckpointPath != "" {
		if _, err := os.Stat(ec.CheckpointPath); err == nil {
			if err := est.Load(ec.CheckpointPath); err != nil {
				return nil, fmt.Errorf("app: resume estimator: %w", err)
			}
			a.logger.Info("estimator resumed", slog.String("path", ec.CheckpointPath))
			return est, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("app: stat checkpoint: %w", err)
		}
	}

	if deps.BlobReader == nil {
		a.logger.Info("no checkpoint to resume", slog.String("path", ec.CheckpointPath))
		return est, nil
	}
	key := pipeline.CheckpointKey(a.cfg.Feed.Market)
	ok, err := deps.BlobReader.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("app: check remote checkpoint: %w", err)
	}
	if !ok {
		a.logger.Info("no checkpoint to resume", slog.String("key", key))
		return est, nil
	}
	rc, err := deps.BlobReader.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("app: fetch checkpoint: %w", err)
	}
	defer rc.Close()
	if err := est.Restore(rc); err != nil {
		return nil, fmt.Errorf("app: restore checkpoint %s: %w", key, err)
	}
	a.logger.Info("estimator restored from blob store", slog.String("key", key))
	return est, nil
}

// seededRand returns a deterministic source for a non-zero seed and nil
// otherwise, which callers treat as "use a random seed".
func seededRand(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
