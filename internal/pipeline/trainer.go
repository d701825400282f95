package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/alanyoungcy/tickrl/internal/domain"
	"github.com/alanyoungcy/tickrl/internal/ingest"
	"github.com/alanyoungcy/tickrl/internal/replay"
)

// Checkpointer is the part of an estimator that can stream its weights.
type Checkpointer interface {
	Checkpoint(w io.Writer) error
}

// TrainerConfig tunes a training pass.
type TrainerConfig struct {
	Market         string
	Epochs         int
	BatchSize      int
	CheckpointPath string
	// MemoryCapacity bounds the memory used when training from the archive.
	MemoryCapacity int
	// StoreBatches caps how many recent batches are loaded from the
	// experience store when no blob reader is configured.
	StoreBatches int
}

// Trainer samples experience batches and updates the estimator, then
// checkpoints it locally and, when a blob writer is set, to object storage.
type Trainer struct {
	cfg       TrainerConfig
	estimator domain.ValueEstimator
	blobs     domain.BlobWriter
	archive   domain.BlobReader
	store     domain.ExperienceStore
	logger    *slog.Logger
}

// NewTrainer creates a Trainer. blobs, archive and store may be nil.
func NewTrainer(cfg TrainerConfig, estimator domain.ValueEstimator, blobs domain.BlobWriter, archive domain.BlobReader, store domain.ExperienceStore, logger *slog.Logger) *Trainer {
	if cfg.Epochs < 1 {
		cfg.Epochs = 1
	}
	if cfg.StoreBatches < 1 {
		cfg.StoreBatches = 1000
	}
	return &Trainer{
		cfg:       cfg,
		estimator: estimator,
		blobs:     blobs,
		archive:   archive,
		store:     store,
		logger:    logger.With(slog.String("component", "trainer")),
	}
}

// CheckpointKey is the blob key of the latest checkpoint for a market.
func CheckpointKey(market string) string {
	return path.Join("checkpoints", market, "latest.bin")
}

// Train runs cfg.Epochs updates on fresh samples from mem. When mem holds
// fewer than BatchSize samples it logs and returns 0 without error.
func (t *Trainer) Train(ctx context.Context, mem *replay.Memory) (float32, error) {
	var loss float32
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return loss, err
		}
		batch, err := mem.TrySample(t.cfg.BatchSize)
		if err != nil || len(batch) == 0 {
			t.logger.InfoContext(ctx, "not enough samples to train",
				slog.Int("have", mem.Len()),
				slog.Int("want", t.cfg.BatchSize),
				slog.Int("capacity", mem.Cap()),
			)
			return 0, nil
		}
		loss = t.estimator.Update(batch)
		t.logger.DebugContext(ctx, "epoch", slog.Int("epoch", epoch), slog.Float64("loss", float64(loss)))
	}
	t.logger.InfoContext(ctx, "training pass complete",
		slog.Int("epochs", t.cfg.Epochs),
		slog.Int("batch_size", t.cfg.BatchSize),
		slog.Float64("loss", float64(loss)),
	)

	if err := t.checkpoint(ctx); err != nil {
		return loss, err
	}
	return loss, nil
}

// TrainArchive loads every archived batch under prefix into a fresh memory
// and trains on it. An empty prefix selects the market's replay directory.
// Without a blob reader the most recent batches of the experience store are
// used instead and prefix is ignored.
func (t *Trainer) TrainArchive(ctx context.Context, prefix string) (float32, error) {
	if t.archive == nil {
		if t.store == nil {
			return 0, fmt.Errorf("pipeline: train archive: no blob reader or experience store configured")
		}
		return t.trainFromStore(ctx)
	}
	if prefix == "" {
		prefix = path.Join(ReplayPrefix, t.cfg.Market) + "/"
	}
	infos, err := t.archive.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("pipeline: list %s: %w", prefix, err)
	}

	mem := t.archiveMemory()
	for _, info := range infos {
		if !strings.HasSuffix(info.Path, ".csv") {
			continue
		}
		samples, err := t.loadBatch(ctx, info.Path)
		if err != nil {
			return 0, err
		}
		mem.Extend(samples)
	}
	t.logger.InfoContext(ctx, "archive loaded",
		slog.Int("objects", len(infos)),
		slog.Int("samples", mem.Len()),
	)
	return t.Train(ctx, mem)
}

// trainFromStore replays the newest StoreBatches batches, oldest first so
// the newest survive eviction.
func (t *Trainer) trainFromStore(ctx context.Context) (float32, error) {
	batches, err := t.store.ListRecent(ctx, t.cfg.Market, t.cfg.StoreBatches)
	if err != nil {
		return 0, fmt.Errorf("pipeline: list stored batches: %w", err)
	}
	mem := t.archiveMemory()
	for i := len(batches) - 1; i >= 0; i-- {
		samples, err := t.store.LoadSamples(ctx, batches[i].ID)
		if err != nil {
			return 0, fmt.Errorf("pipeline: load batch %s: %w", batches[i].ID, err)
		}
		mem.Extend(samples)
	}
	t.logger.InfoContext(ctx, "stored batches loaded",
		slog.Int("batches", len(batches)),
		slog.Int("samples", mem.Len()),
	)
	return t.Train(ctx, mem)
}

func (t *Trainer) archiveMemory() *replay.Memory {
	capacity := t.cfg.MemoryCapacity
	if capacity < 1 {
		capacity = 100_000
	}
	return replay.NewMemory(capacity, nil)
}

func (t *Trainer) loadBatch(ctx context.Context, key string) ([]domain.ExperienceSample, error) {
	rc, err := t.archive.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("pipeline: get %s: %w", key, err)
	}
	defer rc.Close()
	samples, err := replay.ReadCSV(rc)
	if err != nil {
		return nil, fmt.Errorf("pipeline: decode %s: %w", key, err)
	}
	return samples, nil
}

func (t *Trainer) checkpoint(ctx context.Context) error {
	if t.cfg.CheckpointPath != "" {
		if err := t.estimator.Save(t.cfg.CheckpointPath); err != nil {
			return fmt.Errorf("pipeline: save checkpoint: %w", err)
		}
	}

	cp, ok := t.estimator.(Checkpointer)
	if t.blobs == nil || !ok {
		return nil
	}
	var buf bytes.Buffer
	if err := cp.Checkpoint(&buf); err != nil {
		return fmt.Errorf("pipeline: encode checkpoint: %w", err)
	}
	key := CheckpointKey(t.cfg.Market)
	if err := t.blobs.PutMultipart(ctx, key, &buf, 0); err != nil {
		return fmt.Errorf("pipeline: upload checkpoint: %w", err)
	}
	t.logger.InfoContext(ctx, "checkpoint uploaded", slog.String("key", key))
	return nil
}

var _ ingest.Trainer = (*Trainer)(nil)
