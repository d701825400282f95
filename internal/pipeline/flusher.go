// Package pipeline persists flushed experience batches and trains the value
// estimator from memory or from the archived batches.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tickrl/internal/domain"
	"github.com/alanyoungcy/tickrl/internal/ingest"
	"github.com/alanyoungcy/tickrl/internal/replay"
)

// Bus names for flush notifications.
const (
	FlushChannel = "tickrl:flush"
	FlushStream  = "tickrl:flushes"
)

// ReplayPrefix is the blob prefix under which batches are archived.
const ReplayPrefix = "replay"

// Flusher implements ingest.BatchSink by fanning a batch out to every
// configured backend. Nil backends are skipped. The first failure aborts the
// flush and is returned; nothing is retried here.
type Flusher struct {
	market string
	blobs  domain.BlobWriter
	store  domain.ExperienceStore
	bus    domain.SignalBus
	now    func() time.Time
	logger *slog.Logger
}

// NewFlusher creates a Flusher for one market.
func NewFlusher(market string, blobs domain.BlobWriter, store domain.ExperienceStore, bus domain.SignalBus, logger *slog.Logger) *Flusher {
	return &Flusher{
		market: market,
		blobs:  blobs,
		store:  store,
		bus:    bus,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "flusher")),
	}
}

// ReplayPath returns the archive key for a batch.
func ReplayPath(market string, t time.Time, batchID string) string {
	return path.Join(ReplayPrefix, market, t.Format("2006/01/02"), batchID+".csv")
}

// Flush persists b.
func (f *Flusher) Flush(ctx context.Context, b ingest.Batch) error {
	if len(b.Samples) == 0 {
		return nil
	}

	now := f.now()
	meta := domain.ExperienceBatch{
		ID:        uuid.NewString(),
		Market:    f.market,
		Size:      len(b.Samples),
		RewardSum: rewardSum(b.Samples),
		Epsilon:   b.Epsilon,
		CreatedAt: now,
	}

	if f.blobs != nil {
		var buf bytes.Buffer
		if err := replay.WriteCSV(&buf, b.Samples); err != nil {
			return fmt.Errorf("pipeline: encode batch %s: %w", meta.ID, err)
		}
		meta.BlobPath = ReplayPath(f.market, now, meta.ID)
		if err := f.blobs.Put(ctx, meta.BlobPath, &buf, replay.ContentType); err != nil {
			return fmt.Errorf("pipeline: upload batch %s: %w", meta.ID, err)
		}
	}

	if f.store != nil {
		if err := f.store.InsertBatch(ctx, meta, b.Samples); err != nil {
			return fmt.Errorf("pipeline: store batch %s: %w", meta.ID, err)
		}
	}

	if f.bus != nil {
		if err := f.announce(ctx, meta); err != nil {
			return err
		}
	}

	f.logger.InfoContext(ctx, "batch persisted",
		slog.String("batch_id", meta.ID),
		slog.Int("size", meta.Size),
		slog.String("blob_path", meta.BlobPath),
		slog.Float64("reward_sum", float64(meta.RewardSum)),
	)
	return nil
}

func (f *Flusher) announce(ctx context.Context, meta domain.ExperienceBatch) error {
	payload, err := json.Marshal(domain.FlushEvent{
		BatchID:   meta.ID,
		Market:    meta.Market,
		Size:      meta.Size,
		BlobPath:  meta.BlobPath,
		Epsilon:   meta.Epsilon,
		RewardSum: meta.RewardSum,
		FlushedAt: meta.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("pipeline: marshal flush event: %w", err)
	}
	if err := f.bus.StreamAppend(ctx, FlushStream, payload); err != nil {
		return fmt.Errorf("pipeline: append flush event: %w", err)
	}
	// Pub/sub is best effort; the stream is the durable record.
	if err := f.bus.Publish(ctx, FlushChannel, payload); err != nil {
		f.logger.WarnContext(ctx, "publish flush event failed", slog.String("error", err.Error()))
	}
	return nil
}

func rewardSum(samples []domain.ExperienceSample) float32 {
	var sum float32
	for _, s := range samples {
		sum += s.Reward
	}
	return sum
}

var _ ingest.BatchSink = (*Flusher)(nil)
