package domain

import (
	"context"
	"time"
)

// ExperienceBatch is the metadata row recorded for each flushed batch.
type ExperienceBatch struct {
	ID        string
	Market    string
	Size      int
	RewardSum float32
	Epsilon   float32
	BlobPath  string
	CreatedAt time.Time
}

// ExperienceStore persists flushed batches and their samples.
type ExperienceStore interface {
	InsertBatch(ctx context.Context, batch ExperienceBatch, samples []ExperienceSample) error
	ListRecent(ctx context.Context, market string, limit int) ([]ExperienceBatch, error)
	LoadSamples(ctx context.Context, batchID string) ([]ExperienceSample, error)
}
