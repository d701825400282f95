package domain

import (
	"context"
	"time"
)

// StreamMessage is one entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries ephemeral notifications and an ordered durable stream.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	// StreamTail returns the newest count entries, oldest first.
	StreamTail(ctx context.Context, stream string, count int) ([]StreamMessage, error)
}

// FlushEvent announces that an experience batch was persisted.
type FlushEvent struct {
	BatchID   string    `json:"batch_id"`
	Market    string    `json:"market"`
	Size      int       `json:"size"`
	BlobPath  string    `json:"blob_path,omitempty"`
	Epsilon   float32   `json:"epsilon"`
	RewardSum float32   `json:"reward_sum"`
	FlushedAt time.Time `json:"flushed_at"`
}
