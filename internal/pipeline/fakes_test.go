package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "application/octet-stream")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memStore struct {
	batches []domain.ExperienceBatch
	samples map[string][]domain.ExperienceSample
}

func (m *memStore) InsertBatch(_ context.Context, b domain.ExperienceBatch, s []domain.ExperienceSample) error {
	if m.samples == nil {
		m.samples = map[string][]domain.ExperienceSample{}
	}
	m.batches = append(m.batches, b)
	m.samples[b.ID] = append([]domain.ExperienceSample(nil), s...)
	return nil
}

func (m *memStore) ListRecent(_ context.Context, _ string, limit int) ([]domain.ExperienceBatch, error) {
	if limit > len(m.batches) {
		limit = len(m.batches)
	}
	return m.batches[:limit], nil
}

func (m *memStore) LoadSamples(_ context.Context, id string) ([]domain.ExperienceSample, error) {
	s, ok := m.samples[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

type memBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
	pubErr    error
}

func newMemBus() *memBus {
	return &memBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (m *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	if m.pubErr != nil {
		return m.pubErr
	}
	m.published[channel] = append(m.published[channel], payload)
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (m *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	m.streamed[stream] = append(m.streamed[stream], payload)
	return nil
}

func (m *memBus) StreamTail(_ context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	entries := m.streamed[stream]
	if count < len(entries) {
		entries = entries[len(entries)-count:]
	}
	var out []domain.StreamMessage
	for _, e := range entries {
		out = append(out, domain.StreamMessage{Payload: e})
	}
	return out, nil
}

type countingEstimator struct {
	updates int
	saved   []string
}

func (c *countingEstimator) Predict(domain.FeatureVector) [domain.ActionCount]float32 {
	return [domain.ActionCount]float32{}
}

func (c *countingEstimator) Update(batch []domain.ExperienceSample) float32 {
	c.updates++
	return float32(len(batch))
}

func (c *countingEstimator) Save(path string) error {
	c.saved = append(c.saved, path)
	return nil
}

func (c *countingEstimator) Load(string) error { return nil }
