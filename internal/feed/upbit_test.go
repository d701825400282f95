package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

type memBookCache struct {
	mu    sync.Mutex
	snaps map[string]domain.OrderBookSnapshot
}

func (c *memBookCache) SetSnapshot(_ context.Context, market string, s domain.OrderBookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[market] = s
	return nil
}

func (c *memBookCache) GetSnapshot(_ context.Context, market string) (domain.OrderBookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[market]
	if !ok {
		return s, domain.ErrNotFound
	}
	return s, nil
}

// upbitServer accepts one subscription and replays frames as binary
// messages, the way the exchange does.
func upbitServer(t *testing.T, frames ...string) (*httptest.Server, <-chan string) {
	t.Helper()
	subs := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, sub, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subs <- string(sub)
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.BinaryMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, subs
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestUpbitStreamsTicksAndBooks(t *testing.T) {
	srv, subs := upbitServer(t, `{"status":"UP"}`, orderbookFrame, "garbage", tradeFrame)
	cache := &memBookCache{snaps: map[string]domain.OrderBookSnapshot{}}
	f := NewUpbit(Config{URL: wsURL(srv), Market: "KRW-BTC", ChannelCapacity: 4}, cache,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case sub := <-subs:
		assert.Contains(t, sub, `"codes":["KRW-BTC"]`)
		assert.Contains(t, sub, `"type":"orderbook"`)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}

	select {
	case b := <-f.Books():
		assert.Len(t, b.Levels, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("no book received")
	}
	select {
	case tk := <-f.Ticks():
		assert.Equal(t, 50000000.0, tk.Price)
	case <-time.After(5 * time.Second):
		t.Fatal("no tick received")
	}

	cached, err := cache.GetSnapshot(ctx, "KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000456), cached.Timestamp)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}

	_, open := <-f.Ticks()
	assert.False(t, open)
	_, open = <-f.Books()
	assert.False(t, open)
}

func TestUpbitDefaults(t *testing.T) {
	f := NewUpbit(Config{Market: "KRW-BTC"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, DefaultURL, f.cfg.URL)
	assert.Equal(t, 100, cap(f.ticks))
	assert.Equal(t, 100, cap(f.books))
	assert.False(t, f.Connected())
}
