// Package feed connects to the Upbit websocket and turns trade and orderbook
// pushes into the two bounded channels consumed by the ingestion loop.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

const (
	// DefaultURL is the public Upbit websocket endpoint.
	DefaultURL = "wss://api.upbit.com/websocket/v1"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxReconnectDelay = 60 * time.Second
	bookCacheTimeout  = 2 * time.Second
)

// Config describes one feed.
type Config struct {
	URL              string
	Market           string
	ChannelCapacity  int
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
}

// Upbit streams ticks and book snapshots for one market. Sends block when a
// channel is full, so a slow consumer throttles the socket reader instead of
// losing messages; cancellation always unblocks. Both channels are closed
// when Run returns.
type Upbit struct {
	cfg   Config
	ticks chan domain.TickEvent
	books chan domain.OrderBookSnapshot

	// cache, when set, receives every snapshot before it is queued.
	cache domain.BookCache

	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	closeOnce sync.Once
}

// NewUpbit creates a feed. Zero config fields take defaults.
func NewUpbit(cfg Config, cache domain.BookCache, logger *slog.Logger) *Upbit {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 100
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	return &Upbit{
		cfg:    cfg,
		ticks:  make(chan domain.TickEvent, cfg.ChannelCapacity),
		books:  make(chan domain.OrderBookSnapshot, cfg.ChannelCapacity),
		cache:  cache,
		logger: logger.With(slog.String("component", "upbit_feed"), slog.String("market", cfg.Market)),
	}
}

// Ticks is the trade channel.
func (f *Upbit) Ticks() <-chan domain.TickEvent { return f.ticks }

// Books is the snapshot channel.
func (f *Upbit) Books() <-chan domain.OrderBookSnapshot { return f.books }

// Connected reports whether a socket is currently open.
func (f *Upbit) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Run connects and streams until ctx is cancelled, reconnecting with
// exponential backoff after every disconnect.
func (f *Upbit) Run(ctx context.Context) error {
	defer f.closeChannels()

	delay := f.cfg.ReconnectDelay
	for {
		start := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that stayed up for a while resets the backoff.
		if time.Since(start) > maxReconnectDelay {
			delay = f.cfg.ReconnectDelay
		}
		f.logger.WarnContext(ctx, "upbit ws disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *Upbit) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	frame, err := subscribeFrame(uuid.NewString(), f.cfg.Market)
	if err != nil {
		return fmt.Errorf("feed: subscribe frame: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	f.setConnected(true)
	defer f.setConnected(false)
	f.logger.InfoContext(ctx, "upbit ws subscribed")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.pingLoop(connCtx, conn)
	}()
	// Unblock ReadMessage on cancellation.
	go func() {
		<-connCtx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	err = f.readLoop(connCtx, conn)
	cancel()
	wg.Wait()
	return err
}

func (f *Upbit) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := parseMessage(raw)
		if err != nil {
			f.logger.DebugContext(ctx, "dropping malformed frame", slog.String("error", err.Error()))
			continue
		}
		if err := f.deliver(ctx, msg); err != nil {
			return err
		}
	}
}

// deliver blocks until the consumer has room or ctx is done.
func (f *Upbit) deliver(ctx context.Context, msg message) error {
	switch {
	case msg.tick != nil:
		select {
		case f.ticks <- *msg.tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	case msg.book != nil:
		f.cacheBook(ctx, *msg.book)
		select {
		case f.books <- *msg.book:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *Upbit) cacheBook(ctx context.Context, snap domain.OrderBookSnapshot) {
	if f.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, bookCacheTimeout)
	defer cancel()
	if err := f.cache.SetSnapshot(cctx, f.cfg.Market, snap); err != nil {
		f.logger.DebugContext(ctx, "book cache write failed", slog.String("error", err.Error()))
	}
}

func (f *Upbit) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (f *Upbit) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *Upbit) closeChannels() {
	f.closeOnce.Do(func() {
		close(f.ticks)
		close(f.books)
	})
}

func errString(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}
	return err.Error()
}
