package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/tickrl/internal/ingest"
)

// StatsSource yields live loop counters.
type StatsSource interface {
	Snapshot() ingest.StatsSnapshot
}

// FeedState reports whether the market feed is connected.
type FeedState interface {
	Connected() bool
}

// StatusHandler serves GET /api/status.
type StatusHandler struct {
	mode      string
	market    string
	startedAt time.Time
	stats     StatsSource
	feed      FeedState
}

// NewStatusHandler creates a StatusHandler. stats and feed are nil in
// modes without a live loop.
func NewStatusHandler(mode, market string, stats StatsSource, feed FeedState) *StatusHandler {
	return &StatusHandler{mode: mode, market: market, startedAt: time.Now().UTC(), stats: stats, feed: feed}
}

type statusResponse struct {
	Mode          string                `json:"mode"`
	Market        string                `json:"market"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	FeedConnected bool                  `json:"feed_connected"`
	Loop          *ingest.StatsSnapshot `json:"loop,omitempty"`
}

// GetStatus reports the mode, feed connectivity and loop counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.mode,
		Market:        h.market,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.feed != nil {
		resp.FeedConnected = h.feed.Connected()
	}
	if h.stats != nil {
		snap := h.stats.Snapshot()
		resp.Loop = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}
