package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

// BatchHandler serves GET /api/batches.
type BatchHandler struct {
	store  domain.ExperienceStore
	market string
	logger *slog.Logger
}

// NewBatchHandler creates a BatchHandler; store may be nil when postgres is
// not configured.
func NewBatchHandler(store domain.ExperienceStore, market string, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{store: store, market: market, logger: logger}
}

type batchJSON struct {
	ID        string    `json:"id"`
	Market    string    `json:"market"`
	Size      int       `json:"size"`
	RewardSum float32   `json:"reward_sum"`
	Epsilon   float32   `json:"epsilon"`
	BlobPath  string    `json:"blob_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListRecent returns the newest flushed batches. ?market= overrides the
// configured market.
// GET /api/batches?limit=
func (h *BatchHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "experience store not configured")
		return
	}
	market := r.URL.Query().Get("market")
	if market == "" {
		market = h.market
	}

	batches, err := h.store.ListRecent(r.Context(), market, parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list batches", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}

	out := make([]batchJSON, 0, len(batches))
	for _, b := range batches {
		out = append(out, batchJSON(b))
	}
	writeJSON(w, http.StatusOK, out)
}
