package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

// BookHandler serves GET /api/book.
type BookHandler struct {
	cache  domain.BookCache
	market string
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler; cache may be nil.
func NewBookHandler(cache domain.BookCache, market string, logger *slog.Logger) *BookHandler {
	return &BookHandler{cache: cache, market: market, logger: logger}
}

type bookResponse struct {
	Market  string  `json:"market"`
	BestAsk float64 `json:"best_ask"`
	BestBid float64 `json:"best_bid"`
	domain.OrderBookSnapshot
}

// GetLatest returns the most recent cached order book.
// GET /api/book
func (h *BookHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, http.StatusNotFound, "no order book cached")
		return
	}
	snap, err := h.cache.GetSnapshot(r.Context(), h.market)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no order book cached")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get book", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read order book")
		return
	}
	writeJSON(w, http.StatusOK, bookResponse{
		Market:            h.market,
		BestAsk:           snap.BestAsk(),
		BestBid:           snap.BestBid(),
		OrderBookSnapshot: snap,
	})
}
