package domain

import "context"

// BookCache stores the latest order-book snapshot per market.
type BookCache interface {
	SetSnapshot(ctx context.Context, market string, snap OrderBookSnapshot) error
	GetSnapshot(ctx context.Context, market string) (OrderBookSnapshot, error)
}
