// Package market keeps bounded recent history of trade ticks and order-book
// snapshots for one instrument.
package market

import "github.com/alanyoungcy/tickrl/internal/domain"

// Storage owns two independent rings: trade ticks and book snapshots. It is
// owned by a single goroutine and performs no locking.
type Storage struct {
	ticks *Ring[domain.TickEvent]
	books *Ring[domain.OrderBookSnapshot]
}

// NewStorage creates a Storage with separate capacities for ticks and books.
func NewStorage(tickCapacity, bookCapacity int) *Storage {
	return &Storage{
		ticks: NewRing[domain.TickEvent](tickCapacity),
		books: NewRing[domain.OrderBookSnapshot](bookCapacity),
	}
}

// PushTick records a trade tick, evicting the oldest tick when full.
func (s *Storage) PushTick(t domain.TickEvent) { s.ticks.Push(t) }

// PushOrderBook records a book snapshot, evicting the oldest when full. The
// level slice is copied so later mutation by the producer cannot leak in.
func (s *Storage) PushOrderBook(b domain.OrderBookSnapshot) {
	levels := make([]domain.OrderBookLevel, len(b.Levels))
	copy(levels, b.Levels)
	b.Levels = levels
	s.books.Push(b)
}

// Ticks exposes the tick ring for read-only traversal.
func (s *Storage) Ticks() *Ring[domain.TickEvent] { return s.ticks }

// Books exposes the snapshot ring for read-only traversal.
func (s *Storage) Books() *Ring[domain.OrderBookSnapshot] { return s.books }

// LatestBook returns the most recent snapshot.
func (s *Storage) LatestBook() (domain.OrderBookSnapshot, bool) { return s.books.Last() }

// TickCount returns the number of retained ticks.
func (s *Storage) TickCount() int { return s.ticks.Len() }

// BookCount returns the number of retained snapshots.
func (s *Storage) BookCount() int { return s.books.Len() }
