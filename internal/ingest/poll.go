package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

// ErrFeedClosed is returned by Poller.Next once both feed channels are closed.
var ErrFeedClosed = errors.New("ingest: feed channels closed")

// EventKind tells which stream an Event came from.
type EventKind int

const (
	EventIdle EventKind = iota
	EventTick
	EventBook
)

// Event is one message taken from the feed, or an idle wakeup.
type Event struct {
	Kind EventKind
	Tick domain.TickEvent
	Book domain.OrderBookSnapshot
}

// Poller waits on the tick and book channels together with a bounded
// timeout. When both channels have a message ready the runtime picks one
// uniformly at random, so a busy stream cannot starve the other. A closed
// channel is dropped from the wait set.
type Poller struct {
	ticks   <-chan domain.TickEvent
	books   <-chan domain.OrderBookSnapshot
	timeout time.Duration
	timer   *time.Timer
}

// NewPoller creates a Poller. A non-positive timeout defaults to 10ms.
func NewPoller(ticks <-chan domain.TickEvent, books <-chan domain.OrderBookSnapshot, timeout time.Duration) *Poller {
	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}
	t := time.NewTimer(timeout)
	t.Stop()
	return &Poller{ticks: ticks, books: books, timeout: timeout, timer: t}
}

// Next returns the next event. It returns an idle Event after the timeout,
// ErrFeedClosed when both channels are closed, or ctx.Err().
func (p *Poller) Next(ctx context.Context) (Event, error) {
	for {
		if p.ticks == nil && p.books == nil {
			return Event{}, ErrFeedClosed
		}

		p.timer.Reset(p.timeout)
		select {
		case <-ctx.Done():
			p.timer.Stop()
			return Event{}, ctx.Err()

		case b, ok := <-p.books:
			p.timer.Stop()
			if !ok {
				p.books = nil
				continue
			}
			return Event{Kind: EventBook, Book: b}, nil

		case t, ok := <-p.ticks:
			p.timer.Stop()
			if !ok {
				p.ticks = nil
				continue
			}
			return Event{Kind: EventTick, Tick: t}, nil

		case <-p.timer.C:
			return Event{Kind: EventIdle}, nil
		}
	}
}
