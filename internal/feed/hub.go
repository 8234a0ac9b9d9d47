// Package feed fans committed obituary changes out to live subscribers.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/ports"
)

const DefaultBacklog = 64

// ErrSubscriberOverrun is reported by a subscription that fell behind its backlog.
var ErrSubscriberOverrun = errs.New(errs.CodeSubscriberOverrun, "subscriber did not keep up with the feed")

// Hub delivers events to subscribers without ever blocking the publisher.
// A subscriber whose queue is full is dropped.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	backlog int
	metrics ports.Metrics
}

var _ ports.EventPublisher = (*Hub)(nil)

func NewHub(backlog int, metrics ports.Metrics) *Hub {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Hub{
		subs:    make(map[uint64]*Subscription),
		backlog: backlog,
		metrics: metrics,
	}
}

// Subscription is one registered consumer. Events arrive on C until the
// subscription is closed or dropped.
type Subscription struct {
	id      uint64
	hub     *Hub
	filter  domainobituary.FeedFilter
	ch      chan domainobituary.Event
	dropped atomic.Bool
	once    sync.Once

	mu  sync.Mutex
	err error
}

func (h *Hub) Subscribe(filter domainobituary.FeedFilter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		hub:    h,
		filter: filter,
		ch:     make(chan domainobituary.Event, h.backlog),
	}
	h.subs[sub.id] = sub
	h.metrics.SubscriberAdded()
	return sub
}

// Publish enqueues event for every matching subscriber. It never waits on a
// consumer; overrun subscribers are removed after the fan-out.
func (h *Hub) Publish(ctx context.Context, event domainobituary.Event) error {
	var overrun []*Subscription

	h.mu.RLock()
	for _, sub := range h.subs {
		if sub.dropped.Load() || !sub.filter.Matches(event.Obituary) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			if sub.dropped.CompareAndSwap(false, true) {
				overrun = append(overrun, sub)
			}
		}
	}
	h.mu.RUnlock()

	for _, sub := range overrun {
		logging.Warn(ctx, "feed subscriber dropped", slog.Uint64("subscriber", sub.id), slog.Int("backlog", h.backlog))
		h.remove(sub, ErrSubscriberOverrun)
	}
	return nil
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscriber with a nil error.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		all = append(all, sub)
	}
	h.mu.RUnlock()

	for _, sub := range all {
		h.remove(sub, nil)
	}
}

func (h *Hub) remove(sub *Subscription, cause error) {
	h.mu.Lock()
	_, registered := h.subs[sub.id]
	delete(h.subs, sub.id)
	h.mu.Unlock()

	sub.once.Do(func() {
		sub.mu.Lock()
		sub.err = cause
		sub.mu.Unlock()
		// The hub lock above guarantees no Publish is still sending on ch.
		close(sub.ch)
		if registered {
			h.metrics.SubscriberRemoved(cause != nil)
		}
	})
}

func (s *Subscription) C() <-chan domainobituary.Event {
	return s.ch
}

// Err reports why the channel closed: ErrSubscriberOverrun, or nil after Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unregisters the subscription. Nothing is enqueued after it returns
// and C is closed.
func (s *Subscription) Close() {
	s.hub.remove(s, nil)
}

// Fanout publishes to several publishers and joins their errors.
type Fanout []ports.EventPublisher

func (f Fanout) Publish(ctx context.Context, event domainobituary.Event) error {
	var all []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}
