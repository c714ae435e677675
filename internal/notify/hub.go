// Package notify delivers order events to whoever is listening right now.
// Delivery is at-most-once: no queue, no retry, no acknowledgement.
package notify

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-ledger/internal/logger"
)

type Event struct {
	Name string
	// Key groups related events, e.g. the order id.
	Key  string
	Data []byte
}

type Publisher interface {
	Publish(ctx context.Context, target string, ev Event) error
}

type Subscription struct {
	identity string
	ch       chan Event
}

func (s *Subscription) Events() <-chan Event { return s.ch }
func (s *Subscription) Identity() string     { return s.identity }

// Hub is the registry of open channels, keyed by identity. Publish holds the
// read lock while sending, Unregister closes a channel under the write lock,
// so a send never hits a closed channel.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	log    *zap.Logger
}

func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer, log: logger.OrNop(log)}
}

func (h *Hub) Register(identity string) *Subscription {
	sub := &Subscription{identity: identity, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	set, ok := h.subs[identity]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[identity] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unregister is safe to call more than once.
func (h *Hub) Unregister(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.identity]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(h.subs, sub.identity)
	}
}

// Close ends every open subscription, e.g. so streaming handlers return
// during server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for identity, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(h.subs, identity)
	}
}

// Publish never blocks. A subscriber whose buffer is full misses the event.
func (h *Hub) Publish(_ context.Context, target string, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[target] {
		select {
		case sub.ch <- ev:
		default:
			h.log.Warn("subscriber buffer full, event dropped",
				zap.String("target", target), zap.String("event", ev.Name))
		}
	}
	return nil
}

func (h *Hub) Subscribers(identity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[identity])
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, target string, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, target, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
