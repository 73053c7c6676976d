// Package docwatch fans document change notifications out to subscribers.
// Document stores publish a core.Change after each committed write. Each
// subscription re-reads its view on its own goroutine, while change
// watchers see every change on the publisher's goroutine.
package docwatch

import (
	"context"
	"sync"

	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/internal/notify"
)

type Hub struct {
	mu      sync.Mutex
	subs    map[uint64]*subscription
	next    uint64
	changes notify.Set[core.Change]
}

type subscription struct {
	collection string
	id         string // empty watches the whole collection
	signal     chan struct{}
	cancel     context.CancelFunc
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscription)}
}

// Add registers refresh for changes in collection, or to a single document
// when id is set. refresh runs once immediately and again after matching
// changes; bursts of changes coalesce into one call. The returned function
// stops the subscription. It also stops when ctx is done.
func (h *Hub) Add(ctx context.Context, collection, id string, refresh func(ctx context.Context)) func() {
	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		collection: collection,
		id:         id,
		signal:     make(chan struct{}, 1),
		cancel:     cancel,
	}
	s.signal <- struct{}{}

	h.mu.Lock()
	key := h.next
	h.next++
	h.subs[key] = s
	h.mu.Unlock()

	go func() {
		defer h.remove(key)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.signal:
				refresh(ctx)
			}
		}
	}()

	return cancel
}

func (h *Hub) remove(key uint64) {
	h.mu.Lock()
	delete(h.subs, key)
	h.mu.Unlock()
}

// Watch calls fn with every change published for collection until the
// returned function is called. Unlike Add, distinct changes are never
// merged.
func (h *Hub) Watch(collection string, fn func(core.Change)) func() {
	return h.changes.Add(func(c core.Change) {
		if c.Collection == collection {
			fn(c)
		}
	})
}

// Publish hands the change to every watcher and wakes every subscription
// it is relevant to.
func (h *Hub) Publish(c core.Change) {
	h.changes.Notify(c)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if s.collection != c.Collection {
			continue
		}
		if s.id != "" && s.id != c.ID {
			continue
		}
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.cancel()
	}
}
