package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

const defaultChannelBuffer = 64

type subscriber struct {
	ch      chan StreamEvent
	filter  EventFilter
	dropped atomic.Int64
}

func (s *subscriber) wants(e StreamEvent) bool {
	f := s.filter
	switch {
	case f.ExecutionID != "" && f.ExecutionID != e.ExecutionID:
		return false
	case f.JobName != "" && f.JobName != e.JobName:
		return false
	case len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType):
		return false
	}
	return true
}

// deliver never blocks. A full buffer drops the new event, except a
// terminal one, which evicts the oldest buffered event instead so waiters
// on a run's end are always woken.
func (s *subscriber) deliver(e StreamEvent) {
	for attempt := 0; attempt < 2; attempt++ {
		select {
		case s.ch <- e:
			return
		default:
		}
		if !IsTerminal(e.EventType) {
			break
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
	s.dropped.Add(1)
}

// MemoryHub is the in-process EventHub.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	next atomic.Uint64
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*subscriber)}
}

// Publish fans event out to the matching subscribers without blocking.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.wants(event) {
			sub.deliver(event)
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. It ends, closing the channel,
// when the returned cancel func is called or ctx is done.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.next.Add(1)
	sub := &subscriber{ch: make(chan StreamEvent, defaultChannelBuffer), filter: filter}
	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { h.remove(id) })
	cancel := func() {
		stop()
		h.remove(id)
	}
	return sub.ch, cancel, nil
}

func (h *MemoryHub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped totals the events live subscribers missed.
func (h *MemoryHub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var n int64
	for _, sub := range h.subs {
		n += sub.dropped.Load()
	}
	return n
}

var _ EventHub = (*MemoryHub)(nil)
