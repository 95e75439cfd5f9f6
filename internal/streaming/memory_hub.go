package streaming

import (
	"context"
	"sync"
)

// subscriberBuffer sizes each subscriber channel. 64 events absorbs the
// burst a short backtest produces without blocking the publisher.
const subscriberBuffer = 64

type hubSub struct {
	ch     chan StreamEvent
	filter EventFilter
}

// offer delivers the event if it passes the subscriber's filter. A full
// channel drops the event rather than stalling the publisher.
func (s *hubSub) offer(event StreamEvent) {
	if !s.filter.Match(event) {
		return
	}
	select {
	case s.ch <- event:
	default:
	}
}

// MemoryHub is the in-process EventHub behind the SSE routes. It retains
// the most recent event per workflow, so a canvas that connects mid-run
// paints the current status immediately instead of waiting for the next
// transition.
type MemoryHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*hubSub
	latest map[string]StreamEvent
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs:   make(map[uint64]*hubSub),
		latest: make(map[string]StreamEvent),
	}
}

// Publish fans the event out to every matching subscriber and records it
// as its workflow's latest. Publish never blocks on slow consumers.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if event.WorkflowID != "" {
		h.latest[event.WorkflowID] = event
	}
	for _, sub := range h.subs {
		sub.offer(event)
	}
	return nil
}

// Subscribe registers a filtered subscriber and returns its channel plus a
// cancel function that detaches it. A workflow-scoped subscriber has the
// workflow's retained event replayed into the channel before anything
// else; global subscribers start from the live stream only.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &hubSub{ch: make(chan StreamEvent, subscriberBuffer), filter: filter}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	if filter.WorkflowID != "" {
		if last, ok := h.latest[filter.WorkflowID]; ok {
			sub.offer(last)
		}
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return sub.ch, cancel, nil
}

// Forget drops the retained event for a workflow. Called when the
// workflow is deleted so a stale status cannot replay.
func (h *MemoryHub) Forget(workflowID string) {
	h.mu.Lock()
	delete(h.latest, workflowID)
	h.mu.Unlock()
}
