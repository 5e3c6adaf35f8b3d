package checkout

import (
	"context"
	"log/slog"
	"sync"

	"storefront-service/pkg/ctxmanage"
	"storefront-service/pkg/logkey"
)

const DefaultQueueSize = 256

type queuedEvent struct {
	ctx context.Context
	ev  Event
}

// QueuedObserver hands events to a slow observer from a single worker, in the order they were
// observed. Observe never blocks; when the queue is full the event is dropped and logged.
type QueuedObserver struct {
	name   string
	next   Observer
	events chan queuedEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewQueuedObserver(name string, next Observer, size int) *QueuedObserver {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &QueuedObserver{
		name:   name,
		next:   next,
		events: make(chan queuedEvent, size),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *QueuedObserver) Observe(ctx context.Context, ev Event) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		slog.Warn("observer closed, event dropped", q.attrs(ctx, ev)...)
		return
	}
	select {
	case q.events <- queuedEvent{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		slog.Error("observer queue full, event dropped", q.attrs(ctx, ev)...)
	}
}

func (q *QueuedObserver) run() {
	defer close(q.done)
	for item := range q.events {
		q.next.Observe(item.ctx, item.ev)
	}
}

// Close stops accepting events and waits until the queued ones were handled or ctx is done.
func (q *QueuedObserver) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *QueuedObserver) attrs(ctx context.Context, ev Event) []any {
	return []any{
		slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
		slog.String("observer", q.name),
		slog.String(logkey.CheckoutID, ev.CheckoutID),
		slog.String("type", string(ev.Type)),
	}
}
