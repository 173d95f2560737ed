// Package publisher emits audit events to a store, synchronously by default
// or through a buffered channel when callers must not block.
//
// Engine mutations do not use the async path: their events go through the
// store inside the mutation's transaction. The async mode exists for
// best-effort emission outside a transaction (for example operational
// events from read paths).
package publisher

import (
	"context"
	"sync"
	"sync/atomic"

	id "redline/pkg/domain"
	audit "redline/pkg/platform/audit"
	"redline/pkg/requestcontext"
)

// Publisher writes audit events to its store.
type Publisher struct {
	store audit.Store

	inbox   chan audit.Event
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
	closed  atomic.Bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to asynchronous emission with the
// given buffer size. When the buffer is full new events are dropped and
// counted rather than blocking the caller.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan audit.Event, size)
	}
}

// NewPublisher creates a Publisher over store. Without options emission is
// synchronous.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, done: make(chan struct{})}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.inbox {
		// Detached context: the originating request may be gone by now.
		_ = p.store.Append(context.Background(), event)
	}
}

// Emit records an audit event. Synchronous publishers return the store's
// error; asynchronous publishers never block and report nil even when the
// event is dropped (the drop is counted).
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}
	if p.closed.Load() {
		p.dropped.Add(1)
		return nil
	}
	select {
	case p.inbox <- event:
	default:
		p.dropped.Add(1)
	}
	return nil
}

// List returns the audit events recorded for a workspace.
func (p *Publisher) List(ctx context.Context, workspaceID id.WorkspaceID) ([]audit.Event, error) {
	return p.store.ListByWorkspace(ctx, workspaceID)
}

// Dropped reports how many events were discarded because the buffer was full.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close drains any buffered events and stops the background worker.
func (p *Publisher) Close() {
	if p.inbox == nil {
		return
	}
	if p.closed.CompareAndSwap(false, true) {
		close(p.inbox)
	}
	p.wg.Wait()
}
