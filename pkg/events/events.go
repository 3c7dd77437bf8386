// Package events carries cross-module notifications over a typed channel.
//
// Producers publish without blocking; a single consumer goroutine drains the
// outbox with Run. Nothing is shared between producer and consumer except the
// channel.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies an event
type Kind string

const (
	RoleAssigned      Kind = "role_assigned"
	AccountRestricted Kind = "account_restricted"
	AccountRestored   Kind = "account_restored"
	CatalogReseeded   Kind = "catalog_reseeded"
	PermissionDeleted Kind = "permission_deleted"
	RoutesReseeded    Kind = "routes_reseeded"
)

// Event is an immutable notification
type Event struct {
	Kind    Kind
	UserID  int64
	ActorID int64
	// RoleIDs lists roles whose effective permissions may have changed
	RoleIDs []int64
	Detail  string
	At      time.Time
}

// Publisher accepts events
type Publisher interface {
	Publish(e Event) bool
}

// Handler consumes one event
type Handler func(ctx context.Context, e Event)

// Invalidates reports whether k leaves cached permissions or route
// requirements stale
func (k Kind) Invalidates() bool {
	switch k {
	case CatalogReseeded, PermissionDeleted, RoutesReseeded:
		return true
	}
	return false
}

// Outbox is a buffered event channel. Invalidating events are never lost to
// a full buffer: they collapse into a single pending event that Run delivers
// as soon as it can.
type Outbox struct {
	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	dropped atomic.Int64
	onDrop  func(Kind)

	pendingMu sync.Mutex
	pending   *Event
	wake      chan struct{}
}

// NewOutbox creates an outbox holding up to size undelivered events
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 256
	}
	return &Outbox{ch: make(chan Event, size), wake: make(chan struct{}, 1)}
}

// OnDrop registers fn to be called for every dropped event. Call it before
// publishing.
func (o *Outbox) OnDrop(fn func(Kind)) {
	o.onDrop = fn
}

// Publish enqueues e without blocking. When the buffer is full an
// invalidating event is coalesced into the pending slot; any other event is
// dropped and false is returned. A closed outbox drops everything.
func (o *Outbox) Publish(e Event) bool {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.drop(e.Kind)
		return false
	}
	select {
	case o.ch <- e:
		return true
	default:
	}
	if e.Kind.Invalidates() {
		o.coalesce(e)
		return true
	}
	o.drop(e.Kind)
	return false
}

func (o *Outbox) drop(kind Kind) {
	o.dropped.Add(1)
	if o.onDrop != nil {
		o.onDrop(kind)
	}
}

// coalesce merges e into the pending invalidation. Two different kinds
// widen to CatalogReseeded, which purges every cache.
func (o *Outbox) coalesce(e Event) {
	o.pendingMu.Lock()
	switch {
	case o.pending == nil:
		o.pending = &e
	case o.pending.Kind != e.Kind:
		o.pending.Kind = CatalogReseeded
		o.pending.At = e.At
	default:
		o.pending.At = e.At
	}
	o.pendingMu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Outbox) takePending() (Event, bool) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	if o.pending == nil {
		return Event{}, false
	}
	e := *o.pending
	o.pending = nil
	return e, true
}

// Dropped returns the number of events that could not be enqueued
func (o *Outbox) Dropped() int64 {
	return o.dropped.Load()
}

// Run delivers events to handlers until ctx is done or the outbox is closed
// and drained. Buffered events arrive in publish order; a coalesced
// invalidation may arrive ahead of them.
func (o *Outbox) Run(ctx context.Context, handlers ...Handler) {
	deliver := func(e Event) {
		for _, h := range handlers {
			h(ctx, e)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
			if e, ok := o.takePending(); ok {
				deliver(e)
			}
		case e, ok := <-o.ch:
			if !ok {
				if p, ok := o.takePending(); ok {
					deliver(p)
				}
				return
			}
			deliver(e)
		}
	}
}

// Close stops accepting events. Buffered events are still delivered.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

// Discard is a Publisher that drops everything
type Discard struct{}

func (Discard) Publish(Event) bool { return true }
