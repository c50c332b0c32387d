package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"

	v1 "wastewise/shared/contracts/realtime/v1"
)

// Handler receives one envelope. Handlers run on the connection's reader
// goroutine and must not block for long.
type Handler func(env v1.Envelope)

type subscription struct {
	id     uint64
	kind   v1.Kind
	fn     Handler
	active atomic.Bool
}

// Registry maps event kinds (plus the v1.KindAll wildcard) to handlers.
//
// Mutation is copy-on-write: dispatch iterates an immutable snapshot, so
// subscribing or unsubscribing from inside a handler never disturbs the
// round in progress.
type Registry struct {
	log *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	byKind map[v1.Kind][]*subscription
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:    log,
		byKind: make(map[v1.Kind][]*subscription),
	}
}

// Subscribe registers fn for kind and returns an idempotent disposer.
// Once the disposer returns, fn is not invoked for any later envelope.
func (r *Registry) Subscribe(kind v1.Kind, fn Handler) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	if kind != v1.KindAll && !kind.Valid() {
		r.log.Warn("realtime.subscribe.unknown_kind", "kind", string(kind))
	}

	r.mu.Lock()
	r.nextID++
	s := &subscription{id: r.nextID, kind: kind, fn: fn}
	s.active.Store(true)

	cur := r.byKind[kind]
	next := make([]*subscription, 0, len(cur)+1)
	next = append(next, cur...)
	r.byKind[kind] = append(next, s)
	r.mu.Unlock()

	return func() { r.remove(s) }
}

func (r *Registry) remove(s *subscription) {
	if !s.active.CompareAndSwap(true, false) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.byKind[s.kind]
	next := make([]*subscription, 0, len(cur))
	for _, o := range cur {
		if o.id != s.id {
			next = append(next, o)
		}
	}
	if len(next) == 0 {
		delete(r.byKind, s.kind)
		return
	}
	r.byKind[s.kind] = next
}

// Len returns the number of handlers registered for kind.
func (r *Registry) Len(kind v1.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKind[kind])
}

// Dispatch invokes typed handlers for env.Type, then wildcard handlers, each
// in registration order. A panicking handler is logged and skipped. It
// returns the number of handlers invoked.
func (r *Registry) Dispatch(env v1.Envelope) int {
	r.mu.RLock()
	typed := r.byKind[env.Type]
	wild := r.byKind[v1.KindAll]
	r.mu.RUnlock()

	n := 0
	for _, group := range [][]*subscription{typed, wild} {
		for _, s := range group {
			if r.invoke(s, env) {
				n++
			}
		}
	}
	return n
}

func (r *Registry) invoke(s *subscription, env v1.Envelope) (called bool) {
	if !s.active.Load() {
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("realtime.handler.panic", "kind", string(env.Type), "subscription", s.id, "panic", p)
		}
	}()
	called = true
	s.fn(env)
	return called
}
