// Package watch provides an observable value with disposable subscriptions.
//
// It is how the session and realtime managers expose their state to the rest
// of the application without ambient globals: observers subscribe, receive the
// current value immediately, then every subsequent change, and dispose of the
// subscription with the returned function.
package watch

import "sync"

// Value holds a T and notifies observers on every Set.
//
// Notifications are delivered outside the internal lock, in Set order, by
// whichever goroutine is currently draining the queue. An observer may call
// Get, Set, Subscribe or an unsubscribe function; a Set issued from inside an
// observer is delivered after the current notification round completes.
type Value[T any] struct {
	mu         sync.Mutex
	current    T
	nextID     uint64
	subs       []*observer[T]
	queue      []T
	delivering bool
}

type observer[T any] struct {
	id     uint64
	fn     func(T)
	mu     sync.Mutex
	active bool
}

// NewValue returns a Value initialised to v.
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{current: v}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set replaces the value and notifies observers.
func (v *Value[T]) Set(next T) {
	v.Stage(next)
	v.Flush()
}

// Stage replaces the value and queues the notification without delivering
// it. Owners that guard transitions with their own lock Stage while holding
// it and Flush after releasing it, so observers never run under that lock and
// still see transitions in lock order.
func (v *Value[T]) Stage(next T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = next
	v.queue = append(v.queue, next)
}

// Flush delivers queued notifications. If another goroutine is already
// delivering, Flush returns at once and that goroutine delivers the queue.
func (v *Value[T]) Flush() {
	v.mu.Lock()
	if v.delivering || len(v.queue) == 0 {
		v.mu.Unlock()
		return
	}
	v.delivering = true

	for len(v.queue) > 0 {
		item := v.queue[0]
		v.queue = v.queue[1:]
		snap := v.subs
		v.mu.Unlock()

		for _, o := range snap {
			o.call(item)
		}

		v.mu.Lock()
	}
	v.queue = nil
	v.delivering = false
	v.mu.Unlock()
}

// Subscribe registers fn, calls it once with the current value and returns a
// function that removes the subscription. The returned function is idempotent;
// once it returns, fn is not called again.
func (v *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	v.mu.Lock()
	v.nextID++
	o := &observer[T]{id: v.nextID, fn: fn, active: true}
	next := make([]*observer[T], 0, len(v.subs)+1)
	next = append(next, v.subs...)
	v.subs = append(next, o)
	cur := v.current
	v.mu.Unlock()

	o.call(cur)

	return func() { v.remove(o) }
}

func (v *Value[T]) remove(o *observer[T]) {
	o.mu.Lock()
	o.active = false
	o.mu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	next := make([]*observer[T], 0, len(v.subs))
	for _, s := range v.subs {
		if s.id != o.id {
			next = append(next, s)
		}
	}
	v.subs = next
}

func (o *observer[T]) call(val T) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	if active {
		o.fn(val)
	}
}
