package chatsync

import "sync"

// Observable is a read-only view of one piece of state. Observers must not
// mutate state from inside the callback.
type Observable[T any] interface {
	// Value returns the current value.
	Value() T
	// Observe delivers the current value, then every change in write order,
	// until cancel is called.
	Observe(fn func(T)) (cancel func())
}

type value[T any] struct {
	notify sync.Mutex // serializes delivery so observers see writes in order
	mu     sync.RWMutex
	v      T
	nextID int
	subs   map[int]func(T)
}

func newValue[T any](initial T) *value[T] {
	return &value[T]{v: initial, subs: make(map[int]func(T))}
}

func (v *value[T]) Value() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.v
}

func (v *value[T]) Observe(fn func(T)) func() {
	v.notify.Lock()
	defer v.notify.Unlock()

	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	cur := v.v
	v.mu.Unlock()

	deliver(fn, cur)

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
		})
	}
}

func (v *value[T]) set(nv T) {
	v.notify.Lock()
	defer v.notify.Unlock()

	v.mu.Lock()
	v.v = nv
	subs := make([]func(T), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		deliver(fn, nv)
	}
}

func deliver[T any](fn func(T), v T) {
	defer func() { recover() }() // swallow panics in observer callbacks
	fn(v)
}
