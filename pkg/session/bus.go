package session

import "sync"

// ExpiryBus broadcasts "session expired" to every subscriber. Any component
// may publish; the Manager is the canonical subscriber.
type ExpiryBus struct {
	mu     sync.Mutex
	subs   map[uint64]func(reason error)
	nextID uint64
}

func NewExpiryBus() *ExpiryBus {
	return &ExpiryBus{subs: make(map[uint64]func(error))}
}

// Subscribe registers fn and returns a function that removes it.
func (b *ExpiryBus) Subscribe(fn func(reason error)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish calls every subscriber synchronously with reason.
func (b *ExpiryBus) Publish(reason error) {
	b.mu.Lock()
	fns := make([]func(error), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(reason)
	}
}
