package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus used in tests and in single-replica
// deployments that run without a broker.
type MemoryBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
	closed   bool
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[uint64]Handler)}
}

func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	// Synchronous fan-out keeps tests deterministic.
	for _, h := range handlers {
		h(evt)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	b.nextID++
	id := b.nextID
	b.handlers[id] = handler

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
	return cancel, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[uint64]Handler)
	return nil
}
