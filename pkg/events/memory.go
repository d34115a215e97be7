package events

import (
	"context"
	"sync"
)

// MemoryBus broadcasts events to in-process subscribers. Slow subscribers
// lose events instead of blocking publishers. All methods are safe for
// concurrent use.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	bufferSize  int
	closed      bool
	cleanupWg   sync.WaitGroup
}

// NewMemoryBus creates a bus whose subscribers buffer bufferSize events.
func NewMemoryBus(bufferSize int) *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[*Subscription]struct{}),
		bufferSize:  max(bufferSize, 1),
	}
}

// Subscription receives events from a MemoryBus.
type Subscription struct {
	ch      chan Event
	mu      sync.Mutex
	closed  bool
	dropped int
	types   map[Type]bool
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped counts events lost because the buffer was full.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.types) > 0 && !s.types[e.Type] {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped++
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Subscribe registers a subscriber for the given types (all when none). The
// subscription ends when ctx is cancelled or the bus is closed.
func (b *MemoryBus) Subscribe(ctx context.Context, types ...Type) *Subscription {
	sub := &Subscription{ch: make(chan Event, b.bufferSize)}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subscribers[sub] = struct{}{}

	if ctx.Done() != nil {
		b.cleanupWg.Add(1)
		go func() {
			defer b.cleanupWg.Done()
			<-ctx.Done()
			b.unsubscribe(sub)
		}()
	}
	return sub
}

// Publish implements Publisher.
func (b *MemoryBus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for sub := range b.subscribers {
		sub.deliver(e)
	}
	return nil
}

// Close ends every subscription. It is safe to call more than once.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for sub := range b.subscribers {
		sub.close()
	}
	clear(b.subscribers)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sub)
	sub.close()
}
