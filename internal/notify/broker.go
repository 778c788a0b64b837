package notify

import (
	"log/slog"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity used when NewBroker is given a non-positive size
const DefaultBuffer = 32

// Broker fans out published values to every current subscriber.
// A nil *Broker is valid and drops everything published to it.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	nextID int
	buffer int
	closed bool
}

// NewBroker creates a Broker whose subscriber channels hold up to buffer values
func NewBroker[T any](buffer int) *Broker[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker[T]{
		subs:   make(map[int]chan T),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel func closes the
// channel and is safe to call more than once.
func (b *Broker[T]) Subscribe() (<-chan T, func()) {
	if b == nil {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}
	ch := make(chan T, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers v to every subscriber without blocking and returns how many
// received it. Subscribers whose buffer is full miss the value.
func (b *Broker[T]) Publish(v T) int {
	if b == nil {
		return 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, ch := range b.subs {
		select {
		case ch <- v:
			delivered++
		default:
			slog.Warn("Dropping notification for slow subscriber", "subscriber", id)
		}
	}
	return delivered
}

// Subscribers returns the number of active subscribers
func (b *Broker[T]) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions receive an
// already-closed channel.
func (b *Broker[T]) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
