package events

import (
	"sync"
	"sync/atomic"
)

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan Event
	dropped atomic.Int64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel; it is safe to call twice.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers event to every subscriber with room in its buffer and
// returns how many subscribers received it.
func (b *Bus) Publish(event Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- event:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers returns the number of active subscribers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a buffer was full
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
