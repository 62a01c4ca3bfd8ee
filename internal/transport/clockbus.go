package transport

import (
	"strconv"
	"sync"

	"github.com/straln/braidcore/internal/wire"
)

// ClockModelBus fans a newly-fitted clock model out to every subscriber.
// The coordinator's clock-model fanout task subscribes and pushes each
// update to every registered camera node via SetClockModel; the sync
// controller reads the estimator directly. Grounded on the serialmux Subscribe/
// Unsubscribe pattern: each subscriber owns a channel keyed by an opaque
// ID, removed on Unsubscribe.
type ClockModelBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan wire.ClockModel
	nextID      int
}

// NewClockModelBus creates an empty bus.
func NewClockModelBus() *ClockModelBus {
	return &ClockModelBus{subscribers: make(map[string]chan wire.ClockModel)}
}

// Subscribe registers a new subscriber and returns its ID and channel.
// The channel has a small buffer so a slow subscriber does not stall
// Publish; if the buffer is full, the update is dropped for that
// subscriber rather than blocking the publisher.
func (b *ClockModelBus) Subscribe() (string, <-chan wire.ClockModel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := strconv.Itoa(b.nextID)
	ch := make(chan wire.ClockModel, 1)
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *ClockModelBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Publish fans model out to every current subscriber, non-blocking.
func (b *ClockModelBus) Publish(model wire.ClockModel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- model:
		default:
			// Slow subscriber: drop this update, it will see the next one.
		}
	}
}
