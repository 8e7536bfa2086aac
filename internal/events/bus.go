package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/optiinfra/optiinfra/internal/telemetry"
)

// Subscription is one live subscriber. Events arrive on C; the channel is
// buffered and a saturated subscriber drops rather than blocks the bus.
type Subscription struct {
	ID     string
	C      chan Event
	filter func(Event) bool
}

// Bus fans events out to subscribers in-process.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	bufferSize  int
}

// NewBus builds a bus; bufferSize is the per-subscriber channel depth.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[string]*Subscription),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber; a nil filter receives everything.
func (b *Bus) Subscribe(filter func(Event) bool) *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		C:      make(chan Event, b.bufferSize),
		filter: filter,
	}
	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// SubscribeTypes registers a subscriber for specific event types.
func (b *Bus) SubscribeTypes(types ...Type) *Subscription {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return b.Subscribe(func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	})
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub.ID]; ok {
		delete(b.subscribers, sub.ID)
		close(sub.C)
	}
}

// Publish delivers the event to every matching subscriber without
// blocking; full channels drop the event and bump the counter.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if sub.filter != nil && !sub.filter(e) {
			continue
		}
		select {
		case sub.C <- e:
		default:
			telemetry.EventsDropped.Inc()
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
