package sentinel

import (
	"sync"
	"sync/atomic"
)

// Observer receives notifications published on an EventBus
type Observer func(Notification)

// Subscription identifies a registered observer
type Subscription uint64

type subscriber struct {
	id       Subscription
	observer Observer
}

// EventBus fans notifications out to subscribers in subscription order.
//
// Publish iterates over a copy of the subscriber list taken when it starts:
// observers subscribed during a publish miss that notification, and observers
// unsubscribed during a publish may still receive it.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	nextID      Subscription
	dropped     atomic.Uint64
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers observer and returns the handle used to remove it
func (b *EventBus) Subscribe(observer Observer) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subscribers = append(b.subscribers, subscriber{id: b.nextID, observer: observer})
	return b.nextID
}

// Unsubscribe removes the observer registered under sub. Unknown handles are ignored.
func (b *EventBus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subscribers {
		if s.id == sub {
			next := make([]subscriber, 0, len(b.subscribers)-1)
			next = append(next, b.subscribers[:i]...)
			next = append(next, b.subscribers[i+1:]...)
			b.subscribers = next
			return
		}
	}
}

// Publish delivers n to every current subscriber
func (b *EventBus) Publish(n Notification) {
	b.mu.RLock()
	subscribers := b.subscribers
	b.mu.RUnlock()

	for _, s := range subscribers {
		s.observer(n)
	}
}

// SubscribeChan delivers notifications on a buffered channel. When the
// channel is full the notification is dropped for that subscriber.
// The channel is never closed; callers stop reading after Unsubscribe.
func (b *EventBus) SubscribeChan(buffer int) (<-chan Notification, Subscription) {
	ch := make(chan Notification, buffer)
	sub := b.Subscribe(func(n Notification) {
		select {
		case ch <- n:
		default:
			b.dropped.Add(1)
		}
	})
	return ch, sub
}

// Len returns the number of current subscribers
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many channel deliveries were dropped on full buffers
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}
