// Package eventbus provides a small generic pub/sub broker used by Store
// (state snapshots, action results) and the host registry (host changes)
// to notify observers without coupling the data plane to any particular UI
// framework. It generalizes the teacher's fixed cluster-event broker into a
// reusable primitive parameterized over the event payload type.
package eventbus

import "sync"

// Subscriber is a channel that receives events of type T.
type Subscriber[T any] chan T

// Broker distributes published events to every current subscriber. A slow
// or inattentive subscriber drops events rather than blocking the
// publisher — Store notifications must never stall on an observer.
type Broker[T any] struct {
	mu          sync.RWMutex
	subscribers map[chan T]bool
	eventCh     chan T
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a Broker ready to Start.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subscribers: make(map[chan T]bool),
		eventCh:     make(chan T, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop in its own goroutine.
func (b *Broker[T]) Start() {
	go b.run()
}

// Stop halts distribution and closes every subscriber channel. Safe to
// call more than once.
func (b *Broker[T]) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)

		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			delete(b.subscribers, sub)
			close(sub)
		}
	})
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Broker[T]) Subscribe() Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(chan T, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broker[T]) Unsubscribe(sub Subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish enqueues an event for distribution. It never blocks past the
// broker's shutdown.
func (b *Broker[T]) Publish(event T) {
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker[T]) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker[T]) broadcast(event T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full; drop rather than block the broker
		}
	}
}

// SubscriberCount reports the number of currently active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
