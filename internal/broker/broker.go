// Package broker implements a small generic fan-out broker that also supports addressed
// delivery to a single subscriber (needed for echo correlation in the connection
// multiplexer).
package broker

import (
	"errors"
	"sync"
)

// Broker implements a simple fan-out message broker with optional addressed delivery.
type Broker[T any] struct {
	mu          sync.Mutex
	subscribers map[string]chan T
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subscribers: make(map[string]chan T),
	}
}

// Subscribe registers a new subscriber with the given name and channel buffer size.
func (b *Broker[T]) Subscribe(name string, size int) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, size)
	b.subscribers[name] = ch
	return ch
}

// Unsubscribe removes and closes a subscriber's channel. A no-op if name is unknown.
func (b *Broker[T]) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[name]
	if !ok {
		return
	}
	delete(b.subscribers, name)
	close(ch)
}

// Publish sends a message to all registered subscribers asynchronously.
func (b *Broker[T]) Publish(t T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) == 0 {
		return errors.New("no subscribers")
	}

	for _, ch := range b.subscribers {
		go func(ch chan T) {
			// Run concurrently so a single slow subscriber can't block the others. Close()
			// races with this send; recover() absorbs the resulting panic.
			defer func() { recover() }()
			ch <- t
		}(ch)
	}

	return nil
}

// PublishTo sends a message to a single named subscriber, for routing an echo back to the
// client whose outstanding command it answers.
func (b *Broker[T]) PublishTo(name string, t T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[name]
	if !ok {
		return errors.New("no such subscriber")
	}

	go func(ch chan T) {
		defer func() { recover() }()
		ch <- t
	}(ch)

	return nil
}

// Names returns the currently subscribed names.
func (b *Broker[T]) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.subscribers))
	for name := range b.subscribers {
		names = append(names, name)
	}
	return names
}

// Close closes all subscriber channels, signaling that no more messages will be published.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[string]chan T)
}
