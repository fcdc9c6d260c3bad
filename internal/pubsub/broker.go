// Package pubsub fans per-user change signals out to in-process listeners.
package pubsub

import (
	"context"
	"sync"

	"vitals/internal/domain"
)

var _ domain.ChangeNotifier = (*Broker)(nil)

// Broker is an in-process domain.ChangeNotifier. Each listener has a
// one-slot buffer, so a slow listener sees bursts of signals as one.
type Broker struct {
	mu        sync.Mutex
	listeners map[int64]map[chan struct{}]struct{}
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{listeners: make(map[int64]map[chan struct{}]struct{})}
}

// Publish signals every listener of userID. It never blocks.
func (b *Broker) Publish(_ context.Context, userID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.listeners[userID] {
		signal(ch)
	}
	return nil
}

// PublishAll signals every listener of every user. Used after a lost
// upstream connection, when individual changes may have been missed.
func (b *Broker) PublishAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.listeners {
		for ch := range set {
			signal(ch)
		}
	}
}

// Listen registers a listener for userID.
func (b *Broker) Listen(_ context.Context, userID int64) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	set, ok := b.listeners[userID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.listeners[userID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(set, ch)
			if len(set) == 0 {
				delete(b.listeners, userID)
			}
			close(ch)
		})
	}
	return ch, stop, nil
}

// Listeners returns the number of registered listeners for userID.
func (b *Broker) Listeners(userID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[userID])
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
