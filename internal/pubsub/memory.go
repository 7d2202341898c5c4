package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// MemoryAdapter is an in-process broker. It backs single-instance
// deployments that run without Redis, and tests: several gateways
// sharing one MemoryAdapter behave like relay instances sharing a
// broker.
type MemoryAdapter struct {
	log   *zerolog.Logger
	table *subscriptionTable

	mu           sync.Mutex
	closed       bool
	subscribes   map[string]int
	unsubscribes map[string]int
}

// NewMemoryAdapter builds an in-process adapter.
func NewMemoryAdapter(logger *zerolog.Logger) *MemoryAdapter {
	return &MemoryAdapter{
		log:          logger,
		table:        newSubscriptionTable(),
		subscribes:   make(map[string]int),
		unsubscribes: make(map[string]int),
	}
}

// Connect re-opens a previously disconnected adapter.
func (a *MemoryAdapter) Connect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = false
	return nil
}

// Disconnect stops delivery; later calls fail until Connect.
func (a *MemoryAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Publish delivers the payload to every handler subscribed to the
// channel, synchronously.
func (a *MemoryAdapter) Publish(_ context.Context, channel string, payload []byte) error {
	if err := a.check(); err != nil {
		return err
	}
	a.table.dispatch(channel, payload, a.log)
	return nil
}

// Subscribe registers a handler for the channel.
func (a *MemoryAdapter) Subscribe(_ context.Context, channel string, fn Handler) (*Subscription, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.New("pubsub: nil handler")
	}

	sub := &Subscription{channel: channel, fn: fn}
	sub.remove = func(context.Context) error {
		if a.table.remove(sub) {
			a.countUnsubscribe(channel)
		}
		return nil
	}
	if a.table.add(sub) {
		a.countSubscribe(channel)
	}
	return sub, nil
}

// Unsubscribe removes every handler for the channel immediately.
func (a *MemoryAdapter) Unsubscribe(_ context.Context, channel string) error {
	if a.table.drop(channel) {
		a.countUnsubscribe(channel)
	}
	return nil
}

// SubscribeCount reports broker-level subscribes issued for a channel.
// Test hook; mirrors what a real broker would have seen.
func (a *MemoryAdapter) SubscribeCount(channel string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subscribes[channel]
}

// UnsubscribeCount reports broker-level unsubscribes issued for a channel.
func (a *MemoryAdapter) UnsubscribeCount(channel string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unsubscribes[channel]
}

func (a *MemoryAdapter) check() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrBrokerUnavailable
	}
	return nil
}

func (a *MemoryAdapter) countSubscribe(channel string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribes[channel]++
}

func (a *MemoryAdapter) countUnsubscribe(channel string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unsubscribes[channel]++
}
