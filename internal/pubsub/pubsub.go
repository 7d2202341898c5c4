package pubsub

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrBrokerUnavailable is returned once reconnect attempts are
	// exhausted. Callers decide whether to retry or degrade.
	ErrBrokerUnavailable = errors.New("pubsub: broker unavailable")
)

// Handler consumes a raw payload delivered on a subscribed channel.
type Handler func(payload []byte)

// Adapter abstracts publish/subscribe against an external broker.
// Connection is lazy: the first Publish or Subscribe connects if
// needed; Connect is exposed only for eager warm-up.
//
// Subscribe is additive: a second handler on an already-subscribed
// channel registers locally without a second broker-level
// subscription. The broker-level subscription is created on the first
// handler and torn down on the last removal.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, fn Handler) (*Subscription, error)
	// Unsubscribe removes every handler for the channel and
	// force-unsubscribes at the broker immediately.
	Unsubscribe(ctx context.Context, channel string) error
}

// Subscription is the handle returned by Subscribe. Go functions are
// not comparable, so removing a single handler goes through its handle.
type Subscription struct {
	channel string
	fn      Handler

	once   sync.Once
	remove func(ctx context.Context) error
}

// Channel reports the channel this subscription listens on.
func (s *Subscription) Channel() string { return s.channel }

// Unsubscribe removes this handler only. When it was the channel's
// last handler the adapter issues a broker-level unsubscribe.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		if s.remove != nil {
			err = s.remove(ctx)
		}
	})
	return err
}
