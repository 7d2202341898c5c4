package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
	stateFailed
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = time.Second
	defaultDialTimeout = 5 * time.Second
)

// RedisOptions configures the Redis-backed adapter.
type RedisOptions struct {
	// URL in redis://[user:pass@]host:port[/db] form.
	URL string
	// MaxAttempts bounds one reconnect cycle. Zero means the default.
	MaxAttempts int
	// BaseDelay is the first backoff step; it doubles per attempt.
	BaseDelay time.Duration
}

// RedisAdapter distributes channel traffic through Redis pub/sub.
//
// The connection is lazy and guarded by a single-flight state machine:
// whichever caller finds the adapter idle runs the connect loop, all
// others queue behind it. On a lost subscriber connection the receive
// loop re-enters the same loop with exponential backoff and, on
// success, re-issues a broker-level SUBSCRIBE for every channel that
// still has local handlers, so subscribers keep receiving without
// re-calling Subscribe. Exhausted attempts park the adapter in a
// failed state and every call surfaces ErrBrokerUnavailable.
type RedisAdapter struct {
	opts        *redis.Options
	log         *zerolog.Logger
	maxAttempts int
	baseDelay   time.Duration
	dialTimeout time.Duration

	table *subscriptionTable

	mu      sync.Mutex
	state   connState
	client  *redis.Client
	sub     *redis.PubSub
	gen     int // bumped per (re)connect; orphans stale receive loops
	lastErr error
	waiters []chan error
}

// NewRedisAdapter builds an adapter from options. The URL is parsed
// eagerly so a bad address fails at startup, not on first publish.
func NewRedisAdapter(opts RedisOptions, logger *zerolog.Logger) (*RedisAdapter, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	return &RedisAdapter{
		opts:        parsed,
		log:         logger,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		dialTimeout: defaultDialTimeout,
		table:       newSubscriptionTable(),
	}, nil
}

// Connect eagerly establishes the broker connection. A previously
// failed adapter is given a fresh reconnect cycle.
func (a *RedisAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.state == stateFailed {
		a.state = stateIdle
		a.lastErr = nil
	}
	a.mu.Unlock()
	return a.ensureConnected(ctx)
}

// Disconnect tears down the broker connection. Handler registrations
// survive; the next Publish or Subscribe reconnects lazily.
func (a *RedisAdapter) Disconnect() error {
	a.mu.Lock()
	a.gen++
	a.state = stateIdle
	a.lastErr = nil
	sub, client := a.sub, a.client
	a.sub, a.client = nil, nil
	a.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

// Publish sends the payload to a channel, connecting first if needed.
func (a *RedisAdapter) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := a.ensureConnected(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if err := client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers a handler; the first handler for a channel
// issues the broker-level SUBSCRIBE.
func (a *RedisAdapter) Subscribe(ctx context.Context, channel string, fn Handler) (*Subscription, error) {
	if err := a.ensureConnected(ctx); err != nil {
		return nil, err
	}

	sub := &Subscription{channel: channel, fn: fn}
	sub.remove = func(ctx context.Context) error {
		if a.table.remove(sub) {
			return a.brokerUnsubscribe(ctx, channel)
		}
		return nil
	}

	if a.table.add(sub) {
		a.mu.Lock()
		ps := a.sub
		a.mu.Unlock()
		if err := ps.Subscribe(ctx, channel); err != nil {
			a.table.remove(sub)
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}
	return sub, nil
}

// Unsubscribe drops every handler for the channel and force-issues a
// broker-level UNSUBSCRIBE regardless of remaining registrants.
func (a *RedisAdapter) Unsubscribe(ctx context.Context, channel string) error {
	a.table.drop(channel)
	return a.brokerUnsubscribe(ctx, channel)
}

// ensureConnected resolves the adapter to connected or failed.
// Exactly one caller drives the connect loop; the rest wait on it.
func (a *RedisAdapter) ensureConnected(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case stateConnected:
		a.mu.Unlock()
		return nil
	case stateFailed:
		err := a.lastErr
		a.mu.Unlock()
		if err == nil {
			err = ErrBrokerUnavailable
		}
		return err
	case stateConnecting:
		done := make(chan error, 1)
		a.waiters = append(a.waiters, done)
		a.mu.Unlock()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		a.state = stateConnecting
		a.mu.Unlock()
		return a.connectLoop()
	}
}

// connectLoop runs one bounded reconnect cycle with doubling backoff.
func (a *RedisAdapter) connectLoop() error {
	delay := a.baseDelay
	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if attempt > 1 {
			a.log.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", delay).Msg("redis connect retry")
			time.Sleep(delay)
			delay *= 2
		}
		if err := a.open(); err != nil {
			lastErr = err
			continue
		}
		a.settle(nil)
		return nil
	}

	err := fmt.Errorf("%w: %v", ErrBrokerUnavailable, lastErr)
	a.log.Error().Err(lastErr).Int("attempts", a.maxAttempts).Msg("redis connect attempts exhausted")
	a.settle(err)
	return err
}

// open dials Redis, restores broker-level subscriptions for every
// channel that still has handlers, and starts the receive loop.
func (a *RedisAdapter) open() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.dialTimeout)
	defer cancel()

	client := redis.NewClient(a.opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping: %w", err)
	}

	sub := client.Subscribe(context.Background())
	restored, err := a.restoreSubscriptions(ctx, sub)
	if err != nil {
		_ = sub.Close()
		_ = client.Close()
		return err
	}
	if len(restored) > 0 {
		a.log.Info().Strs("channels", restored).Msg("restored channel subscriptions")
	}

	a.mu.Lock()
	old, oldSub := a.client, a.sub
	a.client, a.sub = client, sub
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	if oldSub != nil {
		_ = oldSub.Close()
	}
	if old != nil {
		_ = old.Close()
	}

	go a.receiveLoop(sub, gen)
	return nil
}

// subscriber is the slice of redis.PubSub the restore step needs.
type subscriber interface {
	Subscribe(ctx context.Context, channels ...string) error
}

// restoreSubscriptions re-issues a broker-level SUBSCRIBE for every
// channel that still has local handlers, returning what it restored.
// Channels whose handlers were all removed while disconnected are not
// restored.
func (a *RedisAdapter) restoreSubscriptions(ctx context.Context, sub subscriber) ([]string, error) {
	channels := a.table.channels()
	if len(channels) == 0 {
		return nil, nil
	}
	if err := sub.Subscribe(ctx, channels...); err != nil {
		return nil, fmt.Errorf("resubscribe: %w", err)
	}
	return channels, nil
}

func (a *RedisAdapter) settle(err error) {
	a.mu.Lock()
	if err == nil {
		a.state = stateConnected
	} else {
		a.state = stateFailed
		a.lastErr = err
	}
	waiters := a.waiters
	a.waiters = nil
	a.mu.Unlock()

	for _, w := range waiters {
		w <- err
	}
}

func (a *RedisAdapter) receiveLoop(sub *redis.PubSub, gen int) {
	for {
		msg, err := sub.ReceiveMessage(context.Background())
		if err != nil {
			a.onReceiveError(gen, err)
			return
		}
		a.table.dispatch(msg.Channel, []byte(msg.Payload), a.log)
	}
}

// onReceiveError re-enters the connect loop unless the loop is stale
// or the disconnect was deliberate.
func (a *RedisAdapter) onReceiveError(gen int, err error) {
	a.mu.Lock()
	if gen != a.gen || a.state != stateConnected {
		a.mu.Unlock()
		return
	}
	a.state = stateConnecting
	a.mu.Unlock()

	a.log.Warn().Err(err).Msg("redis subscriber connection lost")
	_ = a.connectLoop()
}

func (a *RedisAdapter) brokerUnsubscribe(ctx context.Context, channel string) error {
	a.mu.Lock()
	ps := a.sub
	connected := a.state == stateConnected
	a.mu.Unlock()

	// Not connected: the channel is already gone from the table, so
	// the next reconnect simply will not restore it.
	if !connected || ps == nil {
		return nil
	}
	if err := ps.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	return nil
}
