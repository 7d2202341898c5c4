package pubsub

import (
	"sync"

	"github.com/rs/zerolog"
)

// subscriptionTable is the per-channel handler bookkeeping shared by
// adapter implementations. Invariant: a broker-level subscription for
// a channel exists iff the channel's handler list is non-empty; add
// and remove report the transitions so the adapter can act on them.
type subscriptionTable struct {
	mu   sync.Mutex
	subs map[string][]*Subscription
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{subs: make(map[string][]*Subscription)}
}

// add registers a handler and reports whether it is the channel's first.
func (t *subscriptionTable) add(sub *Subscription) (first bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	existing := t.subs[sub.channel]
	t.subs[sub.channel] = append(existing, sub)
	return len(existing) == 0
}

// remove deletes one handler and reports whether it was the channel's
// last. Removing an unknown handler is a no-op.
func (t *subscriptionTable) remove(sub *Subscription) (last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	existing := t.subs[sub.channel]
	found := false
	for i, s := range existing {
		if s == sub {
			existing = append(existing[:i], existing[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if len(existing) == 0 {
		delete(t.subs, sub.channel)
		return true
	}
	t.subs[sub.channel] = existing
	return false
}

// drop removes all handlers for a channel, reporting whether any existed.
func (t *subscriptionTable) drop(channel string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, had := t.subs[channel]
	delete(t.subs, channel)
	return had
}

// channels snapshots every channel that still has handlers. Used to
// restore broker-level subscriptions after a reconnect.
func (t *subscriptionTable) channels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.subs))
	for ch := range t.subs {
		out = append(out, ch)
	}
	return out
}

// dispatch fans a payload out to every handler registered for the
// channel. Handlers run independently; a panic in one never prevents
// the others from running.
func (t *subscriptionTable) dispatch(channel string, payload []byte, logger *zerolog.Logger) {
	t.mu.Lock()
	snapshot := make([]*Subscription, len(t.subs[channel]))
	copy(snapshot, t.subs[channel])
	t.mu.Unlock()

	for _, sub := range snapshot {
		invoke(sub, payload, logger)
	}
}

func invoke(sub *Subscription, payload []byte, logger *zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error().Interface("panic", r).Str("channel", sub.channel).Msg("subscriber handler panicked")
		}
	}()
	sub.fn(payload)
}
