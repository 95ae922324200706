package statecache

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Reason tells a subscriber why its channel was closed
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonUnsubscribed Reason = "unsubscribed"
	ReasonSlowConsumer Reason = "slow consumer"
	ReasonClosed       Reason = "cache closed"
)

type subscribeConfig struct {
	bufferSize int
	name       string
}

type SubscribeOption func(*subscribeConfig)

// WithBufferSize overrides the queue length of a single subscriber
func WithBufferSize(size int) SubscribeOption {
	return func(cfg *subscribeConfig) {
		if size > 0 {
			cfg.bufferSize = size
		}
	}
}

// WithName labels the subscriber in logs
func WithName(name string) SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.name = name
	}
}

// Subscription is the consumer side of a registered subscriber.
// C is closed once the subscriber has been removed from the cache.
type Subscription struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	C         <-chan Diff

	ch     chan Diff
	reason atomic.Value
}

func newSubscription(cfg subscribeConfig, now time.Time) *Subscription {
	ch := make(chan Diff, cfg.bufferSize)
	name := cfg.name
	if name == "" {
		name = "anonymous"
	}
	return &Subscription{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: now,
		C:         ch,
		ch:        ch,
	}
}

// only called with the cache lock held, so at most once per subscription
func (s *Subscription) close(reason Reason) {
	s.reason.Store(reason)
	close(s.ch)
}

// Reason returns why C was closed, or ReasonNone while the subscriber is registered
func (s *Subscription) Reason() Reason {
	r, ok := s.reason.Load().(Reason)
	if !ok {
		return ReasonNone
	}
	return r
}
