// Copyright 2023 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package statecache owns the canonical session state.
//
// Every mutation goes through a single mutex, which also guards the subscriber registry
// and diff publication. Publication never blocks: each subscriber has its own bounded
// channel and a subscriber whose channel is full is dropped instead of skipping diffs,
// so every live subscriber always sees the exact sequence of applied updates.
package statecache

import (
	"sync"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/pkg/datamodel"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBufferSize is the per-subscriber queue length used when no option overrides it
const DefaultBufferSize = 512

// Diff is one applied update as it is redistributed to subscribers
type Diff struct {
	// Updates is the update exactly as it was merged
	Updates   datamodel.Value
	Timestamp time.Time
	// Seq is the number of updates applied so far, including this one
	Seq uint64
	// State is the canonical state right after this update was merged
	State datamodel.Value
	// Previous is the canonical state the update was merged into. Keyed entries are
	// replaced whole, so fields an update omits are only found here.
	Previous datamodel.Value
}

// Statistics are read-only diagnostics of the cache
type Statistics struct {
	SubscriberCount       int       `json:"subscriberCount"`
	UpdatesApplied        uint64    `json:"updatesApplied"`
	FullStateReplacements uint64    `json:"fullStateReplacements"`
	DroppedSubscribers    uint64    `json:"droppedSubscribers"`
	Seq                   uint64    `json:"seq"`
	StartedAt             time.Time `json:"startedAt"`
	LastUpdateAt          *time.Time `json:"lastUpdateAt,omitempty"`
}

type Cache struct {
	mu    sync.Mutex
	state datamodel.Value

	subscribers map[uuid.UUID]*Subscription
	bufferSize  int

	seq                   uint64
	fullStateReplacements uint64
	droppedSubscribers    uint64
	startedAt             time.Time
	lastUpdateAt          time.Time

	now func() time.Time
}

// New creates a cache holding an empty state. bufferSize <= 0 selects DefaultBufferSize.
func New(bufferSize int) *Cache {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Cache{
		state:       datamodel.EmptyObject(),
		subscribers: make(map[uuid.UUID]*Subscription),
		bufferSize:  bufferSize,
		startedAt:   time.Now(),
		now:         time.Now,
	}
}

// ApplyUpdate merges update into the canonical state and publishes it to every subscriber.
// Updates that are not objects cannot be merged at the root and are ignored.
func (c *Cache) ApplyUpdate(update datamodel.Value) {
	if !update.IsObject() {
		zap.S().Warnf("Ignoring update of kind %s, expected an object", update.Kind())
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.state
	c.state = datamodel.Merge(previous, update, "")
	c.seq++
	c.lastUpdateAt = c.now()
	updatesApplied.Inc()

	diff := Diff{
		Updates:   update,
		Timestamp: c.lastUpdateAt,
		Seq:       c.seq,
		State:     c.state,
		Previous:  previous,
	}
	c.publishLocked(diff)
}

// ReplaceFullState installs state as the new canonical state without publishing a diff.
// Subscribers connecting afterwards receive it as their initial snapshot.
func (c *Cache) ReplaceFullState(state datamodel.Value) {
	if !state.IsObject() {
		zap.S().Warnf("Replacing state with a %s, using an empty object instead", state.Kind())
		state = datamodel.EmptyObject()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = state
	c.fullStateReplacements++
	c.lastUpdateAt = c.now()
	fullStateReplacements.Inc()
}

// Snapshot returns the current canonical state. Values are immutable, so the result can be
// read while further updates are applied.
func (c *Cache) Snapshot() datamodel.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers a subscriber that receives every diff published from now on.
// It does not deliver the current state, see SubscribeWithSnapshot.
func (c *Cache) Subscribe(opts ...SubscribeOption) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribeLocked(opts)
}

// SubscribeWithSnapshot reads the state and registers the subscriber atomically.
// Every update is either contained in the returned state or delivered on the channel,
// never both and never neither.
func (c *Cache) SubscribeWithSnapshot(opts ...SubscribeOption) (datamodel.Value, *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.subscribeLocked(opts)
}

func (c *Cache) subscribeLocked(opts []SubscribeOption) *Subscription {
	cfg := subscribeConfig{bufferSize: c.bufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := newSubscription(cfg, c.now())
	c.subscribers[sub.ID] = sub
	subscribersGauge.Set(float64(len(c.subscribers)))
	zap.S().Debugf("Registered subscriber %s (%s) [buffer: %d]", sub.ID, sub.Name, cfg.bufferSize)
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Unknown ids are ignored.
func (c *Cache) Unsubscribe(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscribers[id]
	if !ok {
		return
	}
	c.removeLocked(sub, ReasonUnsubscribed)
}

// Statistics returns a consistent view of the cache counters
func (c *Cache) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Statistics{
		SubscriberCount:       len(c.subscribers),
		UpdatesApplied:        c.seq,
		FullStateReplacements: c.fullStateReplacements,
		DroppedSubscribers:    c.droppedSubscribers,
		Seq:                   c.seq,
		StartedAt:             c.startedAt,
	}
	if !c.lastUpdateAt.IsZero() {
		lastUpdateAt := c.lastUpdateAt
		stats.LastUpdateAt = &lastUpdateAt
	}
	return stats
}

// Close removes every subscriber, closing their channels
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subscribers {
		c.removeLocked(sub, ReasonClosed)
	}
}

func (c *Cache) publishLocked(diff Diff) {
	for _, sub := range c.subscribers {
		select {
		case sub.ch <- diff:
		default:
			zap.S().Warnf("Subscriber %s (%s) is too slow, dropping it [buffer: %d]", sub.ID, sub.Name, cap(sub.ch))
			c.droppedSubscribers++
			droppedSubscribers.Inc()
			c.removeLocked(sub, ReasonSlowConsumer)
		}
	}
}

func (c *Cache) removeLocked(sub *Subscription, reason Reason) {
	delete(c.subscribers, sub.ID)
	sub.close(reason)
	subscribersGauge.Set(float64(len(c.subscribers)))
	zap.S().Debugf("Removed subscriber %s (%s): %s", sub.ID, sub.Name, reason)
}
