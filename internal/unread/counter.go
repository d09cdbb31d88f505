// Package unread maintains per-thread and global unread counts. Membership
// in a per-thread counted set, not a bare integer, is what is tracked:
// duplicate increments and decrements without a matching increment are
// no-ops by construction, so replayed network events cannot skew a badge.
package unread

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"chatledger/internal/metrics"
)

// Observer is notified after a thread's count actually changes. Callbacks
// run on the mutating goroutine; observers must not block.
type Observer interface {
	UnreadChanged(threadKey string, count int, global int)
}

type threadState struct {
	mu      sync.Mutex
	counted map[string]struct{}
}

// Counter serializes mutations per thread key; different threads mutate in
// parallel. The global count is an eventually consistent snapshot readable
// without blocking writers.
type Counter struct {
	mu      sync.Mutex // guards threads map and observer list
	threads map[string]*threadState
	global  atomic.Int64

	observers []Observer
	logger    *logrus.Logger
}

func NewCounter(logger *logrus.Logger) *Counter {
	return &Counter{
		threads: make(map[string]*threadState),
		logger:  logger,
	}
}

// Subscribe registers an observer for count changes.
func (c *Counter) Subscribe(obs Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, obs)
}

func (c *Counter) thread(key string) *threadState {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads[key]
	if !ok {
		t = &threadState{counted: make(map[string]struct{})}
		c.threads[key] = t
	}
	return t
}

// Increment adds a message to the thread's counted set. Idempotent per
// message ID: re-adding an already counted message changes nothing.
func (c *Counter) Increment(threadKey, messageID string) bool {
	t := c.thread(threadKey)
	t.mu.Lock()
	if _, ok := t.counted[messageID]; ok {
		t.mu.Unlock()
		return false
	}
	t.counted[messageID] = struct{}{}
	count := len(t.counted)
	t.mu.Unlock()

	global := int(c.global.Add(1))
	c.publish(threadKey, count, global)
	return true
}

// Decrement removes a message from the counted set. Removing a message that
// was never counted is a no-op, never a negative count.
func (c *Counter) Decrement(threadKey, messageID string) bool {
	t := c.thread(threadKey)
	t.mu.Lock()
	if _, ok := t.counted[messageID]; !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.counted, messageID)
	count := len(t.counted)
	t.mu.Unlock()

	global := int(c.global.Add(-1))
	c.publish(threadKey, count, global)
	return true
}

// Contains reports whether a message is currently counted.
func (c *Counter) Contains(threadKey, messageID string) bool {
	t := c.thread(threadKey)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.counted[messageID]
	return ok
}

// Count returns the thread's current unread count.
func (c *Counter) Count(threadKey string) int {
	t := c.thread(threadKey)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counted)
}

// GlobalCount returns the total across threads. The value is a snapshot and
// may trail in-flight mutations; it never blocks writers.
func (c *Counter) GlobalCount() int {
	return int(c.global.Load())
}

// Snapshot returns every thread's current count.
func (c *Counter) Snapshot() map[string]int {
	c.mu.Lock()
	keys := make([]string, 0, len(c.threads))
	states := make([]*threadState, 0, len(c.threads))
	for k, t := range c.threads {
		keys = append(keys, k)
		states = append(states, t)
	}
	c.mu.Unlock()

	out := make(map[string]int, len(keys))
	for i, t := range states {
		t.mu.Lock()
		out[keys[i]] = len(t.counted)
		t.mu.Unlock()
	}
	return out
}

// Restore seeds a thread's counted set from the durable store at startup,
// replacing whatever is in memory. No observers fire; recovery is not a
// mutation of user-visible state.
func (c *Counter) Restore(threadKey string, messageIDs []string) {
	t := c.thread(threadKey)
	t.mu.Lock()
	delta := -len(t.counted)
	t.counted = make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		t.counted[id] = struct{}{}
	}
	delta += len(t.counted)
	t.mu.Unlock()
	c.global.Add(int64(delta))
}

func (c *Counter) publish(threadKey string, count, global int) {
	metrics.SetGauge("unread_thread", float64(count), map[string]string{"thread": threadKey}, "Unread messages in thread")
	metrics.SetGauge("unread_global", float64(global), nil, "Unread messages across all threads")

	c.mu.Lock()
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, obs := range observers {
		obs.UnreadChanged(threadKey, count, global)
	}
}
