package unread

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countChange struct {
	threadKey string
	count     int
	global    int
}

type recordingObserver struct {
	mu      sync.Mutex
	changes []countChange
}

func (o *recordingObserver) UnreadChanged(threadKey string, count, global int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, countChange{threadKey, count, global})
}

func newTestCounter() *Counter {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewCounter(logger)
}

func TestIncrementIsIdempotent(t *testing.T) {
	c := newTestCounter()

	assert.True(t, c.Increment("t1", "m1"))
	assert.False(t, c.Increment("t1", "m1"), "re-adding a counted message changes nothing")

	assert.Equal(t, 1, c.Count("t1"))
	assert.Equal(t, 1, c.GlobalCount())
}

func TestDecrementWithoutIncrement(t *testing.T) {
	c := newTestCounter()

	assert.False(t, c.Decrement("t1", "ghost"))
	assert.Equal(t, 0, c.Count("t1"))
	assert.Equal(t, 0, c.GlobalCount(), "count never goes negative")
}

func TestIncrementDecrementRoundTrip(t *testing.T) {
	c := newTestCounter()

	c.Increment("t1", "m1")
	c.Increment("t1", "m2")
	c.Increment("t2", "m3")
	assert.Equal(t, 2, c.Count("t1"))
	assert.Equal(t, 1, c.Count("t2"))
	assert.Equal(t, 3, c.GlobalCount())

	assert.True(t, c.Decrement("t1", "m1"))
	assert.False(t, c.Decrement("t1", "m1"))
	assert.Equal(t, 1, c.Count("t1"))
	assert.Equal(t, 2, c.GlobalCount())
}

func TestContains(t *testing.T) {
	c := newTestCounter()
	c.Increment("t1", "m1")

	assert.True(t, c.Contains("t1", "m1"))
	assert.False(t, c.Contains("t1", "m2"))
	assert.False(t, c.Contains("t2", "m1"))
}

func TestObserversFireOnRealChangesOnly(t *testing.T) {
	c := newTestCounter()
	obs := &recordingObserver{}
	c.Subscribe(obs)

	c.Increment("t1", "m1")
	c.Increment("t1", "m1") // duplicate, no callback
	c.Decrement("t1", "m1")
	c.Decrement("t1", "m1") // unmatched, no callback

	require.Len(t, obs.changes, 2)
	assert.Equal(t, countChange{"t1", 1, 1}, obs.changes[0])
	assert.Equal(t, countChange{"t1", 0, 0}, obs.changes[1])
}

func TestSnapshot(t *testing.T) {
	c := newTestCounter()
	c.Increment("t1", "m1")
	c.Increment("t1", "m2")
	c.Increment("t2", "m3")

	snap := c.Snapshot()

	assert.Equal(t, map[string]int{"t1": 2, "t2": 1}, snap)
}

func TestRestoreReplacesStateSilently(t *testing.T) {
	c := newTestCounter()
	obs := &recordingObserver{}
	c.Increment("t1", "stale")
	c.Subscribe(obs)

	c.Restore("t1", []string{"m1", "m2", "m3"})

	assert.Equal(t, 3, c.Count("t1"))
	assert.Equal(t, 3, c.GlobalCount())
	assert.False(t, c.Contains("t1", "stale"))
	assert.Empty(t, obs.changes, "recovery is not a user-visible mutation")
}

func TestConcurrentMutationsConserveCounts(t *testing.T) {
	c := newTestCounter()

	const threads = 8
	const perThread = 50

	var wg sync.WaitGroup
	for ti := 0; ti < threads; ti++ {
		wg.Add(1)
		go func(ti int) {
			defer wg.Done()
			key := fmt.Sprintf("t%d", ti)
			for mi := 0; mi < perThread; mi++ {
				id := fmt.Sprintf("m%d", mi)
				c.Increment(key, id)
				c.Increment(key, id) // concurrent duplicates must not double-count
			}
			for mi := 0; mi < perThread/2; mi++ {
				c.Decrement(key, fmt.Sprintf("m%d", mi))
			}
		}(ti)
	}
	wg.Wait()

	total := 0
	for _, count := range c.Snapshot() {
		assert.Equal(t, perThread/2, count)
		total += count
	}
	assert.Equal(t, total, c.GlobalCount())
	assert.Equal(t, threads*perThread/2, total)
}
