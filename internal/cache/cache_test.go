package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scamwatch-io/scamwatch/internal/hash/sha256"
)

// fakeClock lets tests advance time manually.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	clock := newFakeClock()
	return New(Config{TTL: ttl, MaxSize: maxSize}, clock, sha256.New()), clock
}

// TestSetThenGet verifies a freshly set entry is readable.
func TestSetThenGet(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(time.Minute, 4)
	c.Set("is this legit?", json.RawMessage(`{"risk":"low"}`))
	got, ok := c.Get("is this legit?")
	require.True(t, ok)
	require.JSONEq(t, `{"risk":"low"}`, string(got))
}

// TestGetMiss asserts an untouched key reports absent.
func TestGetMiss(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(time.Minute, 4)
	_, ok := c.Get("never stored")
	require.False(t, ok)
}

// TestTTLExpiry verifies an entry becomes invisible once the TTL elapses and
// that the expired read lazily removes it.
func TestTTLExpiry(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(time.Minute, 4)
	c.Set("text", json.RawMessage(`{"risk":"high"}`))

	clock.Advance(59 * time.Second)
	_, ok := c.Get("text")
	require.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = c.Get("text")
	require.False(t, ok)
	require.Equal(t, 0, c.Size())
}

// TestInsertionOrderEviction asserts the earliest-inserted key goes first at
// capacity, even when it was recently re-set.
func TestInsertionOrderEviction(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(time.Hour, 2)
	c.Set("first", json.RawMessage(`1`))
	c.Set("second", json.RawMessage(`2`))
	// Refreshing "first" must not protect it from eviction.
	c.Set("first", json.RawMessage(`10`))

	c.Set("third", json.RawMessage(`3`))
	require.Equal(t, 2, c.Size())
	_, ok := c.Get("first")
	require.False(t, ok)
	_, ok = c.Get("second")
	require.True(t, ok)
	_, ok = c.Get("third")
	require.True(t, ok)
}

// TestNormalizationCollision verifies case and padding differences share one entry.
func TestNormalizationCollision(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(time.Minute, 4)
	c.Set("  Foo  ", json.RawMessage(`{"risk":"medium"}`))
	got, ok := c.Get("foo")
	require.True(t, ok)
	require.JSONEq(t, `{"risk":"medium"}`, string(got))
	require.Equal(t, 1, c.Size())
}

// TestResetRefreshesTTL verifies a re-set entry gets a fresh TTL window.
func TestResetRefreshesTTL(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(time.Minute, 4)
	c.Set("text", json.RawMessage(`1`))
	clock.Advance(45 * time.Second)
	c.Set("text", json.RawMessage(`2`))
	clock.Advance(45 * time.Second)

	got, ok := c.Get("text")
	require.True(t, ok)
	require.Equal(t, json.RawMessage(`2`), got)
}

// TestClear resets the cache to empty.
func TestClear(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(time.Minute, 4)
	c.Set("a", json.RawMessage(`1`))
	c.Set("b", json.RawMessage(`2`))
	c.Clear()
	require.Equal(t, 0, c.Size())
	_, ok := c.Get("a")
	require.False(t, ok)
}

// TestConcurrentAccess exercises parallel get/set on distinct keys.
func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(time.Minute, 256)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", n)
			for j := 0; j < 50; j++ {
				c.Set(key, json.RawMessage(`{"n":1}`))
				_, _ = c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 16, c.Size())
}
