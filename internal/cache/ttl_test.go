package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTTL_GetReturnsFreshValue(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewWithClock[string, float64](time.Minute, clock.Now)

	c.Put("btc", 50000)

	clock.Advance(59 * time.Second)
	price, ok := c.Get("btc")
	require.True(t, ok)
	assert.Equal(t, 50000.0, price)
}

func TestTTL_GetTreatsStaleAsAbsent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewWithClock[string, float64](time.Minute, clock.Now)

	c.Put("btc", 50000)

	// Exactly at the TTL boundary the entry is already stale.
	clock.Advance(time.Minute)
	_, ok := c.Get("btc")
	assert.False(t, ok)

	// The entry is not evicted, just hidden.
	assert.Equal(t, 1, c.Len())
}

func TestTTL_GetMissingKey(t *testing.T) {
	c := New[string, int](time.Minute)

	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestTTL_PutResetsTimestamp(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewWithClock[string, float64](time.Minute, clock.Now)

	c.Put("btc", 50000)
	clock.Advance(50 * time.Second)

	// Re-putting resets the window and replaces the value.
	c.Put("btc", 51000)
	clock.Advance(50 * time.Second)

	price, ok := c.Get("btc")
	require.True(t, ok)
	assert.Equal(t, 51000.0, price)
}

func TestTTL_GetStaleIgnoresFreshness(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewWithClock[string, []float64](time.Minute, clock.Now)

	c.Put("closes", []float64{1, 2, 3})
	clock.Advance(time.Hour)

	_, ok := c.Get("closes")
	require.False(t, ok)

	closes, ok := c.GetStale("closes")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3}, closes)
}
