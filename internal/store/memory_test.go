package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryStoreSetGet(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	uut := NewMemoryStore()
	defer func() { assert.Nil(uut.Close()) }()

	_, ok, err := uut.Get(ctx, "missing")
	assert.Nil(err)
	assert.False(ok)

	assert.Nil(uut.Set(ctx, "k", "v", 0))
	val, ok, err := uut.Get(ctx, "k")
	assert.Nil(err)
	assert.True(ok)
	assert.Equal("v", val)

	assert.Nil(uut.Delete(ctx, "k"))
	_, ok, err = uut.Get(ctx, "k")
	assert.Nil(err)
	assert.False(ok)
}

func TestMemoryStoreExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	clock := newTestClock()
	uut := NewMemoryStore()
	defer func() { assert.Nil(uut.Close()) }()
	uut.SetClock(clock.Now)

	assert.Nil(uut.Set(ctx, "short", "v", 10*time.Second))
	assert.Nil(uut.Set(ctx, "forever", "v", 0))

	clock.Advance(5 * time.Second)
	_, ok, err := uut.Get(ctx, "short")
	assert.Nil(err)
	assert.True(ok)

	clock.Advance(6 * time.Second)
	_, ok, err = uut.Get(ctx, "short")
	assert.Nil(err)
	assert.False(ok)

	_, ok, err = uut.Get(ctx, "forever")
	assert.Nil(err)
	assert.True(ok)
}

func TestMemoryStoreSets(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	uut := NewMemoryStore()
	defer func() { assert.Nil(uut.Close()) }()

	members, err := uut.MembersOf(ctx, "empty")
	assert.Nil(err)
	assert.Empty(members)

	added, err := uut.AddToSet(ctx, "s", "a", 0)
	assert.Nil(err)
	assert.True(added)
	added, err = uut.AddToSet(ctx, "s", "b", 0)
	assert.Nil(err)
	assert.True(added)

	// A duplicate add reports no change
	added, err = uut.AddToSet(ctx, "s", "a", 0)
	assert.Nil(err)
	assert.False(added)

	members, err = uut.MembersOf(ctx, "s")
	assert.Nil(err)
	assert.ElementsMatch([]string{"a", "b"}, members)

	removed, err := uut.RemoveFromSet(ctx, "s", "a")
	assert.Nil(err)
	assert.True(removed)
	members, err = uut.MembersOf(ctx, "s")
	assert.Nil(err)
	assert.Equal([]string{"b"}, members)

	// Removing the last member drops the set entirely
	removed, err = uut.RemoveFromSet(ctx, "s", "b")
	assert.Nil(err)
	assert.True(removed)
	members, err = uut.MembersOf(ctx, "s")
	assert.Nil(err)
	assert.Empty(members)

	// Removing from a missing set is a no-op reporting no change
	removed, err = uut.RemoveFromSet(ctx, "gone", "x")
	assert.Nil(err)
	assert.False(removed)
}

func TestMemoryStoreSetExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	clock := newTestClock()
	uut := NewMemoryStore()
	defer func() { assert.Nil(uut.Close()) }()
	uut.SetClock(clock.Now)

	added, err := uut.AddToSet(ctx, "s", "a", 10*time.Second)
	assert.Nil(err)
	assert.True(added)

	clock.Advance(11 * time.Second)
	members, err := uut.MembersOf(ctx, "s")
	assert.Nil(err)
	assert.Empty(members)

	// Adding after expiry starts a fresh set
	added, err = uut.AddToSet(ctx, "s", "b", 10*time.Second)
	assert.Nil(err)
	assert.True(added)
	members, err = uut.MembersOf(ctx, "s")
	assert.Nil(err)
	assert.Equal([]string{"b"}, members)
}

func TestMemoryStoreIncrement(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	clock := newTestClock()
	uut := NewMemoryStore()
	defer func() { assert.Nil(uut.Close()) }()
	uut.SetClock(clock.Now)

	n, err := uut.Increment(ctx, "c", time.Minute)
	assert.Nil(err)
	assert.Equal(int64(1), n)

	n, err = uut.Increment(ctx, "c", time.Minute)
	assert.Nil(err)
	assert.Equal(int64(2), n)

	// The window is armed by the first increment; later increments do not
	// extend it
	clock.Advance(59 * time.Second)
	n, err = uut.Increment(ctx, "c", time.Minute)
	assert.Nil(err)
	assert.Equal(int64(3), n)

	clock.Advance(2 * time.Second)
	n, err = uut.Increment(ctx, "c", time.Minute)
	assert.Nil(err)
	assert.Equal(int64(1), n)
}
