package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var errBackendDown = errors.New("connection refused")

// failingStore errors on every operation, standing in for an unreachable
// distributed backend.
type failingStore struct {
	calls int64
}

func (f *failingStore) bump() error {
	atomic.AddInt64(&f.calls, 1)
	return errBackendDown
}

func (f *failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, f.bump()
}
func (f *failingStore) Set(context.Context, string, string, time.Duration) error { return f.bump() }
func (f *failingStore) Delete(context.Context, string) error                     { return f.bump() }
func (f *failingStore) AddToSet(context.Context, string, string, time.Duration) (bool, error) {
	return false, f.bump()
}
func (f *failingStore) RemoveFromSet(context.Context, string, string) (bool, error) {
	return false, f.bump()
}
func (f *failingStore) MembersOf(context.Context, string) ([]string, error) { return nil, f.bump() }
func (f *failingStore) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, f.bump()
}
func (f *failingStore) Ping(context.Context) error { return errBackendDown }
func (f *failingStore) Close() error               { return nil }

func TestFallbackStoreFailsOpen(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	primary := &failingStore{}
	local := NewMemoryStore()
	uut := NewFallbackStore(primary, local, zap.NewNop())
	defer func() { assert.Nil(uut.Close()) }()

	assert.False(uut.Degraded())

	// The failing write is retried against the local store; the caller never
	// sees the backend error
	assert.Nil(uut.Set(ctx, "k", "v", 0))
	assert.True(uut.Degraded())

	val, ok, err := uut.Get(ctx, "k")
	assert.Nil(err)
	assert.True(ok)
	assert.Equal("v", val)

	// Once degraded the primary is never consulted again
	before := atomic.LoadInt64(&primary.calls)
	added, err := uut.AddToSet(ctx, "s", "a", 0)
	assert.Nil(err)
	assert.True(added)
	members, err := uut.MembersOf(ctx, "s")
	assert.Nil(err)
	assert.Equal([]string{"a"}, members)
	assert.Equal(before, atomic.LoadInt64(&primary.calls))
}

func TestFallbackStoreMarkDegraded(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	primary := &failingStore{}
	local := NewMemoryStore()
	uut := NewFallbackStore(primary, local, zap.NewNop())
	defer func() { assert.Nil(uut.Close()) }()

	uut.MarkDegraded("startup probe", errBackendDown)
	assert.True(uut.Degraded())

	// All traffic goes straight to the local store
	assert.Nil(uut.Set(ctx, "k", "v", 0))
	assert.Equal(int64(0), atomic.LoadInt64(&primary.calls))

	// Ping reflects the serving backend, which is now the local store
	assert.Nil(uut.Ping(ctx))
}

func TestFallbackStoreHealthyPrimary(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	primary := NewMemoryStore()
	local := NewMemoryStore()
	uut := NewFallbackStore(primary, local, zap.NewNop())
	defer func() { assert.Nil(uut.Close()) }()

	assert.Nil(uut.Set(ctx, "k", "v", 0))
	assert.False(uut.Degraded())

	// The value lives in the primary, not the local store
	val, ok, err := primary.Get(ctx, "k")
	assert.Nil(err)
	assert.True(ok)
	assert.Equal("v", val)

	_, ok, err = local.Get(ctx, "k")
	assert.Nil(err)
	assert.False(ok)
}
