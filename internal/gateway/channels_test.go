package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/pulsegate/gateway/internal/metrics"
	"github.com/pulsegate/gateway/internal/store"
	"github.com/pulsegate/gateway/internal/workers"
)

func newTestDirectory(t *testing.T) (*Directory, *Registry, *store.MemoryStore) {
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	pool := workers.NewWorkerPool(4, 64)
	t.Cleanup(pool.Stop)

	reg := NewRegistry(st, 300*time.Second)
	dir := NewDirectory(st, reg, pool, 600*time.Second, zap.NewNop())
	return dir, reg, st
}

func TestDirectorySubscribeUnsubscribe(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	dir, _, _ := newTestDirectory(t)

	assert.Nil(dir.Subscribe(ctx, "news", "a"))
	assert.Nil(dir.Subscribe(ctx, "news", "b"))
	assert.Nil(dir.Subscribe(ctx, "sports", "a"))

	subs, err := dir.SubscribersOf(ctx, "news")
	assert.Nil(err)
	assert.ElementsMatch([]string{"a", "b"}, subs)

	assert.Nil(dir.Unsubscribe(ctx, "news", "a"))
	subs, err = dir.SubscribersOf(ctx, "news")
	assert.Nil(err)
	assert.Equal([]string{"b"}, subs)

	// A channel with no subscribers simply has an empty set
	assert.Nil(dir.Unsubscribe(ctx, "news", "b"))
	subs, err = dir.SubscribersOf(ctx, "news")
	assert.Nil(err)
	assert.Empty(subs)

	// Unsubscribing a connection that never subscribed is a no-op
	assert.Nil(dir.Unsubscribe(ctx, "news", "ghost"))
}

func TestDirectoryUnsubscribeAll(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	dir, _, _ := newTestDirectory(t)

	assert.Nil(dir.Subscribe(ctx, "news", "a"))
	assert.Nil(dir.Subscribe(ctx, "sports", "a"))
	assert.Nil(dir.Subscribe(ctx, "news", "b"))

	assert.Nil(dir.UnsubscribeAll(ctx, "a"))

	subs, err := dir.SubscribersOf(ctx, "news")
	assert.Nil(err)
	assert.Equal([]string{"b"}, subs)
	subs, err = dir.SubscribersOf(ctx, "sports")
	assert.Nil(err)
	assert.Empty(subs)
}

func TestDirectorySubscriptionsAgeOutWithoutRefresh(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	clock := newTestClock()
	st := store.NewMemoryStore()
	st.SetClock(clock.Now)
	t.Cleanup(func() { _ = st.Close() })

	pool := workers.NewWorkerPool(4, 64)
	t.Cleanup(pool.Stop)

	reg := NewRegistry(st, 300*time.Second)
	dir := NewDirectory(st, reg, pool, 600*time.Second, zap.NewNop())

	// A subscriber whose close event was lost never refreshes its sets
	assert.Nil(dir.Subscribe(ctx, "news", "ghost"))

	clock.Advance(601 * time.Second)
	subs, err := dir.SubscribersOf(ctx, "news")
	assert.Nil(err)
	assert.Empty(subs)
	channels, err := st.MembersOf(ctx, connChannelsKey("ghost"))
	assert.Nil(err)
	assert.Empty(channels)
}

func TestDirectorySubscriptionGaugeTracksMembership(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	dir, _, _ := newTestDirectory(t)

	before := metrics.GetActiveSubscriptionsCount()

	assert.Nil(dir.Subscribe(ctx, "news", "a"))
	assert.Nil(dir.Subscribe(ctx, "news", "a")) // repeat subscribe is a no-op
	assert.Equal(before+1, metrics.GetActiveSubscriptionsCount())

	assert.Nil(dir.Unsubscribe(ctx, "news", "a"))
	assert.Nil(dir.Unsubscribe(ctx, "news", "a"))     // already gone
	assert.Nil(dir.Unsubscribe(ctx, "news", "ghost")) // never subscribed
	assert.Equal(before, metrics.GetActiveSubscriptionsCount())
}

func TestDirectoryPublishFanOut(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	dir, reg, _ := newTestDirectory(t)

	senders := map[string]*stubSender{
		"a": {},
		"b": {},
		"c": {},
	}
	for id, s := range senders {
		assert.Nil(reg.Register(ctx, id, s))
		assert.Nil(dir.Subscribe(ctx, "news", id))
	}

	payload := json.RawMessage(`{"headline":"hello"}`)
	delivered, err := dir.Publish(ctx, "news", payload, "")
	assert.Nil(err)
	assert.Equal(3, delivered)

	for id, s := range senders {
		frames := s.sent()
		assert.Len(frames, 1, "subscriber %s", id)
		assert.Equal(ActionMessage, frames[0].Action)
		assert.Equal("news", frames[0].Channel)
		assert.JSONEq(string(payload), string(frames[0].Payload))
	}
}

func TestDirectoryPublishExcludesOrigin(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	dir, reg, _ := newTestDirectory(t)

	origin := &stubSender{}
	other := &stubSender{}
	assert.Nil(reg.Register(ctx, "origin", origin))
	assert.Nil(reg.Register(ctx, "other", other))
	assert.Nil(dir.Subscribe(ctx, "news", "origin"))
	assert.Nil(dir.Subscribe(ctx, "news", "other"))

	delivered, err := dir.Publish(ctx, "news", json.RawMessage(`{}`), "origin")
	assert.Nil(err)
	assert.Equal(1, delivered)
	assert.Empty(origin.sent())
	assert.Len(other.sent(), 1)
}

func TestDirectoryPublishBestEffort(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	dir, reg, _ := newTestDirectory(t)

	var mu sync.Mutex
	var flagged []string
	dir.SetFailureHandler(func(connID string) {
		mu.Lock()
		defer mu.Unlock()
		flagged = append(flagged, connID)
	})

	healthy1 := &stubSender{}
	broken := &stubSender{failSend: true}
	healthy2 := &stubSender{}
	assert.Nil(reg.Register(ctx, "h1", healthy1))
	assert.Nil(reg.Register(ctx, "broken", broken))
	assert.Nil(reg.Register(ctx, "h2", healthy2))
	for _, id := range []string{"h1", "broken", "h2"} {
		assert.Nil(dir.Subscribe(ctx, "news", id))
	}

	// One failed send never aborts the rest of the fan-out
	delivered, err := dir.Publish(ctx, "news", json.RawMessage(`{}`), "")
	assert.Nil(err)
	assert.Equal(2, delivered)
	assert.Len(healthy1.sent(), 1)
	assert.Len(healthy2.sent(), 1)

	// The failed subscriber was flagged for lazy cleanup, not removed inline
	mu.Lock()
	defer mu.Unlock()
	assert.Equal([]string{"broken"}, flagged)
	subs, err := dir.SubscribersOf(ctx, "news")
	assert.Nil(err)
	assert.ElementsMatch([]string{"h1", "broken", "h2"}, subs)
}

func TestDirectoryPublishSkipsRemoteSubscribers(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	dir, reg, _ := newTestDirectory(t)

	local := &stubSender{}
	assert.Nil(reg.Register(ctx, "local", local))
	assert.Nil(dir.Subscribe(ctx, "news", "local"))
	// "remote" is in the shared subscriber set but has no local sender
	assert.Nil(dir.Subscribe(ctx, "news", "remote"))

	delivered, err := dir.Publish(ctx, "news", json.RawMessage(`{}`), "")
	assert.Nil(err)
	assert.Equal(1, delivered)
	assert.Len(local.sent(), 1)
}
