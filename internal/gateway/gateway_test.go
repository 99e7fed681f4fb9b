package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/pulsegate/gateway/internal/config"
	"github.com/pulsegate/gateway/internal/store"
	"github.com/pulsegate/gateway/internal/workers"
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

// stubSender records frames instead of writing to a socket.
type stubSender struct {
	mu       sync.Mutex
	frames   []OutboundFrame
	failSend bool
	closed   bool
	reason   string
}

func (s *stubSender) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend {
		return errors.New("broken pipe")
	}
	var decoded OutboundFrame
	if err := json.Unmarshal(frame, &decoded); err != nil {
		return err
	}
	s.frames = append(s.frames, decoded)
	return nil
}

func (s *stubSender) Close(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.reason = reason
	return nil
}

func (s *stubSender) sent() []OutboundFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutboundFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *stubSender) last() OutboundFrame {
	frames := s.sent()
	if len(frames) == 0 {
		return OutboundFrame{}
	}
	return frames[len(frames)-1]
}

func (s *stubSender) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func testGatewayConfig() config.GatewayConfig {
	return config.GatewayConfig{
		ConnectionTimeout: 300 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxConnections:    100,
		MaxFrameBytes:     65536,
		Throttling:        config.ThrottlingConfig{MaxMessages: 3, Window: time.Minute},
	}
}

func newTestGateway(t *testing.T) (*Gateway, *store.MemoryStore, *testClock) {
	clock := newTestClock()
	st := store.NewMemoryStore()
	st.SetClock(clock.Now)
	t.Cleanup(func() { _ = st.Close() })

	pool := workers.NewWorkerPool(4, 64)
	t.Cleanup(pool.Stop)

	gw := New(testGatewayConfig(), st, pool, nil, zap.NewNop())
	gw.registry.now = clock.Now
	gw.heartbeat.now = clock.Now
	return gw, st, clock
}

func rawFrame(t *testing.T, action string, data interface{}) []byte {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		assert.Nil(t, err)
		raw = encoded
	}
	frame, err := json.Marshal(InboundFrame{Action: action, Data: raw})
	assert.Nil(t, err)
	return frame
}

func TestGatewayWelcomeOnOpen(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	gw, _, _ := newTestGateway(t)

	sender := &stubSender{}
	assert.Nil(gw.OnOpen(ctx, "conn-1", sender))

	frames := sender.sent()
	assert.Len(frames, 1)
	assert.Equal(ActionWelcome, frames[0].Action)
	assert.Equal("conn-1", frames[0].ConnectionID)
	assert.Equal(1, gw.ConnectionCount())
}

func TestGatewaySubscribeAndPublish(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	gw, _, _ := newTestGateway(t)

	alice := &stubSender{}
	bob := &stubSender{}
	assert.Nil(gw.OnOpen(ctx, "alice", alice))
	assert.Nil(gw.OnOpen(ctx, "bob", bob))

	gw.OnFrame(ctx, "alice", rawFrame(t, ActionSubscribe, map[string]string{"channel": "news"}))
	gw.OnFrame(ctx, "bob", rawFrame(t, ActionSubscribe, map[string]string{"channel": "news"}))

	gw.OnFrame(ctx, "alice", rawFrame(t, ActionMessage, map[string]interface{}{
		"channel": "news",
		"payload": map[string]string{"headline": "hello"},
	}))

	// Bob receives the broadcast
	msg := bob.last()
	assert.Equal(ActionMessage, msg.Action)
	assert.Equal("news", msg.Channel)
	assert.JSONEq(`{"headline":"hello"}`, string(msg.Payload))

	// The publisher does not receive its own message back
	for _, f := range alice.sent() {
		assert.NotEqual(ActionMessage, f.Action)
	}
}

func TestGatewayMalformedFrame(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	gw, _, _ := newTestGateway(t)

	sender := &stubSender{}
	assert.Nil(gw.OnOpen(ctx, "conn-1", sender))

	gw.OnFrame(ctx, "conn-1", []byte("{not json"))

	last := sender.last()
	assert.Equal(ActionError, last.Action)
	assert.Contains(last.Reason, "malformed JSON")
	// The connection survives a malformed frame
	assert.False(sender.isClosed())
	assert.Equal(1, gw.ConnectionCount())
}

func TestGatewayUnknownAction(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	gw, _, _ := newTestGateway(t)

	sender := &stubSender{}
	assert.Nil(gw.OnOpen(ctx, "conn-1", sender))

	gw.OnFrame(ctx, "conn-1", rawFrame(t, "teleport", nil))

	last := sender.last()
	assert.Equal(ActionError, last.Action)
	assert.Contains(last.Reason, "unknown action")
	assert.False(sender.isClosed())
}

func TestGatewayValidationError(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	gw, _, _ := newTestGateway(t)

	sender := &stubSender{}
	assert.Nil(gw.OnOpen(ctx, "conn-1", sender))

	gw.OnFrame(ctx, "conn-1", rawFrame(t, ActionSubscribe, map[string]string{}))

	last := sender.last()
	assert.Equal(ActionError, last.Action)
	assert.Contains(last.Fields, "channel: required")
}

func TestGatewayRateLimited(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	gw, _, clock := newTestGateway(t)

	sender := &stubSender{}
	assert.Nil(gw.OnOpen(ctx, "conn-1", sender))

	publish := func() {
		gw.OnFrame(ctx, "conn-1", rawFrame(t, ActionMessage, map[string]interface{}{
			"channel": "news",
			"payload": map[string]int{"n": 1},
		}))
	}

	// Budget is 3 per window; the fourth message is dropped
	for i := 0; i < 3; i++ {
		publish()
		assert.NotEqual(ActionRateLimited, sender.last().Action)
	}
	publish()
	assert.Equal(ActionRateLimited, sender.last().Action)
	assert.False(sender.isClosed())

	// The window rolls over and the budget is restored; an admitted publish
	// sends nothing back to the publisher
	clock.Advance(61 * time.Second)
	before := len(sender.sent())
	publish()
	assert.Len(sender.sent(), before)
}

func TestGatewayOnCloseCleanup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	gw, st, _ := newTestGateway(t)

	sender := &stubSender{}
	assert.Nil(gw.OnOpen(ctx, "conn-1", sender))
	gw.OnFrame(ctx, "conn-1", rawFrame(t, ActionSubscribe, map[string]string{"channel": "news"}))
	gw.OnFrame(ctx, "conn-1", rawFrame(t, ActionSubscribe, map[string]string{"channel": "sports"}))

	assert.Nil(gw.OnClose(ctx, "conn-1"))

	subs, err := gw.directory.SubscribersOf(ctx, "news")
	assert.Nil(err)
	assert.Empty(subs)
	subs, err = gw.directory.SubscribersOf(ctx, "sports")
	assert.Nil(err)
	assert.Empty(subs)

	_, ok, err := gw.registry.Get(ctx, "conn-1")
	assert.Nil(err)
	assert.False(ok)

	_, ok, err = st.Get(ctx, rateKey("conn-1"))
	assert.Nil(err)
	assert.False(ok)

	assert.Equal(0, gw.ConnectionCount())

	// A second close for the same id is a no-op
	assert.Nil(gw.OnClose(ctx, "conn-1"))
	assert.Equal(0, gw.ConnectionCount())
}

func TestGatewayPongKeepsConnectionAlive(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	gw, _, clock := newTestGateway(t)

	sender := &stubSender{}
	assert.Nil(gw.OnOpen(ctx, "conn-1", sender))

	clock.Advance(200 * time.Second)
	gw.OnFrame(ctx, "conn-1", rawFrame(t, ActionPong, nil))

	record, ok, err := gw.registry.Get(ctx, "conn-1")
	assert.Nil(err)
	assert.True(ok)
	assert.True(record.LastActivity.Equal(clock.Now()))
}
