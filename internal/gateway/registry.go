package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pulsegate/gateway/internal/store"
)

// Sender delivers text frames to one client connection. Implemented by the
// transport layer; the registry is the only place sender handles live.
type Sender interface {
	Send(frame []byte) error
	Close(reason string) error
}

// Connection is the per-connection metadata tracked by the registry.
type Connection struct {
	ID           string    `json:"id"`
	OpenedAt     time.Time `json:"opened_at"`
	LastActivity time.Time `json:"last_activity"`
	Channels     []string  `json:"-"`
}

// Store key layout. The connection id set has no expiry; stale ids are
// scrubbed lazily when All observes a missing record.
const connSetKey = "conns"

func connKey(id string) string         { return "conn:" + id }
func connChannelsKey(id string) string { return "conn:" + id + ":channels" }
func channelKey(name string) string    { return "chan:" + name }
func rateKey(id string) string         { return "rate:" + id }

// Registry tracks per-connection metadata in the state store and owns the
// transport sender handles.
type Registry struct {
	store store.Store
	// ttl outlives the idle timeout so a lost close event cannot leak a
	// record forever in the distributed backend.
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	senders map[string]Sender
}

// NewRegistry creates a registry whose records expire at twice the idle
// timeout.
func NewRegistry(st store.Store, idleTimeout time.Duration) *Registry {
	return &Registry{
		store:   st,
		ttl:     2 * idleTimeout,
		now:     time.Now,
		senders: make(map[string]Sender),
	}
}

// Register creates the metadata record for a newly opened connection and
// retains its sender handle.
func (r *Registry) Register(ctx context.Context, id string, sender Sender) error {
	now := r.now()
	record := Connection{ID: id, OpenedAt: now, LastActivity: now}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal connection record: %w", err)
	}
	if err := r.store.Set(ctx, connKey(id), string(raw), r.ttl); err != nil {
		return fmt.Errorf("store connection record: %w", err)
	}
	if _, err := r.store.AddToSet(ctx, connSetKey, id, 0); err != nil {
		return fmt.Errorf("index connection record: %w", err)
	}

	r.mu.Lock()
	r.senders[id] = sender
	r.mu.Unlock()
	return nil
}

// Touch advances the connection's last-activity timestamp. Touching a
// connection that is no longer registered is a no-op.
func (r *Registry) Touch(ctx context.Context, id string) error {
	raw, ok, err := r.store.Get(ctx, connKey(id))
	if err != nil || !ok {
		return err
	}
	var record Connection
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return fmt.Errorf("decode connection record: %w", err)
	}
	record.LastActivity = r.now()
	updated, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal connection record: %w", err)
	}
	return r.store.Set(ctx, connKey(id), string(updated), r.ttl)
}

// Remove drops the sender handle and deletes the metadata record. It
// reports whether a sender was still attached, which makes close paths
// idempotent.
func (r *Registry) Remove(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	_, existed := r.senders[id]
	delete(r.senders, id)
	r.mu.Unlock()

	if err := r.store.Delete(ctx, connKey(id)); err != nil {
		return existed, err
	}
	if _, err := r.store.RemoveFromSet(ctx, connSetKey, id); err != nil {
		return existed, err
	}
	return existed, nil
}

// Get returns the connection's metadata including its subscribed channels.
func (r *Registry) Get(ctx context.Context, id string) (Connection, bool, error) {
	raw, ok, err := r.store.Get(ctx, connKey(id))
	if err != nil || !ok {
		return Connection{}, false, err
	}
	var record Connection
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Connection{}, false, fmt.Errorf("decode connection record: %w", err)
	}
	channels, err := r.store.MembersOf(ctx, connChannelsKey(id))
	if err != nil {
		return Connection{}, false, err
	}
	record.Channels = channels
	return record, true, nil
}

// All returns a snapshot of every registered connection. Ids whose record
// expired are scrubbed from the index as they are encountered, so iteration
// tolerates concurrent mutation.
func (r *Registry) All(ctx context.Context) ([]Connection, error) {
	ids, err := r.store.MembersOf(ctx, connSetKey)
	if err != nil {
		return nil, err
	}
	conns := make([]Connection, 0, len(ids))
	for _, id := range ids {
		record, ok, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			_, _ = r.store.RemoveFromSet(ctx, connSetKey, id)
			continue
		}
		conns = append(conns, record)
	}
	return conns, nil
}

// Sender returns the transport handle for a locally attached connection.
func (r *Registry) Sender(id string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[id]
	return s, ok
}

// LocalIDs returns the ids of connections attached to this process.
func (r *Registry) LocalIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.senders))
	for id := range r.senders {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of locally attached connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.senders)
}
