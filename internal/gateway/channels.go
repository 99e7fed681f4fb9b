package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/pulsegate/gateway/internal/errors"
	"github.com/pulsegate/gateway/internal/metrics"
	"github.com/pulsegate/gateway/internal/store"
	"github.com/pulsegate/gateway/internal/workers"
)

// Directory maps channel names to subscriber-id sets. A channel exists
// exactly as long as its subscriber set is non-empty; there is no explicit
// channel creation or deletion. The per-connection channel set is kept in
// lockstep with the channel sets so UnsubscribeAll never has to scan every
// channel.
type Directory struct {
	store    store.Store
	registry *Registry
	pool     *workers.WorkerPool
	ttl      time.Duration
	log      *zap.Logger

	// onSendFailure schedules a subscriber for lazy cleanup on the next
	// heartbeat pass instead of mutating the subscriber set mid-broadcast.
	onSendFailure func(connID string)
}

// NewDirectory creates a channel directory. Fan-out sends run on pool.
func NewDirectory(st store.Store, reg *Registry, pool *workers.WorkerPool, ttl time.Duration, log *zap.Logger) *Directory {
	return &Directory{
		store:    st,
		registry: reg,
		pool:     pool,
		ttl:      ttl,
		log:      log,
	}
}

// SetFailureHandler installs the lazy-cleanup hook for failed sends.
func (d *Directory) SetFailureHandler(fn func(connID string)) {
	d.onSendFailure = fn
}

// Subscribe adds the connection to the channel. The channel set and the
// connection's own channel set are updated as one logical operation. Both
// sets carry a ttl; live subscribers re-arm it on every heartbeat pass, so
// a set whose subscribers all vanished without a close event ages out
// instead of living forever.
func (d *Directory) Subscribe(ctx context.Context, channel, connID string) error {
	added, err := d.store.AddToSet(ctx, channelKey(channel), connID, d.ttl)
	if err != nil {
		return err
	}
	if _, err := d.store.AddToSet(ctx, connChannelsKey(connID), channel, d.ttl); err != nil {
		// Roll back the half-applied subscription rather than leave the two
		// sets disagreeing.
		_, _ = d.store.RemoveFromSet(ctx, channelKey(channel), connID)
		return err
	}
	if added {
		metrics.IncrementActiveSubscriptions()
	}
	d.log.Debug("Subscribed",
		zap.String("channel", channel),
		zap.String("connection_id", connID))
	return nil
}

// Unsubscribe removes the connection from the channel.
func (d *Directory) Unsubscribe(ctx context.Context, channel, connID string) error {
	removed, err := d.store.RemoveFromSet(ctx, channelKey(channel), connID)
	if err != nil {
		return err
	}
	if _, err := d.store.RemoveFromSet(ctx, connChannelsKey(connID), channel); err != nil {
		return err
	}
	if removed {
		metrics.DecrementActiveSubscriptions()
	}
	d.log.Debug("Unsubscribed",
		zap.String("channel", channel),
		zap.String("connection_id", connID))
	return nil
}

// SubscribersOf returns a snapshot of the channel's subscriber ids.
func (d *Directory) SubscribersOf(ctx context.Context, channel string) ([]string, error) {
	return d.store.MembersOf(ctx, channelKey(channel))
}

// UnsubscribeAll removes the connection from every channel it subscribed
// to, consulting the connection's own channel set.
func (d *Directory) UnsubscribeAll(ctx context.Context, connID string) error {
	channels, err := d.store.MembersOf(ctx, connChannelsKey(connID))
	if err != nil {
		return err
	}
	for _, channel := range channels {
		if err := d.Unsubscribe(ctx, channel, connID); err != nil {
			return err
		}
	}
	return nil
}

// RefreshSubscriptions re-arms the ttl on every set the connection is a
// member of. Called by the heartbeat pass for connections that are still
// live; any live subscriber keeps its channel sets from aging out.
func (d *Directory) RefreshSubscriptions(ctx context.Context, connID string) error {
	channels, err := d.store.MembersOf(ctx, connChannelsKey(connID))
	if err != nil {
		return err
	}
	for _, channel := range channels {
		if _, err := d.store.AddToSet(ctx, channelKey(channel), connID, d.ttl); err != nil {
			return err
		}
		if _, err := d.store.AddToSet(ctx, connChannelsKey(connID), channel, d.ttl); err != nil {
			return err
		}
	}
	return nil
}

// Publish fans payload out to every subscriber of channel except exclude.
// Delivery is best-effort per recipient: one failed send never aborts the
// rest, the failure is logged, and the subscriber is flagged for cleanup on
// the next heartbeat pass. The iteration order over subscribers is
// unspecified. Returns the number of successful deliveries.
func (d *Directory) Publish(ctx context.Context, channel string, payload json.RawMessage, exclude string) (int, error) {
	subscribers, err := d.SubscribersOf(ctx, channel)
	if err != nil {
		return 0, err
	}
	frame := messageFrame(channel, payload).encode()

	var delivered int64
	var wg sync.WaitGroup
	for _, id := range subscribers {
		if id == exclude {
			continue
		}
		sender, ok := d.registry.Sender(id)
		if !ok {
			// Subscriber is attached to another gateway instance or already
			// gone; nothing to deliver from this process.
			continue
		}
		id := id
		wg.Add(1)
		job := func() {
			defer wg.Done()
			if err := sender.Send(frame); err != nil {
				appErr := apperrors.TransportSendFailure(id, err)
				d.log.Warn("Broadcast delivery failed",
					zap.String("channel", channel),
					zap.String("connection_id", id),
					zap.Error(appErr))
				metrics.BroadcastFailures.Inc()
				if d.onSendFailure != nil {
					d.onSendFailure(id)
				}
				return
			}
			atomic.AddInt64(&delivered, 1)
			metrics.BroadcastDeliveries.Inc()
		}
		if !d.pool.AddJob(job) {
			// Pool saturated; deliver inline rather than drop.
			job()
		}
	}
	wg.Wait()
	return int(atomic.LoadInt64(&delivered)), nil
}
