package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/pulsegate/gateway/internal/errors"
	"github.com/pulsegate/gateway/internal/metrics"
)

// FallbackStore routes operations to a distributed primary and fails open
// to the in-process local store when the primary becomes unreachable. The
// degradation is logged once; clients never see a backend error. This trades
// cross-instance consistency for availability: a gateway keeps serving its
// local connections even when state sharing is lost.
type FallbackStore struct {
	primary Store
	local   Store
	log     *zap.Logger

	degraded atomic.Bool
	logOnce  sync.Once
}

// NewFallbackStore wraps primary with a fail-open fallback to local.
func NewFallbackStore(primary, local Store, log *zap.Logger) *FallbackStore {
	return &FallbackStore{
		primary: primary,
		local:   local,
		log:     log,
	}
}

// Degraded reports whether operations are being served by the local store.
func (s *FallbackStore) Degraded() bool {
	return s.degraded.Load()
}

// MarkDegraded switches to the local store immediately, used when the
// startup probe of the primary fails.
func (s *FallbackStore) MarkDegraded(op string, err error) {
	s.degrade(op, err)
}

func (s *FallbackStore) degrade(op string, err error) {
	metrics.StoreFallbacks.Inc()
	if s.degraded.Swap(true) {
		return
	}
	s.logOnce.Do(func() {
		appErr := apperrors.BackendUnavailable(op, err)
		s.log.Warn("Distributed store unreachable, continuing with in-process store",
			zap.String("operation", op),
			zap.Error(appErr))
	})
}

func (s *FallbackStore) Get(ctx context.Context, key string) (string, bool, error) {
	if !s.degraded.Load() {
		val, ok, err := s.primary.Get(ctx, key)
		if err == nil {
			return val, ok, nil
		}
		s.degrade("get", err)
	}
	return s.local.Get(ctx, key)
}

func (s *FallbackStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if !s.degraded.Load() {
		if err := s.primary.Set(ctx, key, value, ttl); err == nil {
			return nil
		} else {
			s.degrade("set", err)
		}
	}
	return s.local.Set(ctx, key, value, ttl)
}

func (s *FallbackStore) Delete(ctx context.Context, key string) error {
	if !s.degraded.Load() {
		if err := s.primary.Delete(ctx, key); err == nil {
			return nil
		} else {
			s.degrade("delete", err)
		}
	}
	return s.local.Delete(ctx, key)
}

func (s *FallbackStore) AddToSet(ctx context.Context, setKey, member string, ttl time.Duration) (bool, error) {
	if !s.degraded.Load() {
		added, err := s.primary.AddToSet(ctx, setKey, member, ttl)
		if err == nil {
			return added, nil
		}
		s.degrade("add_to_set", err)
	}
	return s.local.AddToSet(ctx, setKey, member, ttl)
}

func (s *FallbackStore) RemoveFromSet(ctx context.Context, setKey, member string) (bool, error) {
	if !s.degraded.Load() {
		removed, err := s.primary.RemoveFromSet(ctx, setKey, member)
		if err == nil {
			return removed, nil
		}
		s.degrade("remove_from_set", err)
	}
	return s.local.RemoveFromSet(ctx, setKey, member)
}

func (s *FallbackStore) MembersOf(ctx context.Context, setKey string) ([]string, error) {
	if !s.degraded.Load() {
		members, err := s.primary.MembersOf(ctx, setKey)
		if err == nil {
			return members, nil
		}
		s.degrade("members_of", err)
	}
	return s.local.MembersOf(ctx, setKey)
}

func (s *FallbackStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if !s.degraded.Load() {
		n, err := s.primary.Increment(ctx, key, ttl)
		if err == nil {
			return n, nil
		}
		s.degrade("increment", err)
	}
	return s.local.Increment(ctx, key, ttl)
}

// Ping probes whichever backend is currently serving operations.
func (s *FallbackStore) Ping(ctx context.Context) error {
	if s.degraded.Load() {
		return s.local.Ping(ctx)
	}
	return s.primary.Ping(ctx)
}

// Close releases both backends.
func (s *FallbackStore) Close() error {
	err := s.primary.Close()
	if lerr := s.local.Close(); err == nil {
		err = lerr
	}
	return err
}
