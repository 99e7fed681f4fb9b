package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulsegate/gateway/internal/config"
)

// RedisStore is the distributed Store implementation. TTL handling is
// native to the backend; all keys are namespaced with the configured prefix
// so a shared Redis instance can carry unrelated data.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// NewRedisStore creates a Redis-backed store from the given config. The
// connection is established lazily; call Ping to probe reachability.
func NewRedisStore(cfg config.RedisConfig, log *zap.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
		log:    log,
	}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Get returns the value for key and whether it exists.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores value under key with the given ttl.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// AddToSet adds member to the set at setKey and refreshes the set's ttl.
// SADD reports how many members were newly added.
func (s *RedisStore) AddToSet(ctx context.Context, setKey, member string, ttl time.Duration) (bool, error) {
	pipe := s.client.TxPipeline()
	added := pipe.SAdd(ctx, s.key(setKey), member)
	if ttl > 0 {
		pipe.Expire(ctx, s.key(setKey), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis sadd %s: %w", setKey, err)
	}
	return added.Val() > 0, nil
}

// RemoveFromSet removes member from the set at setKey.
func (s *RedisStore) RemoveFromSet(ctx context.Context, setKey, member string) (bool, error) {
	removed, err := s.client.SRem(ctx, s.key(setKey), member).Result()
	if err != nil {
		return false, fmt.Errorf("redis srem %s: %w", setKey, err)
	}
	return removed > 0, nil
}

// MembersOf returns a snapshot of the set at setKey.
func (s *RedisStore) MembersOf(ctx context.Context, setKey string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.key(setKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", setKey, err)
	}
	return members, nil
}

// Increment atomically increments the counter at key, arming the ttl on
// window creation. INCR+EXPIRE is the backend's atomic counter primitive,
// which keeps the rate window correct across gateway instances.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if n == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, s.key(key), ttl).Err(); err != nil {
			s.log.Warn("Failed to arm counter expiry",
				zap.String("key", key),
				zap.Error(err))
		}
	}
	return n, nil
}

// Ping probes the backend.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client's connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
