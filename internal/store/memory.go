package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const defaultSweepInterval = time.Minute

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type memorySet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// MemoryStore is the in-process Store implementation. Expiry is enforced
// lazily on read plus a periodic sweep so abandoned keys do not accumulate.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	sets  map[string]*memorySet

	now    func() time.Time
	stopCh chan struct{}
	once   sync.Once
}

// NewMemoryStore creates a memory store and starts its expiry sweeper.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		items:  make(map[string]memoryEntry),
		sets:   make(map[string]*memorySet),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	go s.sweepLoop(defaultSweepInterval)
	return s
}

// SetClock overrides the store's time source. Tests use it to drive expiry
// without sleeping.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, e := range s.items {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.items, key)
		}
	}
	for key, set := range s.sets {
		if !set.expiresAt.IsZero() && !now.Before(set.expiresAt) {
			delete(s.sets, key)
		}
	}
}

func (s *MemoryStore) expired(at time.Time) bool {
	return !at.IsZero() && !s.now().Before(at)
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// Get returns the value for key, expiring it lazily when its ttl passed.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return "", false, nil
	}
	if s.expired(e.expiresAt) {
		delete(s.items, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with the given ttl.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryEntry{value: value, expiresAt: s.expiry(ttl)}
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// AddToSet adds member to the set at setKey and refreshes the set's ttl.
func (s *MemoryStore) AddToSet(_ context.Context, setKey, member string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[setKey]
	if !ok || s.expired(set.expiresAt) {
		set = &memorySet{members: make(map[string]struct{})}
		s.sets[setKey] = set
	}
	_, present := set.members[member]
	set.members[member] = struct{}{}
	set.expiresAt = s.expiry(ttl)
	return !present, nil
}

// RemoveFromSet removes member from the set at setKey. The set itself is
// dropped once its last member is gone.
func (s *MemoryStore) RemoveFromSet(_ context.Context, setKey, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[setKey]
	if !ok || s.expired(set.expiresAt) {
		return false, nil
	}
	_, present := set.members[member]
	delete(set.members, member)
	if len(set.members) == 0 {
		delete(s.sets, setKey)
	}
	return present, nil
}

// MembersOf returns a snapshot of the set at setKey.
func (s *MemoryStore) MembersOf(_ context.Context, setKey string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[setKey]
	if !ok {
		return nil, nil
	}
	if s.expired(set.expiresAt) {
		delete(s.sets, setKey)
		return nil, nil
	}
	members := make([]string, 0, len(set.members))
	for m := range set.members {
		members = append(members, m)
	}
	return members, nil
}

// Increment atomically increments the counter at key. The ttl starts the
// window when the counter is created.
func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok || s.expired(e.expiresAt) {
		s.items[key] = memoryEntry{value: "1", expiresAt: s.expiry(ttl)}
		return 1, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		n = 0
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.items[key] = e
	return n, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close stops the expiry sweeper.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	return nil
}
