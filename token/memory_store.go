package token

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore implements Store using ttlcache. Records live for the lifetime
// of the process unless a retention window is configured.
type MemoryStore struct {
	cache *ttlcache.Cache[UserID, *Record]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store. A positive retention evicts a
// record that long after it was last written; zero keeps records until they
// are deleted.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	ttl := retention
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[UserID, *Record](ttl),
		ttlcache.WithDisableTouchOnHit[UserID, *Record](),
	)

	go cache.Start()

	return &MemoryStore{cache: cache}
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, id UserID) (*Record, error) {
	item := s.cache.Get(id)
	if item == nil {
		return nil, ErrNotFound
	}

	return item.Value().Clone(), nil
}

// Set implements Store.Set.
func (s *MemoryStore) Set(_ context.Context, id UserID, rec *Record) error {
	s.cache.Set(id, rec.Clone(), ttlcache.DefaultTTL)

	return nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(_ context.Context, id UserID) error {
	s.cache.Delete(id)

	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close stops the eviction goroutine.
func (s *MemoryStore) Close() error {
	s.cache.Stop()

	return nil
}
