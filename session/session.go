package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/oauthdemo/token"
)

// DefaultMaxAge is the fixed lifetime of a session.
const DefaultMaxAge = 24 * time.Hour

// ErrNoSession is returned when a request carries no usable session.
var ErrNoSession = errors.New("no active session")

// Session binds a browser to an authenticated user.
type Session struct {
	ID        string
	UserID    token.UserID
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store keeps sessions on the server side.
type Store interface {
	Create(ctx context.Context, userID token.UserID, email string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Destroy(ctx context.Context, id string) error
}

// MemoryStore implements Store on ttlcache. Sessions expire maxAge after
// creation; reading a session does not extend it.
type MemoryStore struct {
	cache  *ttlcache.Cache[string, *Session]
	maxAge time.Duration
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a session store. A non-positive maxAge selects
// DefaultMaxAge.
func NewMemoryStore(maxAge time.Duration) *MemoryStore {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Session](maxAge),
		ttlcache.WithDisableTouchOnHit[string, *Session](),
	)
	go cache.Start()

	return &MemoryStore{cache: cache, maxAge: maxAge, now: time.Now}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, userID token.UserID, email string) (*Session, error) {
	now := s.now()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(s.maxAge),
	}
	s.cache.Set(sess.ID, sess, ttlcache.DefaultTTL)

	c := *sess
	return &c, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	item := s.cache.Get(id)
	if item == nil {
		return nil, ErrNoSession
	}

	c := *item.Value()
	return &c, nil
}

// Destroy implements Store.
func (s *MemoryStore) Destroy(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close stops the eviction goroutine.
func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}
