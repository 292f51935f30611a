package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/oauthdemo/token"
)

// Store implements token.Store on Redis. Each user's record is one hash.
type Store struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

var _ token.Store = (*Store)(nil)

// NewStore creates a Store. A positive retention sets a key expiry on every
// write; zero keeps records until they are deleted.
func NewStore(client *redis.Client, prefix string, retention time.Duration) *Store {
	return &Store{
		client:    client,
		prefix:    prefix,
		retention: retention,
	}
}

// redisKey returns the hash key for a user.
func (s *Store) redisKey(id token.UserID) string {
	return fmt.Sprintf("%s:tokens:%s", s.prefix, id)
}

// Get implements token.Store.Get.
func (s *Store) Get(ctx context.Context, id token.UserID) (*token.Record, error) {
	res, err := s.client.HGetAll(ctx, s.redisKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tokens from Redis: %w", err)
	}
	if len(res) == 0 {
		return nil, token.ErrNotFound
	}

	// An unreadable expiry decodes to zero, which the expiry policy treats as
	// expired.
	expiresAt, _ := token.ParseExpiry(res["expires_at"])

	return &token.Record{
		AccessToken:  res["access_token"],
		RefreshToken: res["refresh_token"],
		ExpiresAt:    expiresAt,
		Scope:        res["scope"],
	}, nil
}

// Set implements token.Store.Set. The record replaces the previous hash in a
// single MULTI/EXEC transaction.
func (s *Store) Set(ctx context.Context, id token.UserID, rec *token.Record) error {
	key := s.redisKey(id)

	expiresAt := ""
	if !rec.ExpiresAt.IsZero() {
		expiresAt = strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]any{
			"access_token":  rec.AccessToken,
			"refresh_token": rec.RefreshToken,
			"expires_at":    expiresAt,
			"scope":         rec.Scope,
		})
		if s.retention > 0 {
			pipe.Expire(ctx, key, s.retention)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write tokens to Redis: %w", err)
	}

	return nil
}

// Delete implements token.Store.Delete.
func (s *Store) Delete(ctx context.Context, id token.UserID) error {
	if err := s.client.Del(ctx, s.redisKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete tokens from Redis: %w", err)
	}

	return nil
}
