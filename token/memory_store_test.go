package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	_, err := store.Get(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)

	rec := &Record{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresAt: time.UnixMilli(1_700_000_000_000), Scope: "email"}
	require.NoError(t, store.Set(ctx, "alice", rec))
	assert.Equal(t, 1, store.Len())

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// Stored state is isolated from the caller's copies.
	rec.AccessToken = "mutated"
	got.RefreshToken = "mutated"
	again, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "at-1", again.AccessToken)
	assert.Equal(t, "rt-1", again.RefreshToken)

	require.NoError(t, store.Set(ctx, "alice", &Record{AccessToken: "at-2"}))
	got, err = store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "at-2", got.AccessToken)
	assert.Empty(t, got.RefreshToken, "a new record replaces the old one without merging")

	require.NoError(t, store.Delete(ctx, "alice"))
	require.NoError(t, store.Delete(ctx, "alice"))
	_, err = store.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Set(ctx, "alice", &Record{AccessToken: "a"}))
	require.NoError(t, store.Set(ctx, "bob", &Record{AccessToken: "b"}))
	require.NoError(t, store.Delete(ctx, "alice"))

	got, err := store.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "b", got.AccessToken)
}

func TestMemoryStore_Retention(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(20 * time.Millisecond)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Set(ctx, "alice", &Record{AccessToken: "a"}))

	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "alice")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}
