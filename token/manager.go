package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"go.pilab.hu/oauthdemo/internal/metrics"
	"go.pilab.hu/oauthdemo/log"
	"go.pilab.hu/oauthdemo/tracing"
)

// DefaultRefreshTimeout bounds a single refresh call to the provider.
const DefaultRefreshTimeout = 10 * time.Second

var errEmptyGrant = errors.New("provider returned no access token")

// Refresher mints a new access token from a refresh token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

// Manager is the only component that hands out usable tokens. It refreshes
// expired records through the Refresher and keeps the Store up to date.
//
// Refreshes for the same user are collapsed into one in-flight provider call.
type Manager struct {
	store     Store
	refresher Refresher
	policy    ExpiryPolicy
	timeout   time.Duration
	logger    log.Logger
	onPurge   PurgeHook
	group     singleflight.Group
}

// PurgeHook is called after a record was deleted because it could not be
// refreshed.
type PurgeHook func(ctx context.Context, id UserID, cause error)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPolicy sets the expiry policy.
func WithPolicy(p ExpiryPolicy) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// WithRefreshTimeout bounds each refresh call. Non-positive values are ignored.
func WithRefreshTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithPurgeHook sets a hook run once per purged record.
func WithPurgeHook(h PurgeHook) ManagerOption {
	return func(m *Manager) { m.onPurge = h }
}

// NewManager creates a Manager over store and refresher.
func NewManager(store Store, refresher Refresher, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		refresher: refresher,
		policy:    DefaultExpiryPolicy(),
		timeout:   DefaultRefreshTimeout,
		logger:    log.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the expiry policy used by the manager.
func (m *Manager) Policy() ExpiryPolicy {
	return m.policy
}

// Save builds the initial record from a freshly exchanged grant and stores it,
// replacing whatever was stored for id before.
func (m *Manager) Save(ctx context.Context, id UserID, g *Grant) (*Record, error) {
	if g == nil || g.AccessToken == "" {
		return nil, errEmptyGrant
	}

	rec := &Record{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		ExpiresAt:    m.policy.ComputeExpiry(g),
		Scope:        g.Scope,
	}
	if err := m.store.Set(ctx, id, rec); err != nil {
		return nil, fmt.Errorf("store tokens: %w", err)
	}

	if rec.RefreshToken == "" {
		m.logger.Warn(ctx, "grant carries no refresh token", log.Fields{"user_id": id})
	}

	return rec.Clone(), nil
}

// GetValidTokens returns a record that is safe to use right now.
//
// It returns ErrNoTokens when nothing is stored for id and ErrRefreshFailed
// when the stored record was expired and could not be refreshed, in which case
// the record has been deleted.
func (m *Manager) GetValidTokens(ctx context.Context, id UserID) (*Record, error) {
	rec, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoTokens
	}
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}

	if !m.policy.IsExpired(rec) {
		return rec, nil
	}

	v, err, shared := m.group.Do(string(id), func() (any, error) {
		// Another flight may have refreshed since rec was read. Its refresh
		// token may also have been rotated, so rec can no longer be used.
		current, err := m.store.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoTokens
		}
		if err != nil {
			return nil, fmt.Errorf("load tokens: %w", err)
		}
		if !m.policy.IsExpired(current) {
			return current, nil
		}
		return m.refresh(ctx, id, current)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug(ctx, "joined in-flight token refresh", log.Fields{"user_id": id})
	}

	return v.(*Record).Clone(), nil
}

// Revoke forgets the tokens of id.
func (m *Manager) Revoke(ctx context.Context, id UserID) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete tokens: %w", err)
	}
	return nil
}

// refresh runs detached from the caller's cancellation so that callers
// sharing the flight are not failed by the one who started it.
func (m *Manager) refresh(ctx context.Context, id UserID, stale *Record) (*Record, error) {
	ctx, span := tracing.Tracer.Start(ctx, "token.refresh")
	defer span.End()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	var (
		grant *Grant
		err   error
	)
	if stale.RefreshToken == "" {
		err = errors.New("no refresh token stored")
	} else {
		grant, err = m.refresher.Refresh(ctx, stale.RefreshToken)
		if err == nil && (grant == nil || grant.AccessToken == "") {
			err = errEmptyGrant
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		m.purge(context.WithoutCancel(ctx), id, err)
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	next := &Record{
		AccessToken:  grant.AccessToken,
		RefreshToken: stale.RefreshToken,
		ExpiresAt:    m.policy.ComputeExpiry(grant),
		Scope:        stale.Scope,
	}
	if grant.RefreshToken != "" {
		next.RefreshToken = grant.RefreshToken
	}
	if grant.Scope != "" {
		next.Scope = grant.Scope
	}

	if err := m.store.Set(ctx, id, next); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return nil, fmt.Errorf("store refreshed tokens: %w", err)
	}

	metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	m.logger.Info(ctx, "token refreshed", log.Fields{
		"user_id":    id,
		"expires_at": next.ExpiresAt,
		"rotated":    grant.RefreshToken != "",
	})

	return next, nil
}

func (m *Manager) purge(ctx context.Context, id UserID, cause error) {
	metrics.TokenRefreshesTotal.WithLabelValues(metrics.ResultFailure).Inc()
	m.logger.Error(ctx, "token refresh failed, discarding tokens", cause, log.Fields{"user_id": id})

	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Error(ctx, "failed to discard tokens", err, log.Fields{"user_id": id})
		return
	}
	metrics.TokenRecordsPurgedTotal.Inc()
	if m.onPurge != nil {
		m.onPurge(ctx, id, cause)
	}
}
