package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.pilab.hu/oauthdemo/token"
)

const (
	CookieName      = "oauthdemo_session"
	StateCookieName = "oauthdemo_state"

	stateMaxAge = 10 * time.Minute
)

// CookieCodec turns a session into a cookie value and back into its id.
type CookieCodec interface {
	Encode(sess *Session) (string, error)
	Decode(value string) (string, error)
}

// Manager ties server-side sessions to signed browser cookies.
type Manager struct {
	store  Store
	codec  CookieCodec
	maxAge time.Duration
	secure bool
}

// NewManager creates a Manager. Secure marks cookies as HTTPS-only.
func NewManager(store Store, codec CookieCodec, maxAge time.Duration, secure bool) *Manager {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Manager{store: store, codec: codec, maxAge: maxAge, secure: secure}
}

// Issue starts a session for userID and sets its cookie on w.
func (m *Manager) Issue(ctx context.Context, w http.ResponseWriter, userID token.UserID, email string) (*Session, error) {
	sess, err := m.store.Create(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	value, err := m.codec.Encode(sess)
	if err != nil {
		if derr := m.store.Destroy(ctx, sess.ID); derr != nil {
			err = errors.Join(err, fmt.Errorf("discard session: %w", derr))
		}
		return nil, err
	}

	http.SetCookie(w, m.cookie(CookieName, value, int(m.maxAge/time.Second)))
	return sess, nil
}

// Load returns the session the request belongs to, or ErrNoSession.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}

	id, err := m.codec.Decode(c.Value)
	if err != nil {
		return nil, err
	}

	return m.store.Get(r.Context(), id)
}

// Destroy ends the request's session, if any, and clears the cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, m.cookie(CookieName, "", -1))

	sess, err := m.Load(r)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.store.Destroy(r.Context(), sess.ID)
}

// SetState stores the OAuth state value for the pending login.
func (m *Manager) SetState(w http.ResponseWriter, state string) {
	http.SetCookie(w, m.cookie(StateCookieName, state, int(stateMaxAge/time.Second)))
}

// ConsumeState returns the pending OAuth state and clears it.
func (m *Manager) ConsumeState(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(StateCookieName)
	http.SetCookie(w, m.cookie(StateCookieName, "", -1))
	if err != nil {
		return ""
	}
	return c.Value
}

func (m *Manager) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
