package oauthecho

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauthdemo/internal/audit"
	"go.pilab.hu/oauthdemo/internal/federation"
	"go.pilab.hu/oauthdemo/internal/metrics"
	"go.pilab.hu/oauthdemo/session"
	"go.pilab.hu/oauthdemo/token"
)

type fakeProvider struct {
	mock.Mock
}

func (p *fakeProvider) Name() string { return "google" }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*token.Grant, error) {
	args := p.Called(ctx, code)
	g, _ := args.Get(0).(*token.Grant)
	return g, args.Error(1)
}

func (p *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*token.Grant, error) {
	args := p.Called(ctx, refreshToken)
	g, _ := args.Get(0).(*token.Grant)
	return g, args.Error(1)
}

func (p *fakeProvider) FetchUserInfo(ctx context.Context, accessToken string) (*federation.UserInfo, error) {
	args := p.Called(ctx, accessToken)
	u, _ := args.Get(0).(*federation.UserInfo)
	return u, args.Error(1)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testUser = &federation.UserInfo{
	ID:            "1234567890",
	Email:         "test.user@example.com",
	VerifiedEmail: true,
	Name:          "Test User",
	GivenName:     "Test",
	FamilyName:    "User",
	Picture:       "https://example.com/avatar.jpg",
	Locale:        "en",
}

type testEnv struct {
	echo     *echo.Echo
	provider *fakeProvider
	tokens   *token.MemoryStore
	clock    *clock
	registry *prometheus.Registry
	audit    *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>login</h1>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dashboard.html"), []byte("<h1>dashboard</h1>"), 0o600))

	provider := &fakeProvider{}
	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}

	tokenStore := token.NewMemoryStore(0)
	t.Cleanup(func() { _ = tokenStore.Close() })
	auditBuf := &bytes.Buffer{}
	auditLog := audit.New("oauthdemo", auditBuf)
	tokens := token.NewManager(tokenStore, provider,
		token.WithPolicy(token.ExpiryPolicy{
			Skew:     token.DefaultSkew,
			Fallback: token.DefaultFallbackLifetime,
			Now:      clk.Now,
		}),
		token.WithPurgeHook(func(ctx context.Context, id token.UserID, cause error) {
			auditLog.Log(ctx, audit.ActionTokensPurge, string(id), "refresh failed", cause)
		}),
	)

	sessionStore := session.NewMemoryStore(time.Hour)
	t.Cleanup(func() { _ = sessionStore.Close() })
	codec, err := session.NewCodec("test-secret")
	require.NoError(t, err)
	sessions := session.NewManager(sessionStore, codec, time.Hour, false)

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	api := NewAPI(provider, tokens, sessions, nil, dir, WithAudit(auditLog))
	e := NewServer(ServerOptions{PublicDir: dir, Gatherer: reg}, nil, api)

	return &testEnv{echo: e, provider: provider, tokens: tokenStore, clock: clk, registry: reg, audit: auditBuf}
}

// browser keeps cookies between requests.
type browser struct {
	env     *testEnv
	cookies map[string]*http.Cookie
}

func (env *testEnv) browser() *browser {
	return &browser{env: env, cookies: map[string]*http.Cookie{}}
}

func (b *browser) get(target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range b.cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}

	rec := httptest.NewRecorder()
	b.env.echo.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

// login runs the authorization code flow up to the dashboard redirect.
func (b *browser) login(t *testing.T) {
	t.Helper()

	rec := b.get("/auth/google")
	require.Equal(t, http.StatusFound, rec.Code)

	state, ok := b.cookies[session.StateCookieName]
	require.True(t, ok, "state cookie must be set")
	assert.Contains(t, rec.Header().Get(echo.HeaderLocation), "state="+url.QueryEscape(state.Value))

	rec = b.get("/auth/google/callback?code=good-code&state=" + url.QueryEscape(state.Value))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/dashboard", rec.Header().Get(echo.HeaderLocation))
	_, ok = b.cookies[session.CookieName]
	require.True(t, ok, "session cookie must be set")
	_, ok = b.cookies[session.StateCookieName]
	assert.False(t, ok, "state cookie must be cleared")
}

func expectLogin(p *fakeProvider) {
	p.On("Exchange", mock.Anything, "good-code").Return(&token.Grant{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresIn:    3599,
		Scope:        "email profile",
	}, nil).Once()
	p.On("FetchUserInfo", mock.Anything, "access-1").Return(testUser, nil)
}

func decodeProfile(t *testing.T, rec *httptest.ResponseRecorder) ProfileResponse {
	t.Helper()

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func assertErrorBody(t *testing.T, rec *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()

	assert.Equal(t, status, rec.Code)
	assert.JSONEq(t, `{"error":"`+msg+`"}`, rec.Body.String())
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	expectLogin(env.provider)
	successBefore := testutil.ToFloat64(metrics.LoginsTotal.WithLabelValues(metrics.ResultSuccess))

	b := env.browser()
	b.login(t)

	assert.InDelta(t, successBefore+1, testutil.ToFloat64(metrics.LoginsTotal.WithLabelValues(metrics.ResultSuccess)), 0)
	assert.Equal(t, 1, env.tokens.Len())

	resp := decodeProfile(t, b.get("/api/profile"))
	assert.Equal(t, testUser, resp.User)
	assert.Equal(t, "access-1", resp.Tokens.AccessToken)
	assert.Equal(t, int64(3599), resp.Tokens.ExpiresIn)
	assert.Equal(t, "email profile", resp.Tokens.Scope)

	env.clock.Advance(10 * time.Minute)
	resp = decodeProfile(t, b.get("/api/profile"))
	assert.Equal(t, int64(2999), resp.Tokens.ExpiresIn)

	rec := b.get("/dashboard")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dashboard")

	rec = b.get("/logout")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get(echo.HeaderLocation))
	assert.Equal(t, 0, env.tokens.Len())

	assertErrorBody(t, b.get("/api/profile"), http.StatusUnauthorized, msgNotAuthenticated)
	env.provider.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)

	assert.Contains(t, env.audit.String(), `"action":"login"`)
	assert.Contains(t, env.audit.String(), `"action":"logout"`)
	assert.NotContains(t, env.audit.String(), "access-1")
}

func TestProfile_RefreshesInsideSkew(t *testing.T) {
	env := newTestEnv(t)
	expectLogin(env.provider)
	env.provider.On("Refresh", mock.Anything, "refresh-1").Return(&token.Grant{
		AccessToken: "access-2",
		ExpiresIn:   3599,
	}, nil).Once()
	env.provider.On("FetchUserInfo", mock.Anything, "access-2").Return(testUser, nil)

	b := env.browser()
	b.login(t)

	// 119s before expiry is inside the 120s skew.
	env.clock.Advance((3599 - 119) * time.Second)

	resp := decodeProfile(t, b.get("/api/profile"))
	assert.Equal(t, "access-2", resp.Tokens.AccessToken)
	assert.Equal(t, int64(3599), resp.Tokens.ExpiresIn)
	assert.Equal(t, "email profile", resp.Tokens.Scope)

	rec, err := env.tokens.Get(context.Background(), token.UserID(testUser.ID))
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", rec.RefreshToken)

	env.provider.AssertExpectations(t)
}

func TestProfile_RefreshFailurePurgesTokens(t *testing.T) {
	env := newTestEnv(t)
	expectLogin(env.provider)
	env.provider.On("Refresh", mock.Anything, "refresh-1").
		Return(nil, errors.New("invalid_grant")).Once()

	b := env.browser()
	b.login(t)
	env.clock.Advance(time.Hour)

	assertErrorBody(t, b.get("/api/profile"), http.StatusUnauthorized, msgInvalidTokens)
	assert.Equal(t, 0, env.tokens.Len())
	assert.Equal(t, 1, strings.Count(env.audit.String(), `"action":"tokens_purge"`))

	// The record is gone, so a second call does not retry the refresh.
	assertErrorBody(t, b.get("/api/profile"), http.StatusUnauthorized, msgInvalidTokens)
	env.provider.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestProfile_UserInfoFailure(t *testing.T) {
	env := newTestEnv(t)
	env.provider.On("Exchange", mock.Anything, "good-code").Return(&token.Grant{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresIn:    3599,
	}, nil).Once()
	env.provider.On("FetchUserInfo", mock.Anything, "access-1").Return(testUser, nil).Once()
	env.provider.On("FetchUserInfo", mock.Anything, "access-1").
		Return(nil, federation.ErrFetchUserInfoFailed).Once()

	b := env.browser()
	b.login(t)

	assertErrorBody(t, b.get("/api/profile"), http.StatusInternalServerError, msgProfileFailed)
	assert.Equal(t, 1, env.tokens.Len())
}

func TestProfile_NoSession(t *testing.T) {
	env := newTestEnv(t)

	assertErrorBody(t, env.browser().get("/api/profile"), http.StatusUnauthorized, msgNotAuthenticated)
}

func TestProfile_TamperedSessionCookie(t *testing.T) {
	env := newTestEnv(t)

	b := env.browser()
	b.cookies[session.CookieName] = &http.Cookie{Name: session.CookieName, Value: "not-a-jwt"}

	assertErrorBody(t, b.get("/api/profile"), http.StatusUnauthorized, msgNotAuthenticated)
}

func TestCallback_Failures(t *testing.T) {
	tests := []struct {
		name  string
		query func(state string) string
		setup func(p *fakeProvider)
	}{
		{
			name:  "state mismatch",
			query: func(string) string { return "code=good-code&state=forged" },
		},
		{
			name:  "provider error",
			query: func(state string) string { return "error=access_denied&state=" + url.QueryEscape(state) },
		},
		{
			name:  "missing code",
			query: func(state string) string { return "state=" + url.QueryEscape(state) },
		},
		{
			name:  "exchange fails",
			query: func(state string) string { return "code=bad-code&state=" + url.QueryEscape(state) },
			setup: func(p *fakeProvider) {
				p.On("Exchange", mock.Anything, "bad-code").Return(nil, federation.ErrExchangeCodeFailed)
			},
		},
		{
			name:  "user info fails",
			query: func(state string) string { return "code=good-code&state=" + url.QueryEscape(state) },
			setup: func(p *fakeProvider) {
				p.On("Exchange", mock.Anything, "good-code").Return(&token.Grant{AccessToken: "access-1"}, nil)
				p.On("FetchUserInfo", mock.Anything, "access-1").Return(nil, federation.ErrFetchUserInfoFailed)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(env.provider)
			}
			failureBefore := testutil.ToFloat64(metrics.LoginsTotal.WithLabelValues(metrics.ResultFailure))

			b := env.browser()
			require.Equal(t, http.StatusFound, b.get("/auth/google").Code)
			state := b.cookies[session.StateCookieName].Value

			rec := b.get("/auth/google/callback?" + tt.query(state))

			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, loginFailedRedirect, rec.Header().Get(echo.HeaderLocation))
			assert.NotContains(t, b.cookies, session.CookieName)
			assert.Equal(t, 0, env.tokens.Len())
			assert.InDelta(t, failureBefore+1, testutil.ToFloat64(metrics.LoginsTotal.WithLabelValues(metrics.ResultFailure)), 0)
		})
	}
}

func TestCallback_WithoutPendingLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.browser().get("/auth/google/callback?code=good-code&state=anything")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, loginFailedRedirect, rec.Header().Get(echo.HeaderLocation))
	env.provider.AssertNotCalled(t, "Exchange", mock.Anything, mock.Anything)
}

func TestDashboard_RequiresSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.browser().get("/dashboard")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get(echo.HeaderLocation))
}

func TestLanding(t *testing.T) {
	env := newTestEnv(t)

	rec := env.browser().get("/")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "login")
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.browser().get("/")

	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
	assert.Equal(t, "DENY", rec.Header().Get(echo.HeaderXFrameOptions))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentSecurityPolicy), "frame-ancestors 'none'")
	assert.Empty(t, rec.Header().Get(echo.HeaderStrictTransportSecurity))
}

func TestLogout_WithoutSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.browser().get("/logout")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get(echo.HeaderLocation))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.browser().get("/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp.Status)

	ts, err := time.Parse(healthTimeLayout, resp.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.browser().get("/auth/google/callback?state=nothing-pending")

	rec := env.browser().get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `oauthdemo_logins_total{result="failure"}`)
}
