package server_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kpmdev/kpm-registry/auth"
	"github.com/kpmdev/kpm-registry/internal/config"
	"github.com/kpmdev/kpm-registry/principal"
	fakeprincipalrepo "github.com/kpmdev/kpm-registry/principal/repofake"
	"github.com/kpmdev/kpm-registry/server"
	"github.com/kpmdev/kpm-registry/session"
	"github.com/kpmdev/kpm-registry/token"
	faketokenrepo "github.com/kpmdev/kpm-registry/token/repofake"
)

const testUIURL = "http://localhost:3000"

type fakeProvider struct {
	identity    principal.Identity
	exchangeErr error
}

func (f *fakeProvider) AuthCodeURL(state string) string {
	return "https://github.test/login/oauth/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeProvider) Exchange(_ context.Context, _ string) (string, principal.Identity, error) {
	if f.exchangeErr != nil {
		return "", principal.Identity{}, f.exchangeErr
	}
	return "gho_upstream", f.identity, nil
}

type serverFixture struct {
	server     *server.Server
	provider   *fakeProvider
	principals *fakeprincipalrepo.FakePrincipalRepo
	tokens     *token.Store
	sessions   *session.InMemoryStore
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	cfg := config.Config{
		Env:        "TEST",
		UIURL:      testUIURL,
		TokenTTL:   time.Hour,
		TokenMode:  config.TokenModeUpstream,
		SessionTTL: 8 * time.Hour,
	}

	principals := fakeprincipalrepo.NewFakePrincipalRepo()
	directory, err := principal.NewDirectory(principals)
	require.NoError(t, err)

	tokens, err := token.NewStore(faketokenrepo.NewFakeTokenRepo())
	require.NoError(t, err)

	guard, err := auth.NewRedirectGuard(cfg.UIURL)
	require.NoError(t, err)

	provider := &fakeProvider{
		identity: principal.Identity{
			ID:       "1001",
			Username: "alice",
			Emails:   []principal.Email{{Value: "alice@example.com", Primary: true, Verified: true}},
		},
	}

	authService, err := auth.NewService(guard, provider, directory, tokens, cfg.UIURL, cfg.TokenTTL, auth.TokenModeUpstream)
	require.NoError(t, err)

	sessions := session.NewInMemoryStore(cfg.SessionTTL)

	srv, err := server.New(cfg, authService, tokens, principals, sessions)
	require.NoError(t, err)

	return &serverFixture{
		server:     srv,
		provider:   provider,
		principals: principals,
		tokens:     tokens,
		sessions:   sessions,
	}
}

// completeLogin drives the full handshake and returns the callback response.
func (f *serverFixture) completeLogin(t *testing.T, continueURL string) *httptest.ResponseRecorder {
	t.Helper()

	loginTarget := server.RouteAuth
	if continueURL != "" {
		loginTarget += "?continueUrl=" + url.QueryEscape(continueURL)
	}
	loginRec := httptest.NewRecorder()
	f.server.ServeHTTP(loginRec, httptest.NewRequest(http.MethodGet, loginTarget, nil))
	require.Equal(t, http.StatusFound, loginRec.Code)

	authorizeURL, err := url.Parse(loginRec.Header().Get("Location"))
	require.NoError(t, err)
	state := authorizeURL.Query().Get("state")
	require.NotEmpty(t, state)

	callbackRec := httptest.NewRecorder()
	f.server.ServeHTTP(callbackRec, httptest.NewRequest(http.MethodGet,
		server.RouteAuthCallback+"?code=grant-1&state="+url.QueryEscape(state), nil))
	return callbackRec
}

func TestLoginRedirectsToProvider(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.RouteAuth, nil))

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	// The state must carry the default continuation target, the UI origin.
	decoded, err := base64.RawURLEncoding.DecodeString(location.Query().Get("state"))
	require.NoError(t, err)
	require.Equal(t, testUIURL, string(decoded))
}

func TestLoginRejectsUntrustedContinueURL(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		server.RouteAuth+"?continueUrl="+url.QueryEscape("https://evil.example/phish"), nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackCompletesHandshake(t *testing.T) {
	f := newServerFixture(t)

	rec := f.completeLogin(t, testUIURL+"/packages")
	require.Equal(t, http.StatusFound, rec.Code)

	redirect, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/packages", redirect.Path)
	require.Equal(t, "gho_upstream", redirect.Query().Get("token"))
	require.NotEmpty(t, redirect.Query().Get("expiresAt"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, server.SessionCookieName, cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)

	require.Equal(t, 1, f.principals.Count())
}

func TestCallbackMissingCode(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.RouteAuthCallback, nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackProviderDenied(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		server.RouteAuthCallback+"?error=access_denied", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallbackTamperedState(t *testing.T) {
	f := newServerFixture(t)

	state := base64.RawURLEncoding.EncodeToString([]byte("https://evil.example/"))
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		server.RouteAuthCallback+"?code=grant-1&state="+url.QueryEscape(state), nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackExchangeFailure(t *testing.T) {
	f := newServerFixture(t)

	f.provider.exchangeErr = auth.ErrUpstreamExchangeFailed
	rec := f.completeLogin(t, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	f.provider.exchangeErr = auth.ErrUpstreamTimeout
	rec = f.completeLogin(t, "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUserRequiresCredentials(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.RouteUser, nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, server.RouteUser, nil)
	req.Header.Set("Authorization", "Bearer no-such-token")
	f.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUserWithBearerToken(t *testing.T) {
	f := newServerFixture(t)

	callbackRec := f.completeLogin(t, "")
	redirect, err := url.Parse(callbackRec.Header().Get("Location"))
	require.NoError(t, err)
	bearer := redirect.Query().Get("token")
	require.NotEmpty(t, bearer)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, server.RouteUser, nil)
	req.Header.Set("Authorization", "Bearer "+bearer)
	f.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "alice", body.Username)
	require.NotEmpty(t, body.ID)
}

func TestUserWithSessionCookie(t *testing.T) {
	f := newServerFixture(t)

	callbackRec := f.completeLogin(t, "")
	cookies := callbackRec.Result().Cookies()
	require.Len(t, cookies, 1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, server.RouteUser, nil)
	req.AddCookie(cookies[0])
	f.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "alice", body.Username)
}

func TestExpiredBearerTokenRejected(t *testing.T) {
	f := newServerFixture(t)

	callbackRec := f.completeLogin(t, "")
	redirect, err := url.Parse(callbackRec.Header().Get("Location"))
	require.NoError(t, err)
	bearer := redirect.Query().Get("token")

	// Rebuild the server with a clock past the token's expiry.
	future := time.Now().Add(2 * time.Hour)
	expiredTokens, err := token.NewStore(f.tokenRepo(t, bearer), token.WithNowTime(func() time.Time { return future }))
	require.NoError(t, err)
	cfg := config.Config{Env: "TEST", UIURL: testUIURL, TokenTTL: time.Hour, TokenMode: config.TokenModeUpstream, SessionTTL: 8 * time.Hour}
	guard, err := auth.NewRedirectGuard(cfg.UIURL)
	require.NoError(t, err)
	directory, err := principal.NewDirectory(f.principals)
	require.NoError(t, err)
	authService, err := auth.NewService(guard, f.provider, directory, expiredTokens, cfg.UIURL, cfg.TokenTTL, auth.TokenModeUpstream)
	require.NoError(t, err)
	srv, err := server.New(cfg, authService, expiredTokens, f.principals, session.NewInMemoryStore(cfg.SessionTTL))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, server.RouteUser, nil)
	req.Header.Set("Authorization", "Bearer "+bearer)
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

// tokenRepo rebuilds a fake repo seeded with the already-issued bearer token.
func (f *serverFixture) tokenRepo(t *testing.T, bearer string) token.Repo {
	t.Helper()
	existing, err := f.tokens.Resolve(context.Background(), bearer)
	require.NoError(t, err)
	require.NotNil(t, existing)

	repo := faketokenrepo.NewFakeTokenRepo()
	require.NoError(t, repo.Insert(context.Background(), existing))
	return repo
}

func TestPreflightFromConfiguredOrigin(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, server.RouteUser, nil)
	req.Header.Set("Origin", testUIURL)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	f.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, testUIURL, rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodGet)
}

func TestPreflightFromUnknownOriginGetsNoGrant(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, server.RouteUser, nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	f.server.ServeHTTP(rec, req)

	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestLogoutDestroysSession(t *testing.T) {
	f := newServerFixture(t)

	callbackRec := f.completeLogin(t, "")
	cookies := callbackRec.Result().Cookies()
	require.Len(t, cookies, 1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, server.RouteAuthLogout, nil)
	req.AddCookie(cookies[0])
	f.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, testUIURL, rec.Header().Get("Location"))

	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	require.Equal(t, server.SessionCookieName, cleared[0].Name)
	require.Less(t, cleared[0].MaxAge, 0, "cookie must be expired")

	// The destroyed session no longer authenticates.
	userRec := httptest.NewRecorder()
	userReq := httptest.NewRequest(http.MethodGet, server.RouteUser, nil)
	userReq.AddCookie(cookies[0])
	f.server.ServeHTTP(userRec, userReq)
	require.Equal(t, http.StatusUnauthorized, userRec.Code)
}

func TestCorsAllowsConfiguredOrigin(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, server.RouteAuth, nil)
	req.Header.Set("Origin", testUIURL)
	f.server.ServeHTTP(rec, req)
	require.Equal(t, testUIURL, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, server.RouteAuth, nil)
	req.Header.Set("Origin", "https://evil.example")
	f.server.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.RouteHealthz, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
