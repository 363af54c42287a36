package github_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/kpmdev/kpm-registry/auth"
	"github.com/kpmdev/kpm-registry/provider/github"
)

func newUpstream(t *testing.T, rejectGrant bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if rejectGrant {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad_verification_code"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"gho_test_token","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1001,"login":"alice"}`))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"email":"alice@users.noreply.github.com","primary":false,"verified":true},
			{"email":"alice@example.com","primary":true,"verified":true}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server, options ...github.Option) *github.Client {
	opts := append([]github.Option{
		github.WithEndpoint(oauth2.Endpoint{
			AuthURL:  srv.URL + "/login/oauth/authorize",
			TokenURL: srv.URL + "/login/oauth/access_token",
		}),
		github.WithAPIBaseURL(srv.URL),
	}, options...)
	return github.New("client-id", "client-secret", "http://localhost:5005/auth/callback", opts...)
}

func TestAuthCodeURLCarriesState(t *testing.T) {
	srv := newUpstream(t, false)
	c := newClient(srv)

	u := c.AuthCodeURL("opaque-state")
	require.Contains(t, u, "state=opaque-state")
	require.Contains(t, u, "client_id=client-id")
}

func TestExchangeReturnsTokenAndIdentity(t *testing.T) {
	srv := newUpstream(t, false)
	c := newClient(srv)

	upstreamToken, identity, err := c.Exchange(context.Background(), "grant-code")
	require.NoError(t, err)
	require.Equal(t, "gho_test_token", upstreamToken)
	require.Equal(t, "1001", identity.ID)
	require.Equal(t, "alice", identity.Username)
	require.Len(t, identity.Emails, 2)
	require.Equal(t, "alice@example.com", identity.PreferredEmail())
}

func TestExchangeRejectedGrant(t *testing.T) {
	srv := newUpstream(t, true)
	c := newClient(srv)

	_, _, err := c.Exchange(context.Background(), "used-grant")
	require.ErrorIs(t, err, auth.ErrUpstreamExchangeFailed)
}

func TestExchangeUnreachableProvider(t *testing.T) {
	srv := newUpstream(t, false)
	srv.Close()
	c := newClient(srv, github.WithTimeout(200*time.Millisecond))

	_, _, err := c.Exchange(context.Background(), "grant-code")
	require.ErrorIs(t, err, auth.ErrUpstreamTimeout)
}
