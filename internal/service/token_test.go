package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTokenTestServer(t *testing.T, status int, body string, fetches *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*fetches++

		user, pass, ok := r.BasicAuth()
		require.True(t, ok, "expected basic auth")
		require.Equal(t, "client-1", user)
		require.Equal(t, "secret-1", pass)

		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		require.Equal(t, "users/read", r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func newTestTokenService(url string) *TokenService {
	return NewTokenService(&TokenConfig{
		TokenURL:     url,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Scope:        "users/read",
	})
}

func TestTokenService_CachesToken(t *testing.T) {
	fetches := 0
	srv := newTokenTestServer(t, http.StatusOK,
		`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600,"scope":"users/read"}`, &fetches)
	defer srv.Close()

	svc := newTestTokenService(srv.URL)

	tok, err := svc.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)

	// Expiry is an hour out, so the second call must reuse the cache.
	tok, err = svc.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)
	require.Equal(t, 1, fetches)
}

func TestTokenService_RefreshesInsideSafetyMargin(t *testing.T) {
	fetches := 0
	srv := newTokenTestServer(t, http.StatusOK,
		`{"access_token":"tok-2","token_type":"Bearer","expires_in":3600}`, &fetches)
	defer srv.Close()

	svc := newTestTokenService(srv.URL)
	svc.token = "stale"
	svc.expiry = time.Now().Add(4 * time.Minute) // inside the 5-minute margin

	tok, err := svc.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-2", tok)
	require.Equal(t, 1, fetches)
}

func TestTokenService_ReusesOutsideSafetyMargin(t *testing.T) {
	fetches := 0
	srv := newTokenTestServer(t, http.StatusOK, `{}`, &fetches)
	defer srv.Close()

	svc := newTestTokenService(srv.URL)
	svc.token = "still-good"
	svc.expiry = time.Now().Add(10 * time.Minute)

	tok, err := svc.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "still-good", tok)
	require.Equal(t, 0, fetches)
}

func TestTokenService_AuthError(t *testing.T) {
	fetches := 0
	srv := newTokenTestServer(t, http.StatusUnauthorized, `{"error":"invalid_client"}`, &fetches)
	defer srv.Close()

	svc := newTestTokenService(srv.URL)

	_, err := svc.AccessToken(context.Background())
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, http.StatusUnauthorized, authErr.Status)
	require.Contains(t, authErr.Body, "invalid_client")
}
