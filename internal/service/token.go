package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// tokenSafetyMargin is subtracted from the expiry instant; a cached token is
// reused only while now < expiry - margin.
const tokenSafetyMargin = 5 * time.Minute

// TokenService obtains and caches a bearer token for the list-management API
// via a client-credentials exchange, refreshing before expiry. A single
// instance is shared by the whole process; the mutex doubles as a
// single-flight guard so concurrent cold callers fetch once.
type TokenService struct {
	client   *resty.Client
	tokenURL string
	clientID string
	secret   string
	scope    string

	now func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// TokenConfig holds configuration for the token service.
type TokenConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	CallTimeout  time.Duration
}

// NewTokenService creates a new token service.
func NewTokenService(cfg *TokenConfig) *TokenService {
	client := resty.New()
	if cfg.CallTimeout > 0 {
		client.SetTimeout(cfg.CallTimeout)
	} else {
		client.SetTimeout(30 * time.Second)
	}

	return &TokenService{
		client:   client,
		tokenURL: cfg.TokenURL,
		clientID: cfg.ClientID,
		secret:   cfg.ClientSecret,
		scope:    cfg.Scope,
		now:      time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// AccessToken returns a valid bearer token, fetching a new one when the
// cached credential is absent or inside the safety margin. Returns *AuthError
// when the token endpoint answers with a non-success status.
func (s *TokenService) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiry.Add(-tokenSafetyMargin)) {
		return s.token, nil
	}

	var tok tokenResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(s.clientID, s.secret).
		SetFormData(map[string]string{
			"grant_type": "client_credentials",
			"scope":      s.scope,
		}).
		SetResult(&tok).
		Post(s.tokenURL)
	if err != nil {
		return "", &AuthError{Status: 0, Body: err.Error()}
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", &AuthError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}

	// Replace the cached credential as a whole; readers never see a token
	// paired with a stale expiry.
	s.token = tok.AccessToken
	s.expiry = s.now().Add(time.Duration(tok.ExpiresIn) * time.Second)

	return s.token, nil
}
