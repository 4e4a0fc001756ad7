// Package identity owns the machine-to-machine credential used for task API
// calls. The session is process-wide shared state, injected explicitly
// rather than held as a package global.
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/textmit/textmit/internal/model"
)

// refreshMargin is the safety window before expiry inside which the cached
// token is refreshed eagerly.
const refreshMargin = 300 * time.Second

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Session caches a client-credentials token and refreshes it under a lock.
// Concurrent callers serialize on the refresh; the last successful refresh
// wins and a failed refresh leaves the cache empty.
type Session struct {
	client       *resty.Client
	clientID     string
	clientSecret string
	audience     string

	mu     sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time
}

// NewSession builds a session against the identity provider at domain.
// A bare domain gets an https:// scheme; full URLs are used as-is so tests
// can point at a local server.
func NewSession(domain, clientID, clientSecret, audience string) *Session {
	base := domain
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	c := resty.New().
		SetBaseURL(base).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)

	return &Session{
		client:       c,
		clientID:     clientID,
		clientSecret: clientSecret,
		audience:     audience,
		now:          time.Now,
	}
}

// Token returns the cached token, refreshing it when absent or within the
// safety margin of expiry.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.expiry.Sub(s.now()) > refreshMargin {
		return s.token, nil
	}
	return s.refreshLocked(ctx)
}

// Invalidate drops the cached token so the next call refreshes.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiry = time.Time{}
}

func (s *Session) refreshLocked(ctx context.Context) (string, error) {
	var out tokenResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     s.clientID,
			"client_secret": s.clientSecret,
			"audience":      s.audience,
		}).
		SetResult(&out).
		Post("/oauth/token")
	if err != nil {
		s.token, s.expiry = "", time.Time{}
		return "", fmt.Errorf("token refresh: %v: %w", err, model.ErrUpstream)
	}
	if !resp.IsSuccess() || out.AccessToken == "" {
		s.token, s.expiry = "", time.Time{}
		return "", fmt.Errorf("token refresh: status %d: %w", resp.StatusCode(), model.ErrUpstream)
	}
	s.token = out.AccessToken
	s.expiry = s.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return s.token, nil
}
