package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	loginPath = "/v1/external/auth/login"

	// tokenRefreshMargin refreshes tokens slightly before their JWT expiry so
	// in-flight pickup requests never carry a token about to lapse.
	tokenRefreshMargin = 5 * time.Minute

	// fallbackTokenTTL applies when the carrier hands back a token whose
	// expiry cannot be read.
	fallbackTokenTTL = 6 * time.Hour
)

// TokenSource obtains and caches carrier API bearer tokens.
type TokenSource struct {
	baseURL  string
	email    string
	password string

	httpClient *http.Client
	clock      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// TokenSourceOption customises TokenSource instances.
type TokenSourceOption func(*TokenSource)

// WithTokenHTTPClient injects a custom HTTP client (primarily for tests).
func WithTokenHTTPClient(client *http.Client) TokenSourceOption {
	return func(ts *TokenSource) {
		if client != nil {
			ts.httpClient = client
		}
	}
}

// WithTokenClock injects a custom clock.
func WithTokenClock(clock func() time.Time) TokenSourceOption {
	return func(ts *TokenSource) {
		if clock != nil {
			ts.clock = clock
		}
	}
}

// NewTokenSource constructs a carrier token source using credential login.
func NewTokenSource(baseURL, email, password string, opts ...TokenSourceOption) (*TokenSource, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("shipping: carrier base url is required")
	}
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return nil, errors.New("shipping: carrier credentials are required")
	}

	ts := &TokenSource{
		baseURL:    baseURL,
		email:      strings.TrimSpace(email),
		password:   password,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts, nil
}

// Token returns a valid bearer token, logging in again when the cached token
// is missing or close to expiry.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	if ts == nil {
		return "", errors.New("shipping: token source not initialised")
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.clock().Before(ts.expiresAt.Add(-tokenRefreshMargin)) {
		return ts.token, nil
	}

	token, expiresAt, err := ts.login(ctx)
	if err != nil {
		return "", err
	}

	ts.token = token
	ts.expiresAt = expiresAt
	return token, nil
}

// Invalidate drops the cached token, forcing a fresh login on next use.
func (ts *TokenSource) Invalidate() {
	if ts == nil {
		return
	}
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.mu.Unlock()
}

func (ts *TokenSource) login(ctx context.Context) (string, time.Time, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    ts.email,
		"password": ts.password,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("shipping: marshal login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("shipping: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("shipping: carrier login request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("shipping: read login response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", time.Time{}, fmt.Errorf("shipping: carrier login failed with status %d", resp.StatusCode)
	}

	var decoded struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", time.Time{}, fmt.Errorf("shipping: decode login response: %w", err)
	}
	token := strings.TrimSpace(decoded.Token)
	if token == "" {
		return "", time.Time{}, errors.New("shipping: carrier login returned no token")
	}

	return token, ts.tokenExpiry(token), nil
}

// tokenExpiry reads the exp claim without verifying the signature; the token
// was just handed to us over TLS and is only inspected for cache scheduling.
func (ts *TokenSource) tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ts.clock().Add(fallbackTokenTTL)
	}
	exp, ok := claims["exp"].(float64)
	if !ok || exp <= 0 {
		return ts.clock().Add(fallbackTokenTTL)
	}
	return time.Unix(int64(exp), 0)
}
