package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func carrierJWT(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte("carrier-signing-key"))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

func TestTokenSourceCachesUntilRefreshMargin(t *testing.T) {
	now := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)

	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		logins++
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("decode login payload: %v", err)
		}
		if creds["email"] != "ops@example.com" || creds["password"] != "secret" {
			t.Fatalf("unexpected credentials %+v", creds)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": carrierJWT(t, expiry)})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	current := now
	ts, err := NewTokenSource(server.URL, "ops@example.com", "secret",
		WithTokenHTTPClient(server.Client()),
		WithTokenClock(func() time.Time { return current }),
	)
	if err != nil {
		t.Fatalf("unexpected error constructing token source: %v", err)
	}

	ctx := context.Background()
	first, err := ts.Token(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ts.Token(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached token to be reused")
	}
	if logins != 1 {
		t.Fatalf("expected a single login, got %d", logins)
	}

	// Inside the refresh margin the source logs in again.
	current = expiry.Add(-time.Minute)
	if _, err := ts.Token(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logins != 2 {
		t.Fatalf("expected refresh login, got %d logins", logins)
	}
}

func TestTokenSourceInvalidateForcesLogin(t *testing.T) {
	var logins int
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		logins++
		json.NewEncoder(w).Encode(map[string]string{"token": "opaque-token"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ts, err := NewTokenSource(server.URL, "ops@example.com", "secret", WithTokenHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("unexpected error constructing token source: %v", err)
	}

	ctx := context.Background()
	if _, err := ts.Token(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Non-JWT tokens fall back to a fixed TTL and stay cached.
	if _, err := ts.Token(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logins != 1 {
		t.Fatalf("expected single login, got %d", logins)
	}

	ts.Invalidate()
	if _, err := ts.Token(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logins != 2 {
		t.Fatalf("expected login after invalidate, got %d", logins)
	}
}

func TestTokenSourceLoginFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "  "})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ts, err := NewTokenSource(server.URL, "ops@example.com", "secret", WithTokenHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("unexpected error constructing token source: %v", err)
	}
	if _, err := ts.Token(context.Background()); err == nil {
		t.Fatalf("expected error for blank token")
	}

	if _, err := NewTokenSource(server.URL, "", "secret"); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
	if _, err := NewTokenSource("  ", "ops@example.com", "secret"); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}
