package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestTokenSource(t *testing.T, baseURL string) *TokenSource {
	t.Helper()
	ts, err := NewTokenSource(baseURL, "ops@example.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error constructing token source: %v", err)
	}
	return ts
}

func newCarrierServer(t *testing.T, pickup http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "carrier-token"})
	})
	mux.HandleFunc(pickupPath, pickup)
	return httptest.NewServer(mux)
}

func TestSchedulerSchedulePickupSuccess(t *testing.T) {
	now := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)

	var gotAuth string
	var gotPayload map[string][]string
	server := newCarrierServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("decode pickup payload: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"pickup_status": 1,
			"response": map[string]string{
				"pickup_scheduled_date": "2025-03-16",
				"pickup_token_number":   "PKT-991",
			},
		})
	})
	defer server.Close()

	scheduler, err := NewScheduler(SchedulerDeps{
		BaseURL:    server.URL,
		Tokens:     newTestTokenSource(t, server.URL),
		HTTPClient: server.Client(),
		Clock:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing scheduler: %v", err)
	}

	result := scheduler.SchedulePickup(context.Background(), "ship-123")
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.PickupScheduledDate != "2025-03-16" || result.PickupToken != "PKT-991" {
		t.Fatalf("unexpected result %+v", result)
	}
	if gotAuth != "Bearer carrier-token" {
		t.Fatalf("expected carrier bearer token, got %q", gotAuth)
	}
	if len(gotPayload["shipment_id"]) != 1 || gotPayload["shipment_id"][0] != "ship-123" {
		t.Fatalf("unexpected shipment payload %+v", gotPayload)
	}
	if len(gotPayload["pickup_date"]) != 1 || gotPayload["pickup_date"][0] != "2025-03-15" {
		t.Fatalf("unexpected pickup date %+v", gotPayload)
	}
}

func TestSchedulerSchedulePickupWithoutShipmentSkipsNetwork(t *testing.T) {
	server := newCarrierServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("expected no carrier call without a shipment id")
	})
	defer server.Close()

	scheduler, err := NewScheduler(SchedulerDeps{
		BaseURL:    server.URL,
		Tokens:     newTestTokenSource(t, server.URL),
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing scheduler: %v", err)
	}

	result := scheduler.SchedulePickup(context.Background(), "   ")
	if result.Success {
		t.Fatalf("expected failure result, got %+v", result)
	}
	if result.Error != "order has no carrier shipment id" {
		t.Fatalf("unexpected error message %q", result.Error)
	}
}

func TestSchedulerSchedulePickupCarrierDecline(t *testing.T) {
	server := newCarrierServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"pickup_status": 0,
			"message":       "pickup already scheduled for this shipment",
		})
	})
	defer server.Close()

	scheduler, err := NewScheduler(SchedulerDeps{
		BaseURL:    server.URL,
		Tokens:     newTestTokenSource(t, server.URL),
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing scheduler: %v", err)
	}

	result := scheduler.SchedulePickup(context.Background(), "ship-123")
	if result.Success {
		t.Fatalf("expected decline, got %+v", result)
	}
	if result.Error != "pickup already scheduled for this shipment" {
		t.Fatalf("unexpected error message %q", result.Error)
	}
}

func TestSchedulerSchedulePickupCarrierErrorStatus(t *testing.T) {
	server := newCarrierServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("x", 500)))
	})
	defer server.Close()

	scheduler, err := NewScheduler(SchedulerDeps{
		BaseURL:    server.URL,
		Tokens:     newTestTokenSource(t, server.URL),
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing scheduler: %v", err)
	}

	result := scheduler.SchedulePickup(context.Background(), "ship-123")
	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if !strings.Contains(result.Error, "status 502") {
		t.Fatalf("expected status in error, got %q", result.Error)
	}
	// Long carrier bodies are truncated before they reach the result.
	if len(result.Error) > maxErrorBody+100 {
		t.Fatalf("expected truncated error body, got %d bytes", len(result.Error))
	}
}

func TestSchedulerSchedulePickupTransportFailure(t *testing.T) {
	server := newCarrierServer(t, func(w http.ResponseWriter, r *http.Request) {})
	tokens := newTestTokenSource(t, server.URL)
	if _, err := tokens.Token(context.Background()); err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	server.Close()

	scheduler, err := NewScheduler(SchedulerDeps{
		BaseURL: server.URL,
		Tokens:  tokens,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing scheduler: %v", err)
	}

	result := scheduler.SchedulePickup(context.Background(), "ship-123")
	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if !strings.Contains(result.Error, "carrier request failed") {
		t.Fatalf("unexpected error message %q", result.Error)
	}
}

func TestSchedulerSchedulePickupTokenFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	scheduler, err := NewScheduler(SchedulerDeps{
		BaseURL:    server.URL,
		Tokens:     newTestTokenSource(t, server.URL),
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing scheduler: %v", err)
	}

	result := scheduler.SchedulePickup(context.Background(), "ship-123")
	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if !strings.Contains(result.Error, "carrier authentication failed") {
		t.Fatalf("unexpected error message %q", result.Error)
	}
}
