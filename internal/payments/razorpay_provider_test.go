package payments

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubOrderAPI struct {
	createFunc func(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

func (s *stubOrderAPI) Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
	if s.createFunc != nil {
		return s.createFunc(data, extraHeaders)
	}
	return nil, errors.New("not implemented")
}

func TestRazorpayProviderCreateOrder(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

	var gotData map[string]interface{}
	api := &stubOrderAPI{
		createFunc: func(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
			gotData = data
			return map[string]interface{}{
				"id":     "order_rzp1",
				"amount": float64(49800),
			}, nil
		},
	}

	provider, err := NewRazorpayProvider(RazorpayProviderConfig{
		Orders: api,
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing provider: %v", err)
	}

	order, err := provider.CreateOrder(context.Background(), OrderRequest{
		Amount:   49800,
		Currency: "inr",
		Receipt:  "rcpt_001",
		Notes:    map[string]string{"items": "2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ID != "order_rzp1" || order.Amount != 49800 || order.Currency != "INR" {
		t.Fatalf("unexpected order %+v", order)
	}
	if !order.CreatedAt.Equal(now) {
		t.Fatalf("expected created at %v, got %v", now, order.CreatedAt)
	}

	if gotData["amount"] != int64(49800) {
		t.Fatalf("unexpected amount payload %v", gotData["amount"])
	}
	if gotData["currency"] != "INR" {
		t.Fatalf("unexpected currency payload %v", gotData["currency"])
	}
	if gotData["receipt"] != "rcpt_001" {
		t.Fatalf("unexpected receipt payload %v", gotData["receipt"])
	}
}

func TestRazorpayProviderCreateOrderFailures(t *testing.T) {
	provider, err := NewRazorpayProvider(RazorpayProviderConfig{
		Orders: &stubOrderAPI{
			createFunc: func(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
				return nil, errors.New("connection reset")
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing provider: %v", err)
	}

	if _, err := provider.CreateOrder(context.Background(), OrderRequest{Amount: 100}); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}

	if _, err := provider.CreateOrder(context.Background(), OrderRequest{Amount: 0}); err == nil {
		t.Fatalf("expected error for non-positive amount")
	}

	missingID, err := NewRazorpayProvider(RazorpayProviderConfig{
		Orders: &stubOrderAPI{
			createFunc: func(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
				return map[string]interface{}{}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing provider: %v", err)
	}
	if _, err := missingID.CreateOrder(context.Background(), OrderRequest{Amount: 100}); err == nil {
		t.Fatalf("expected error when gateway returns no order id")
	}
}

func TestNewRazorpayProviderRequiresCredentials(t *testing.T) {
	if _, err := NewRazorpayProvider(RazorpayProviderConfig{}); err == nil {
		t.Fatalf("expected error without credentials or order api")
	}
}
