package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftkart/api/internal/domain"
	"github.com/craftkart/api/internal/services"
)

type stubPaymentService struct {
	createFn func(ctx context.Context, cmd services.GatewayOrderCommand) (domain.GatewayOrder, error)
	verifyFn func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.VerificationResult, error)
}

func (s *stubPaymentService) CreateGatewayOrder(ctx context.Context, cmd services.GatewayOrderCommand) (domain.GatewayOrder, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.GatewayOrder{}, errors.New("not implemented")
}

func (s *stubPaymentService) VerifyPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (services.VerificationResult, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return services.VerificationResult{}, errors.New("not implemented")
}

func newCheckoutRouter(service services.PaymentService) *chi.Mux {
	router := chi.NewRouter()
	router.Route("/checkout", NewCheckoutHandlers(nil, service).Routes)
	return router
}

func TestCheckoutHandlersCreateGatewayOrder(t *testing.T) {
	var captured services.GatewayOrderCommand
	service := &stubPaymentService{
		createFn: func(ctx context.Context, cmd services.GatewayOrderCommand) (domain.GatewayOrder, error) {
			captured = cmd
			return domain.GatewayOrder{
				GatewayOrderID: "order_rzp1",
				Amount:         49800,
				Currency:       "INR",
				PublicKey:      "rzp_test_key",
			}, nil
		},
	}

	body := bytes.NewBufferString(`{
		"orderId":" ord-1 ",
		"recaptchaToken":"tok-recaptcha"
	}`)
	req := httptest.NewRequest(http.MethodPost, "/checkout/gateway-orders", body)
	rr := httptest.NewRecorder()
	newCheckoutRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.OrderID != "ord-1" || captured.RecaptchaToken != "tok-recaptcha" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.RemoteIP == "" {
		t.Fatalf("expected remote ip forwarded")
	}

	var resp gatewayOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.GatewayOrderID != "order_rzp1" || resp.Amount != 49800 || resp.PublicKey != "rzp_test_key" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCheckoutHandlersCreateGatewayOrderBotRejected(t *testing.T) {
	service := &stubPaymentService{
		createFn: func(ctx context.Context, cmd services.GatewayOrderCommand) (domain.GatewayOrder, error) {
			return domain.GatewayOrder{}, services.ErrBotSuspected
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout/gateway-orders", bytes.NewBufferString(`{"orderId":"ord-1"}`))
	rr := httptest.NewRecorder()
	newCheckoutRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestCheckoutHandlersCreateGatewayOrderGatewayDown(t *testing.T) {
	service := &stubPaymentService{
		createFn: func(ctx context.Context, cmd services.GatewayOrderCommand) (domain.GatewayOrder, error) {
			return domain.GatewayOrder{}, services.ErrPaymentGatewayUnavailable
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout/gateway-orders", bytes.NewBufferString(`{"orderId":"ord-1"}`))
	rr := httptest.NewRecorder()
	newCheckoutRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}

func TestCheckoutHandlersVerifyPaymentOutcomes(t *testing.T) {
	cases := []struct {
		name        string
		outcome     services.VerificationOutcome
		wantStatus  int
		wantSuccess bool
	}{
		{name: "succeeded", outcome: services.VerificationSucceeded, wantStatus: http.StatusOK, wantSuccess: true},
		{name: "pending", outcome: services.VerificationPending, wantStatus: http.StatusAccepted},
		{name: "failed", outcome: services.VerificationFailed, wantStatus: http.StatusBadRequest},
	}

	for _, tc := range cases {
		service := &stubPaymentService{
			verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.VerificationResult, error) {
				if cmd.PaymentID != "pay_abc" {
					t.Fatalf("%s: unexpected payment id %q", tc.name, cmd.PaymentID)
				}
				return services.VerificationResult{
					Outcome: tc.outcome,
					Order:   domain.Order{ID: "ord-1", OrderNumber: "CK-20250315-AB12"},
				}, nil
			},
		}

		body := bytes.NewBufferString(`{"orderId":"ord-1","gatewayOrderId":"order_rzp1","paymentId":"pay_abc","signature":"sig"}`)
		req := httptest.NewRequest(http.MethodPost, "/checkout/payments:verify", body)
		rr := httptest.NewRecorder()
		newCheckoutRouter(service).ServeHTTP(rr, req)

		if rr.Code != tc.wantStatus {
			t.Fatalf("%s: expected status %d, got %d: %s", tc.name, tc.wantStatus, rr.Code, rr.Body.String())
		}

		var resp verifyPaymentResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: failed to parse response: %v", tc.name, err)
		}
		if resp.Success != tc.wantSuccess {
			t.Fatalf("%s: expected success=%v, got %+v", tc.name, tc.wantSuccess, resp)
		}
		if resp.Outcome != string(tc.outcome) {
			t.Fatalf("%s: unexpected outcome %q", tc.name, resp.Outcome)
		}
		if resp.OrderID != "ord-1" || resp.OrderNumber != "CK-20250315-AB12" || resp.PaymentID != "pay_abc" {
			t.Fatalf("%s: unexpected response %+v", tc.name, resp)
		}
	}
}

func TestCheckoutHandlersVerifyPaymentReplay(t *testing.T) {
	service := &stubPaymentService{
		verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.VerificationResult, error) {
			return services.VerificationResult{}, services.ErrPaymentReplayed
		},
	}

	body := bytes.NewBufferString(`{"orderId":"ord-1","gatewayOrderId":"g","paymentId":"p","signature":"s"}`)
	req := httptest.NewRequest(http.MethodPost, "/checkout/payments:verify", body)
	rr := httptest.NewRecorder()
	newCheckoutRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestCheckoutHandlersVerifyPaymentUnknownOrder(t *testing.T) {
	service := &stubPaymentService{
		verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.VerificationResult, error) {
			return services.VerificationResult{}, services.ErrPaymentNotFound
		},
	}

	body := bytes.NewBufferString(`{"orderId":"ord-404","gatewayOrderId":"g","paymentId":"p","signature":"s"}`)
	req := httptest.NewRequest(http.MethodPost, "/checkout/payments:verify", body)
	rr := httptest.NewRecorder()
	newCheckoutRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCheckoutHandlersServiceMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/checkout/gateway-orders", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	newCheckoutRouter(nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
