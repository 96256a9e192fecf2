package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/craftkart/api/internal/platform/auth"
	"github.com/craftkart/api/internal/platform/httpx"
	"github.com/craftkart/api/internal/services"
)

const maxCheckoutBodySize = 32 * 1024

// CheckoutHandlers exposes the payment checkout handshake: gateway order
// creation and server-side payment verification.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(authn *auth.Authenticator, payments services.PaymentService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		payments: payments,
	}
}

// Routes registers the /checkout endpoints. Authentication is optional so
// guest checkout keeps working; a presented token must still be valid.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Post("/gateway-orders", h.createGatewayOrder)
	r.Post("/payments:verify", h.verifyPayment)
}

type gatewayOrderRequest struct {
	OrderID        string `json:"orderId"`
	RecaptchaToken string `json:"recaptchaToken"`
}

type orderItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type gatewayOrderResponse struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PublicKey      string `json:"publicKey"`
}

type verifyPaymentRequest struct {
	OrderID        string `json:"orderId"`
	GatewayOrderID string `json:"gatewayOrderId"`
	PaymentID      string `json:"paymentId"`
	Signature      string `json:"signature"`
}

type verifyPaymentResponse struct {
	Success     bool   `json:"success"`
	Outcome     string `json:"outcome"`
	Message     string `json:"message,omitempty"`
	PaymentID   string `json:"paymentId,omitempty"`
	OrderID     string `json:"orderId,omitempty"`
	OrderNumber string `json:"orderNumber,omitempty"`
}

func (h *CheckoutHandlers) createGatewayOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req gatewayOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.payments.CreateGatewayOrder(ctx, services.GatewayOrderCommand{
		OrderID:        strings.TrimSpace(req.OrderID),
		RecaptchaToken: strings.TrimSpace(req.RecaptchaToken),
		RemoteIP:       r.RemoteAddr,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, gatewayOrderResponse{
		GatewayOrderID: order.GatewayOrderID,
		Amount:         order.Amount,
		Currency:       order.Currency,
		PublicKey:      order.PublicKey,
	})
}

func (h *CheckoutHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req verifyPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	result, err := h.payments.VerifyPayment(ctx, services.VerifyPaymentCommand{
		OrderID:        strings.TrimSpace(req.OrderID),
		GatewayOrderID: strings.TrimSpace(req.GatewayOrderID),
		PaymentID:      strings.TrimSpace(req.PaymentID),
		Signature:      strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	payload := verifyPaymentResponse{
		Success:     result.Outcome == services.VerificationSucceeded,
		Outcome:     string(result.Outcome),
		Message:     result.Message,
		PaymentID:   strings.TrimSpace(req.PaymentID),
		OrderID:     result.Order.ID,
		OrderNumber: result.Order.OrderNumber,
	}

	status := http.StatusOK
	switch result.Outcome {
	case services.VerificationPending:
		status = http.StatusAccepted
	case services.VerificationFailed:
		status = http.StatusBadRequest
	}
	httpx.WriteJSON(w, status, payload)
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrBotSuspected):
		httpx.WriteError(ctx, w, httpx.NewError("bot_suspected", "request failed bot verification", http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentReplayed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_replayed", "payment was already processed", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
