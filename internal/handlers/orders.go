package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftkart/api/internal/domain"
	"github.com/craftkart/api/internal/platform/auth"
	"github.com/craftkart/api/internal/platform/httpx"
	"github.com/craftkart/api/internal/services"
)

const (
	maxOrderBodySize     = 64 * 1024
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes storefront order endpoints: creation, retrieval, and
// the guest lookup flow.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the order endpoints on the api router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	optional := passthroughMiddleware
	required := passthroughMiddleware
	if h.authn != nil {
		optional = h.authn.OptionalFirebaseAuth()
		required = h.authn.RequireFirebaseAuth()
	}

	r.With(optional).Post("/orders", h.createOrder)
	r.With(required).Get("/orders", h.listMyOrders)
	r.With(required).Get("/orders/{orderID}", h.getOrder)
	r.With(required).Get("/orders:byNumber", h.getOrderByNumber)
	r.With(optional).Get("/orders:lookup", h.lookupOrder)
}

func passthroughMiddleware(next http.Handler) http.Handler {
	return next
}

type createOrderRequest struct {
	Items         []orderItemInput     `json:"items"`
	Customer      orderCustomerPayload `json:"customer"`
	CouponCode    string               `json:"couponCode"`
	PaymentMethod string               `json:"paymentMethod"`
}

type orderCustomerPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
}

type orderPaymentPayload struct {
	Method        string  `json:"method"`
	Status        string  `json:"status"`
	TransactionID *string `json:"transactionId,omitempty"`
	PaidAt        string  `json:"paidAt,omitempty"`
}

type orderTimelinePayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Note      string `json:"note,omitempty"`
	UpdatedBy string `json:"updatedBy,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

type orderPayload struct {
	ID          string                 `json:"id"`
	OrderNumber string                 `json:"orderNumber"`
	UserID      string                 `json:"userId"`
	Status      string                 `json:"status"`
	Items       []orderItemPayload     `json:"items"`
	Customer    orderCustomerPayload   `json:"customer"`
	Subtotal    int64                  `json:"subtotal"`
	Discount    int64                  `json:"discount"`
	ShippingFee int64                  `json:"shippingFee"`
	Total       int64                  `json:"total"`
	CouponCode  *string                `json:"couponCode,omitempty"`
	Payment     orderPaymentPayload    `json:"payment"`
	Timeline    []orderTimelinePayload `json:"timeline"`

	TrackingNumber     *string `json:"trackingNumber,omitempty"`
	ShippingCarrier    *string `json:"shippingCarrier,omitempty"`
	ShipmentID         *string `json:"shipmentId,omitempty"`
	EstimatedDelivery  *string `json:"estimatedDelivery,omitempty"`
	CancellationReason *string `json:"cancellationReason,omitempty"`
	AdminNotes         *string `json:"adminNotes,omitempty"`
	PickupToken        *string `json:"pickupToken,omitempty"`
	PickupScheduledFor *string `json:"pickupScheduledFor,omitempty"`
	StockRestoredAt    string  `json:"stockRestoredAt,omitempty"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		Items: make([]services.OrderItemInput, 0, len(req.Items)),
		Customer: services.Customer{
			Name:    req.Customer.Name,
			Email:   req.Customer.Email,
			Phone:   req.Customer.Phone,
			Address: req.Customer.Address,
			City:    req.Customer.City,
			State:   req.Customer.State,
			Pincode: req.Customer.Pincode,
		},
		CouponCode:    strings.TrimSpace(req.CouponCode),
		PaymentMethod: services.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderItemInput{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	limit, ok := parseLimitParam(ctx, w, r, defaultOrderPageSize, maxOrderPageSize)
	if !ok {
		return
	}

	orders, err := h.orders.ListForUser(ctx, identity.UID, limit)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: buildOrderPayloads(orders)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !canReadOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	number := strings.TrimSpace(r.URL.Query().Get("number"))
	if number == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "number query parameter is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrderByNumber(ctx, number)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !canReadOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) lookupOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	lookup := services.OrderLookupQuery{
		OrderID: strings.TrimSpace(query.Get("orderId")),
		Email:   strings.TrimSpace(query.Get("email")),
		Phone:   strings.TrimSpace(query.Get("phone")),
	}

	order, err := h.orders.LookupOrder(ctx, lookup)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	// The contact match alone is not enough: an anonymous caller may only
	// retrieve guest orders, and an authenticated caller only their own.
	identity, authenticated := auth.IdentityFromContext(ctx)
	switch {
	case authenticated && identity != nil:
		if !canReadOrder(identity, order) {
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
			return
		}
	default:
		if order.UserID != domain.GuestUserID {
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
			return
		}
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func parseLimitParam(ctx context.Context, w http.ResponseWriter, r *http.Request, fallback, max int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
		return 0, false
	}
	switch {
	case limit <= 0:
		return fallback, true
	case limit > max:
		return max, true
	default:
		return limit, true
	}
}

// canReadOrder reports whether the identity may see the order. Admins see
// everything; everyone else only their own orders.
func canReadOrder(identity *auth.Identity, order services.Order) bool {
	if identity == nil {
		return false
	}
	if identity.IsAdmin() {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(order.UserID), strings.TrimSpace(identity.UID))
}

func buildOrderPayloads(orders []services.Order) []orderPayload {
	payloads := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payloads = append(payloads, buildOrderPayload(order))
	}
	return payloads
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		Customer: orderCustomerPayload{
			Name:    order.Customer.Name,
			Email:   order.Customer.Email,
			Phone:   order.Customer.Phone,
			Address: order.Customer.Address,
			City:    order.Customer.City,
			State:   order.Customer.State,
			Pincode: order.Customer.Pincode,
		},
		Subtotal:    order.Subtotal,
		Discount:    order.Discount,
		ShippingFee: order.ShippingFee,
		Total:       order.Total,
		CouponCode:  cloneStringPointer(order.CouponCode),
		Payment: orderPaymentPayload{
			Method:        string(order.Payment.Method),
			Status:        string(order.Payment.Status),
			TransactionID: cloneStringPointer(order.Payment.TransactionID),
			PaidAt:        formatTime(pointerTime(order.Payment.PaidAt)),
		},
		Timeline:           make([]orderTimelinePayload, 0, len(order.Timeline)),
		TrackingNumber:     cloneStringPointer(order.TrackingNumber),
		ShippingCarrier:    cloneStringPointer(order.ShippingCarrier),
		ShipmentID:         cloneStringPointer(order.ShipmentID),
		EstimatedDelivery:  cloneStringPointer(order.EstimatedDelivery),
		CancellationReason: cloneStringPointer(order.CancellationReason),
		AdminNotes:         cloneStringPointer(order.AdminNotes),
		PickupToken:        cloneStringPointer(order.PickupToken),
		PickupScheduledFor: cloneStringPointer(order.PickupScheduledFor),
		StockRestoredAt:    formatTime(pointerTime(order.StockRestoredAt)),
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			ImageURL:  item.ImageURL,
		})
	}
	for _, entry := range order.Timeline {
		payload.Timeline = append(payload.Timeline, orderTimelinePayload{
			Status:    string(entry.Status),
			Timestamp: formatTime(entry.Timestamp),
			Note:      entry.Note,
			UpdatedBy: entry.UpdatedBy,
		})
	}

	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
