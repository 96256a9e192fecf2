package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftkart/api/internal/domain"
	"github.com/craftkart/api/internal/platform/auth"
	"github.com/craftkart/api/internal/platform/httpx"
	"github.com/craftkart/api/internal/repositories"
	"github.com/craftkart/api/internal/services"
)

const (
	maxAdminBodySize      = 32 * 1024
	defaultAdminListLimit = 50
	maxAdminListLimit     = 500
)

// AdminOrderHandlers exposes the operator surface for order management.
type AdminOrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	exports services.ExportService
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, exports services.ExportService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:   authn,
		orders:  orders,
		exports: exports,
	}
}

// Routes registers the admin order endpoints. Every route requires the admin
// role.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}

	r.Get("/orders", h.listOrders)
	r.Get("/orders:recent", h.listRecent)
	r.Get("/orders:export", h.exportOrders)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
	r.Patch("/orders/{orderID}/fulfillment", h.updateFulfillment)
	r.Post("/orders/{orderID}:cancelThenDelete", h.cancelThenDelete)
	r.Delete("/orders/{orderID}", h.forceDelete)
	r.Post("/orders/{orderID}/pickup", h.schedulePickup)
}

type transitionOrderRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

type fulfillmentUpdateRequest struct {
	TrackingNumber     *string `json:"trackingNumber"`
	ShippingCarrier    *string `json:"shippingCarrier"`
	ShipmentID         *string `json:"shipmentId"`
	EstimatedDelivery  *string `json:"estimatedDelivery"`
	AdminNotes         *string `json:"adminNotes"`
	CancellationReason *string `json:"cancellationReason"`
}

type cancelThenDeleteRequest struct {
	Reason string `json:"reason"`
}

type pickupResponse struct {
	Success             bool   `json:"success"`
	PickupScheduledDate string `json:"pickupScheduledDate,omitempty"`
	PickupToken         string `json:"pickupToken,omitempty"`
	Error               string `json:"error,omitempty"`
}

type exportUploadResponse struct {
	ObjectName  string `json:"objectName"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	URLExpires  string `json:"urlExpires,omitempty"`
	RowCount    int    `json:"rowCount"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	status := domain.OrderStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status query parameter is required", http.StatusBadRequest))
		return
	}

	limit, ok := parseLimitParam(ctx, w, r, defaultAdminListLimit, maxAdminListLimit)
	if !ok {
		return
	}

	orders, err := h.orders.ListByStatus(ctx, status, limit)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: buildOrderPayloads(orders)})
}

func (h *AdminOrderHandlers) listRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	filter, ok := parseOrderListFilter(ctx, w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListRecent(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: buildOrderPayloads(orders)})
}

func (h *AdminOrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
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

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req transitionOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.TransitionCommand{
		OrderID: orderID,
		Status:  domain.OrderStatus(strings.TrimSpace(req.Status)),
		Note:    strings.TrimSpace(req.Note),
		Reason:  strings.TrimSpace(req.Reason),
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) updateFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req fulfillmentUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateFulfillment(ctx, orderID, services.FulfillmentUpdate{
		TrackingNumber:     req.TrackingNumber,
		ShippingCarrier:    req.ShippingCarrier,
		ShipmentID:         req.ShipmentID,
		EstimatedDelivery:  req.EstimatedDelivery,
		AdminNotes:         req.AdminNotes,
		CancellationReason: req.CancellationReason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelThenDelete(w http.ResponseWriter, r *http.Request) {
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

	var req cancelThenDeleteRequest
	if body, err := readLimitedBody(r, maxAdminBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	if err := h.orders.CancelThenDelete(ctx, orderID, strings.TrimSpace(req.Reason), identity.UID); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminOrderHandlers) forceDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.ForceDelete(ctx, orderID); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminOrderHandlers) schedulePickup(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.orders.SchedulePickup(ctx, orderID, identity.UID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, pickupResponse{
		Success:             result.Success,
		PickupScheduledDate: result.PickupScheduledDate,
		PickupToken:         result.PickupToken,
		Error:               result.Error,
	})
}

func (h *AdminOrderHandlers) exportOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.exports == nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_service_unavailable", "export service unavailable", http.StatusServiceUnavailable))
		return
	}

	filter, ok := parseOrderListFilter(ctx, w, r)
	if !ok {
		return
	}

	upload := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("upload")), "true")

	result, err := h.exports.ExportOrders(ctx, services.ExportRequest{
		Status:       filter.Status,
		CreatedAfter: filter.CreatedAfter,
		Limit:        filter.Limit,
		Upload:       upload,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	if upload {
		payload := exportUploadResponse{
			ObjectName:  result.ObjectName,
			DownloadURL: result.DownloadURL,
			RowCount:    result.RowCount,
		}
		if !result.URLExpires.IsZero() {
			payload.URLExpires = result.URLExpires.UTC().Format(time.RFC3339)
		}
		httpx.WriteJSON(w, http.StatusOK, payload)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func parseOrderListFilter(ctx context.Context, w http.ResponseWriter, r *http.Request) (repositories.OrderListFilter, bool) {
	query := r.URL.Query()

	var filter repositories.OrderListFilter
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status := domain.OrderStatus(part)
			if !status.Valid() {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown status %q", part), http.StatusBadRequest))
				return repositories.OrderListFilter{}, false
			}
			filter.Status = append(filter.Status, status)
		}
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return repositories.OrderListFilter{}, false
		}
		filter.CreatedAfter = &ts
	}

	limit, ok := parseLimitParam(ctx, w, r, defaultAdminListLimit, maxAdminListLimit)
	if !ok {
		return repositories.OrderListFilter{}, false
	}
	filter.Limit = limit

	return filter, true
}
