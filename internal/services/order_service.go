package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/craftkart/api/internal/domain"
	"github.com/craftkart/api/internal/platform/auth"
	"github.com/craftkart/api/internal/platform/config"
	"github.com/craftkart/api/internal/repositories"
	"github.com/craftkart/api/internal/shipping"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventDeleted       = "order.deleted"

	orderIDPrefix = "ord_"

	orderNumberSuffixLen    = 4
	orderNumberRandAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates duplicate writes or concurrent modification.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the caller identity may not place or read the order.
	ErrOrderForbidden = errors.New("order: forbidden")
)

const (
	maxPhoneDigits   = 13
	pincodeDigitsLen = 6
	minPhoneDigits   = 10
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Inventory   InventoryService
	Scheduler   *shipping.Scheduler
	CouponCfg   config.CouponConfig
	OrderCfg    config.OrdersConfig
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	inventory InventoryService
	scheduler *shipping.Scheduler
	couponCfg config.CouponConfig
	orderCfg  config.OrdersConfig
	clock     func() time.Time
	newID     func() string
	events    EventPublisher
	logger    func(context.Context, string, map[string]any)
	sanitizer *bluemonday.Policy
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	orderCfg := deps.OrderCfg
	if strings.TrimSpace(orderCfg.NumberPrefix) == "" {
		orderCfg.NumberPrefix = "CK"
	}

	return &orderService{
		orders:    deps.Orders,
		products:  deps.Products,
		inventory: deps.Inventory,
		scheduler: deps.Scheduler,
		couponCfg: deps.CouponCfg,
		orderCfg:  orderCfg,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		events:    deps.Events,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// CreateOrder validates the cart against the catalog, recomputes all totals
// server-side, and persists the order with a seeded timeline. Stock is
// decremented afterwards on a best-effort basis.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	identity, authenticated := auth.IdentityFromContext(ctx)
	if authenticated && !identity.EmailVerified {
		return Order{}, fmt.Errorf("%w: email address not verified", ErrOrderForbidden)
	}

	customer, err := s.sanitizeCustomer(cmd.Customer)
	if err != nil {
		return Order{}, err
	}

	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(cmd.PaymentMethod))))
	switch method {
	case domain.PaymentMethodCOD, domain.PaymentMethodOnline, domain.PaymentMethodUPI:
	default:
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	items, subtotal, err := s.snapshotItems(ctx, cmd.Items)
	if err != nil {
		return Order{}, err
	}

	discount := RecomputeDiscount(s.couponCfg, cmd.CouponCode, subtotal)
	now := s.clock()

	order := Order{
		ID:          orderIDPrefix + s.newID(),
		OrderNumber: s.generateOrderNumber(now),
		UserID:      domain.GuestUserID,
		Items:       items,
		Customer:    customer,
		Subtotal:    subtotal,
		Discount:    discount,
		ShippingFee: s.orderCfg.ShippingFee,
		Total:       subtotal - discount + s.orderCfg.ShippingFee,
		Status:      domain.OrderStatusPending,
		Payment: PaymentInfo{
			Method: method,
			Status: domain.PaymentStatusPending,
		},
		Timeline: []TimelineEntry{{
			Status:    domain.OrderStatusPending,
			Timestamp: now,
			Note:      "order placed",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if authenticated {
		order.UserID = identity.UID
	}
	if code := strings.TrimSpace(cmd.CouponCode); code != "" && discount > 0 {
		order.CouponCode = &code
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	// Stock adjustment must never undo a placed order.
	if _, err := s.inventory.Decrement(ctx, stockLines(order.Items)); err != nil {
		s.logger(ctx, "order.inventory_decrement_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	s.publishEvent(ctx, OrderEventMessage{
		Event:       orderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		OccurredAt:  now,
	})

	return order, nil
}

// GetOrder loads an order by ID.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// GetOrderByNumber loads an order by its human-facing number.
func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// LookupOrder loads an order by ID only when the supplied contact details
// match the stored customer.
func (s *orderService) LookupOrder(ctx context.Context, query OrderLookupQuery) (Order, error) {
	if strings.TrimSpace(query.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(query.Email) == "" && strings.TrimSpace(query.Phone) == "" {
		return Order{}, fmt.Errorf("%w: email or phone is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindForCustomer(ctx, query.OrderID, query.Email, query.Phone)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// ListForUser returns orders owned by the given account, newest first.
func (s *orderService) ListForUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	orders, err := s.orders.ListForUser(ctx, userID, limit)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// ListByStatus returns orders in the given status, newest first.
func (s *orderService) ListByStatus(ctx context.Context, status OrderStatus, limit int) ([]Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
	}

	orders, err := s.orders.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// ListRecent returns the most recent orders matching the filter.
func (s *orderService) ListRecent(ctx context.Context, filter repositories.OrderListFilter) ([]Order, error) {
	orders, err := s.orders.ListRecent(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// TransitionStatus moves the order along its lifecycle, appending the timeline
// entry in the same write. Cancelling restores stock exactly once.
func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Status.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	// Re-cancelling an already cancelled order is a no-op, not an error; the
	// stockRestoredAt marker keeps the restore from running twice.
	if order.Status == domain.OrderStatusCancelled && cmd.Status == domain.OrderStatusCancelled {
		return order, nil
	}

	if !transitionAllowed(order.Status, cmd.Status) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, cmd.Status)
	}

	now := s.clock()
	update := repositories.TransitionUpdate{
		Status: cmd.Status,
		Entry: TimelineEntry{
			Status:    cmd.Status,
			Timestamp: now,
			Note:      strings.TrimSpace(cmd.Note),
			UpdatedBy: strings.TrimSpace(cmd.ActorID),
		},
		UpdatedAt: now,
	}

	restoring := cmd.Status == domain.OrderStatusCancelled && order.StockRestoredAt == nil
	if cmd.Status == domain.OrderStatusCancelled {
		reason := strings.TrimSpace(cmd.Reason)
		if reason == "" {
			reason = strings.TrimSpace(cmd.Note)
		}
		if reason != "" {
			update.Cancellation = &reason
		}
		if restoring {
			update.StockRestored = &now
		}
	}

	updated, err := s.orders.ApplyTransition(ctx, cmd.OrderID, update)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if restoring {
		if _, err := s.inventory.Restore(ctx, stockLines(order.Items)); err != nil {
			s.logger(ctx, "order.inventory_restore_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	s.publishEvent(ctx, OrderEventMessage{
		Event:       orderEventStatusChanged,
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		Status:      string(updated.Status),
		OccurredAt:  now,
		Metadata: map[string]any{
			"previousStatus": string(order.Status),
		},
	})

	return updated, nil
}

// UpdateFulfillment patches fulfillment metadata; the timeline stays untouched.
func (s *orderService) UpdateFulfillment(ctx context.Context, orderID string, update FulfillmentUpdate) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if update.TrackingNumber != nil {
		order.TrackingNumber = trimmedPtr(*update.TrackingNumber)
	}
	if update.ShippingCarrier != nil {
		order.ShippingCarrier = trimmedPtr(*update.ShippingCarrier)
	}
	if update.ShipmentID != nil {
		order.ShipmentID = trimmedPtr(*update.ShipmentID)
	}
	if update.EstimatedDelivery != nil {
		order.EstimatedDelivery = trimmedPtr(*update.EstimatedDelivery)
	}
	if update.AdminNotes != nil {
		order.AdminNotes = trimmedPtr(*update.AdminNotes)
	}
	if update.CancellationReason != nil {
		order.CancellationReason = trimmedPtr(*update.CancellationReason)
	}
	order.UpdatedAt = s.clock()

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// SchedulePickup asks the carrier to collect the order's shipment and folds
// the outcome into the order's fulfillment metadata. Carrier failures come
// back in the result, never as an error.
func (s *orderService) SchedulePickup(ctx context.Context, orderID string, actorID string) (domain.PickupScheduleResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.PickupScheduleResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if s.scheduler == nil {
		return domain.PickupScheduleResult{Error: "pickup scheduling not configured"}, nil
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.PickupScheduleResult{}, s.mapRepositoryError(err)
	}

	shipmentID := ""
	if order.ShipmentID != nil {
		shipmentID = *order.ShipmentID
	}

	pickup := s.scheduler.SchedulePickup(ctx, shipmentID)
	result := domain.PickupScheduleResult{
		Success:             pickup.Success,
		PickupScheduledDate: pickup.PickupScheduledDate,
		PickupToken:         pickup.PickupToken,
		Error:               pickup.Error,
	}
	if !pickup.Success {
		return result, nil
	}

	order.PickupToken = trimmedPtr(pickup.PickupToken)
	order.PickupScheduledFor = trimmedPtr(pickup.PickupScheduledDate)
	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, order); err != nil {
		s.logger(ctx, "order.pickup_persist_failed", map[string]any{
			"orderId": order.ID,
			"actorId": actorID,
			"error":   err.Error(),
		})
	}
	return result, nil
}

// ForceDelete removes the order without restoring stock. This is the
// deliberate destructive variant; CancelThenDelete is the conservative one.
func (s *orderService) ForceDelete(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	if err := s.orders.Delete(ctx, orderID); err != nil {
		return s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEventMessage{
		Event:       orderEventDeleted,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		OccurredAt:  s.clock(),
	})
	return nil
}

// CancelThenDelete cancels the order first, restoring stock through the
// regular cancellation path, and then removes the document.
func (s *orderService) CancelThenDelete(ctx context.Context, orderID string, reason string, actorID string) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if order.Status != domain.OrderStatusCancelled {
		if _, err := s.TransitionStatus(ctx, TransitionCommand{
			OrderID: orderID,
			Status:  domain.OrderStatusCancelled,
			Note:    "cancelled before deletion",
			Reason:  reason,
			ActorID: actorID,
		}); err != nil {
			return err
		}
	}

	return s.ForceDelete(ctx, orderID)
}

func (s *orderService) snapshotItems(ctx context.Context, inputs []OrderItemInput) ([]OrderItem, int64, error) {
	items, subtotal, err := snapshotOrderItems(ctx, s.products, inputs)
	if err != nil {
		return nil, 0, s.mapRepositoryError(err)
	}
	return items, subtotal, nil
}

// snapshotOrderItems resolves requested lines against the published catalog,
// snapshotting names and unit prices. Client-supplied prices never survive.
func snapshotOrderItems(ctx context.Context, catalog repositories.ProductRepository, inputs []OrderItemInput) ([]OrderItem, int64, error) {
	if len(inputs) == 0 {
		return nil, 0, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	ids := make([]string, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input.ProductID) == "" {
			return nil, 0, fmt.Errorf("%w: item product id is required", ErrOrderInvalidInput)
		}
		if input.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: item quantity must be positive", ErrOrderInvalidInput)
		}
		ids = append(ids, strings.TrimSpace(input.ProductID))
	}

	products, err := catalog.FindPublishedByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]OrderItem, 0, len(inputs))
	var subtotal int64
	for _, input := range inputs {
		product, ok := products[strings.TrimSpace(input.ProductID)]
		if !ok {
			return nil, 0, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, input.ProductID)
		}
		items = append(items, OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  input.Quantity,
			UnitPrice: product.Price,
			ImageURL:  product.ImageURL,
		})
		subtotal += product.Price * int64(input.Quantity)
	}
	return items, subtotal, nil
}

// sanitizeCustomer normalises customer input before validating it. Phone and
// pincode are reduced to digits and capped, so formatted values like
// "+91 98765 43210" survive as "919876543210" rather than being rejected.
func (s *orderService) sanitizeCustomer(customer Customer) (Customer, error) {
	clean := Customer{
		Name:    s.sanitizeText(customer.Name),
		Email:   strings.ToLower(strings.TrimSpace(customer.Email)),
		Phone:   digitsOnly(customer.Phone, maxPhoneDigits),
		Address: s.sanitizeText(customer.Address),
		City:    s.sanitizeText(customer.City),
		State:   s.sanitizeText(customer.State),
		Pincode: digitsOnly(customer.Pincode, pincodeDigitsLen),
	}

	if clean.Name == "" {
		return Customer{}, fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	if _, err := mail.ParseAddress(clean.Email); err != nil {
		return Customer{}, fmt.Errorf("%w: customer email is invalid", ErrOrderInvalidInput)
	}
	if len(clean.Phone) < minPhoneDigits {
		return Customer{}, fmt.Errorf("%w: customer phone must contain at least %d digits", ErrOrderInvalidInput, minPhoneDigits)
	}
	if clean.Address == "" || clean.City == "" || clean.State == "" {
		return Customer{}, fmt.Errorf("%w: customer address, city and state are required", ErrOrderInvalidInput)
	}
	if len(clean.Pincode) != pincodeDigitsLen {
		return Customer{}, fmt.Errorf("%w: customer pincode must be a 6-digit code", ErrOrderInvalidInput)
	}
	return clean, nil
}

// digitsOnly strips everything but ASCII digits and caps the result at max.
func digitsOnly(value string, max int) string {
	var b strings.Builder
	for _, r := range value {
		if r < '0' || r > '9' {
			continue
		}
		b.WriteRune(r)
		if b.Len() == max {
			break
		}
	}
	return b.String()
}

// sanitizeText strips markup from free-text fields before persistence.
func (s *orderService) sanitizeText(value string) string {
	value = s.sanitizer.Sanitize(value)
	value = strings.ReplaceAll(value, "<", "")
	value = strings.ReplaceAll(value, ">", "")
	return strings.TrimSpace(value)
}

func (s *orderService) generateOrderNumber(now time.Time) string {
	suffix := make([]byte, orderNumberSuffixLen)
	random := make([]byte, orderNumberSuffixLen)
	if _, err := rand.Read(random); err != nil {
		// ULID entropy as a stand-in keeps numbers unique if crypto/rand fails.
		fallback := strings.ToUpper(s.newID())
		copy(random, []byte(fallback[len(fallback)-orderNumberSuffixLen:]))
	}
	for i, b := range random {
		suffix[i] = orderNumberRandAlphabet[int(b)%len(orderNumberRandAlphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", s.orderCfg.NumberPrefix, now.Format("20060102"), string(suffix))
}

func (s *orderService) publishEvent(ctx context.Context, message OrderEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, message); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"event":   message.Event,
			"orderId": message.OrderID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

// transitionAllowed permits any move between distinct statuses except out of
// Cancelled, which is terminal. Operators fix misrecorded fulfillment states,
// so the lifecycle is deliberately not a forward-only ladder.
func transitionAllowed(from, to domain.OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	return from != to
}

func stockLines(items []OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func trimmedPtr(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
