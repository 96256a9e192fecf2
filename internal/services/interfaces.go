package services

import (
	"context"
	"time"

	domain "github.com/craftkart/api/internal/domain"
	"github.com/craftkart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order         = domain.Order
	OrderItem     = domain.OrderItem
	OrderStatus   = domain.OrderStatus
	Customer      = domain.Customer
	TimelineEntry = domain.TimelineEntry
	PaymentInfo   = domain.PaymentInfo
	PaymentMethod = domain.PaymentMethod
	StockLine     = domain.StockLine
	CouponResult  = domain.CouponResult
	GatewayOrder  = domain.GatewayOrder
	PaymentRecord = domain.PaymentRecord
)

// OrderEventMessage is the payload published for order lifecycle events.
type OrderEventMessage struct {
	Event       string         `json:"event"`
	OrderID     string         `json:"orderId"`
	OrderNumber string         `json:"orderNumber"`
	Status      string         `json:"status"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ReconciliationMessage is published when a payment verification could not
// complete online and needs out-of-band follow-up.
type ReconciliationMessage struct {
	OrderID        string    `json:"orderId"`
	GatewayOrderID string    `json:"gatewayOrderId"`
	PaymentID      string    `json:"paymentId"`
	Reason         string    `json:"reason"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// EventPublisher publishes domain events for downstream consumers.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
	PublishReconciliationEvent(ctx context.Context, message ReconciliationMessage) (string, error)
}

// CouponService validates coupon codes against the active promotion.
type CouponService interface {
	Validate(ctx context.Context, code string, subtotal int64) (CouponResult, error)
}

// InventoryService owns best-effort stock movements for order lines.
type InventoryService interface {
	Decrement(ctx context.Context, lines []StockLine) (repositories.StockMovementResult, error)
	Restore(ctx context.Context, lines []StockLine) (repositories.StockMovementResult, error)
}

// CreateOrderCommand captures everything needed to place an order.
type CreateOrderCommand struct {
	Items         []OrderItemInput
	Customer      Customer
	CouponCode    string
	PaymentMethod PaymentMethod
}

// OrderItemInput is a requested order line. Only the product reference and
// quantity are trusted; names and prices are snapshotted from the catalog.
type OrderItemInput struct {
	ProductID string
	Quantity  int
}

// TransitionCommand changes the lifecycle status of an order.
type TransitionCommand struct {
	OrderID string
	Status  OrderStatus
	Note    string
	ActorID string
	// Reason is recorded as the cancellation reason when transitioning to Cancelled.
	Reason string
}

// FulfillmentUpdate patches fulfillment metadata without touching the timeline.
type FulfillmentUpdate struct {
	TrackingNumber     *string
	ShippingCarrier    *string
	ShipmentID         *string
	EstimatedDelivery  *string
	AdminNotes         *string
	CancellationReason *string
}

// OrderLookupQuery identifies an order through customer contact details.
type OrderLookupQuery struct {
	OrderID string
	Email   string
	Phone   string
}

// OrderService coordinates order creation, lifecycle transitions, and queries.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error)
	LookupOrder(ctx context.Context, query OrderLookupQuery) (Order, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]Order, error)
	ListByStatus(ctx context.Context, status OrderStatus, limit int) ([]Order, error)
	ListRecent(ctx context.Context, filter repositories.OrderListFilter) ([]Order, error)
	TransitionStatus(ctx context.Context, cmd TransitionCommand) (Order, error)
	UpdateFulfillment(ctx context.Context, orderID string, update FulfillmentUpdate) (Order, error)
	SchedulePickup(ctx context.Context, orderID string, actorID string) (domain.PickupScheduleResult, error)
	ForceDelete(ctx context.Context, orderID string) error
	CancelThenDelete(ctx context.Context, orderID string, reason string, actorID string) error
}

// GatewayOrderCommand opens a gateway order for an existing order's total.
// The amount comes from the stored order, never from the client.
type GatewayOrderCommand struct {
	OrderID        string
	RecaptchaToken string
	RemoteIP       string
}

// VerifyPaymentCommand carries the gateway handshake returned by the client.
type VerifyPaymentCommand struct {
	OrderID        string
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// VerificationOutcome enumerates the terminal states of a payment verification.
type VerificationOutcome string

const (
	// VerificationSucceeded means the signature checked out and the order was finalized.
	VerificationSucceeded VerificationOutcome = "succeeded"
	// VerificationFailed means the signature did not match; the order stays unpaid.
	VerificationFailed VerificationOutcome = "failed"
	// VerificationPending means the payment looked genuine but finalization
	// could not complete; reconciliation follows out of band.
	VerificationPending VerificationOutcome = "pending"
)

// VerificationResult reports the verification outcome and the order state.
type VerificationResult struct {
	Outcome VerificationOutcome
	Order   Order
	Message string
}

// PaymentService coordinates the gateway order and verification handshake.
type PaymentService interface {
	CreateGatewayOrder(ctx context.Context, cmd GatewayOrderCommand) (GatewayOrder, error)
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (VerificationResult, error)
}

// ExportRequest filters the orders included in a CSV export.
type ExportRequest struct {
	Status       []OrderStatus
	CreatedAfter *time.Time
	Limit        int
	// Upload stores the CSV in the exports bucket and returns a signed URL.
	Upload bool
}

// ExportResult carries the CSV payload and, when uploaded, the download link.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
	RowCount    int
	ObjectName  string
	DownloadURL string
	URLExpires  time.Time
}

// ExportService renders admin order exports.
type ExportService interface {
	ExportOrders(ctx context.Context, req ExportRequest) (ExportResult, error)
}
