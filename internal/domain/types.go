package domain

import (
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has been placed and awaits confirmation.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusConfirmed indicates an operator has confirmed the order.
	OrderStatusConfirmed OrderStatus = "Confirmed"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "Shipped"
	// OrderStatusDelivered indicates the carrier reports successful delivery.
	OrderStatusDelivered OrderStatus = "Delivered"
	// OrderStatusCancelled indicates the order was cancelled. Terminal.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
// Cancelled is the only terminal status; even Delivered orders can still be
// cancelled or corrected by an operator.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled
}

// PaymentMethod enumerates the payment instruments accepted at checkout.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodOnline is a card/netbanking payment through the gateway.
	PaymentMethodOnline PaymentMethod = "online"
	// PaymentMethodUPI is a UPI payment through the gateway.
	PaymentMethodUPI PaymentMethod = "upi"
)

// PaymentStatus enumerates settlement states tracked on an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates payment has not been collected yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted indicates the gateway confirmed settlement.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed indicates the gateway reported a failure.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates the payment has been refunded.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// GuestUserID marks orders placed without an authenticated account.
const GuestUserID = "guest"

// OrderItem snapshots a purchased product line at order time. Prices are never
// re-resolved from the catalog after creation.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
	ImageURL  string
}

// Customer stores sanitized contact and shipping details captured at checkout.
type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address string
	City    string
	State   string
	Pincode string
}

// TimelineEntry is one element of the append-only status audit log.
type TimelineEntry struct {
	Status    OrderStatus
	Timestamp time.Time
	Note      string
	UpdatedBy string
}

// PaymentInfo captures the payment instrument and settlement state for an order.
type PaymentInfo struct {
	Method PaymentMethod
	Status PaymentStatus
	// GatewayOrderID binds the order to the gateway order opened for it;
	// verification rejects signatures minted for any other gateway order.
	GatewayOrderID string
	TransactionID  *string
	PaidAt         *time.Time
}

// Order is the aggregate root of the fulfillment domain.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	Items       []OrderItem
	Customer    Customer
	Subtotal    int64
	ShippingFee int64
	Discount    int64
	Total       int64
	CouponCode  *string
	Status      OrderStatus
	Timeline    []TimelineEntry
	Payment     PaymentInfo

	TrackingNumber  *string
	ShippingCarrier *string
	ShipmentID      *string
	// EstimatedDelivery is a carrier-provided date in YYYY-MM-DD form.
	EstimatedDelivery  *string
	CancellationReason *string
	AdminNotes         *string
	PickupToken        *string
	PickupScheduledFor *string

	// StockRestoredAt is set exactly once, when cancellation returned the
	// order's quantities to inventory.
	StockRestoredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Product is the inventory-facing view of a catalog item.
type Product struct {
	ID        string
	Name      string
	Price     int64
	ImageURL  string
	Stock     int64
	Published bool
	UpdatedAt time.Time
}

// StockLine pairs a product with a quantity for decrement/restore operations.
type StockLine struct {
	ProductID string
	Quantity  int
}

// CouponResult is the outcome of validating a coupon code against a subtotal.
// Never persisted; derived per call.
type CouponResult struct {
	Valid    bool
	Discount int64
	Message  string
}

// GatewayOrder is the payment-provider-side transaction record created before
// the payment UI is presented.
type GatewayOrder struct {
	GatewayOrderID string
	Amount         int64
	Currency       string
	PublicKey      string
}

// PaymentRecord is the durable idempotency record written once a payment has
// been cryptographically verified, before the order itself is finalized.
type PaymentRecord struct {
	PaymentID      string
	GatewayOrderID string
	OrderID        string
	Amount         int64
	Status         PaymentStatus
	VerifiedAt     time.Time
	FinalizedAt    *time.Time
}

// PickupScheduleResult reports the outcome of a carrier pickup request. All
// failure modes are folded into the result; the type is never accompanied by
// an error.
type PickupScheduleResult struct {
	Success             bool
	PickupScheduledDate string
	PickupToken         string
	Error               string
}
