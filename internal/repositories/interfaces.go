package repositories

import (
	"context"
	"time"

	domain "github.com/craftkart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	PaymentRecords() PaymentRecordRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists order documents and provides query helpers for
// customers and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	// FindForCustomer loads an order only when the stored customer contact
	// matches; used for guest self-service lookups.
	FindForCustomer(ctx context.Context, orderID string, email string, phone string) (domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	ListRecent(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	// ApplyTransition atomically appends a timeline entry while updating the
	// order status and any accompanying fields.
	ApplyTransition(ctx context.Context, orderID string, update TransitionUpdate) (domain.Order, error)
}

// TransitionUpdate carries the status change and optional side fields written
// alongside a timeline append.
type TransitionUpdate struct {
	Status         domain.OrderStatus
	Entry          domain.TimelineEntry
	PaymentStatus  *domain.PaymentStatus
	TransactionID  *string
	PaidAt         *time.Time
	StockRestored  *time.Time
	Cancellation   *string
	TrackingNumber *string
	Carrier        *string
	UpdatedAt      time.Time
}

// OrderListFilter controls admin order listings.
type OrderListFilter struct {
	Status       []domain.OrderStatus
	CreatedAfter *time.Time
	Limit        int
}

// ProductRepository reads catalog products and owns stock movements.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindPublishedByIDs loads published products keyed by ID; absent or
	// unpublished products are omitted from the result.
	FindPublishedByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// DecrementStock subtracts the requested quantities in a single
	// transaction, clamping each product at zero. Missing products are
	// skipped and reported in the result.
	DecrementStock(ctx context.Context, lines []domain.StockLine) (StockMovementResult, error)
	// RestoreStock adds the quantities back atomically. Missing products are
	// skipped and reported in the result.
	RestoreStock(ctx context.Context, lines []domain.StockLine) (StockMovementResult, error)
}

// StockMovementResult reports which products were adjusted and which were absent.
type StockMovementResult struct {
	Adjusted []string
	Missing  []string
}

// PaymentRecordRepository stores gateway payment records keyed by payment ID.
// Create fails with a conflict error when the payment was already recorded,
// which is how verification replays are detected.
type PaymentRecordRepository interface {
	Create(ctx context.Context, record domain.PaymentRecord) error
	MarkFinalized(ctx context.Context, paymentID string, finalizedAt time.Time) error
	FindByPaymentID(ctx context.Context, paymentID string) (domain.PaymentRecord, error)
}
