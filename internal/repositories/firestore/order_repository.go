package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/craftkart/api/internal/domain"
	pfirestore "github.com/craftkart/api/internal/platform/firestore"
	"github.com/craftkart/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists orders in Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert stores a new order document, failing when the ID is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	_, err := r.base.Create(ctx, order.ID, fromDomainOrder(order))
	return err
}

// Update replaces the full order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	_, err := r.base.Set(ctx, order.ID, fromDomainOrder(order))
	return err
}

// Delete removes the order document permanently.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	return r.base.Delete(ctx, orderID)
}

// FindByID loads the order by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// FindByNumber loads the order carrying the given human-facing order number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.ToUpper(strings.TrimSpace(orderNumber))
	if orderNumber == "" {
		return domain.Order{}, errors.New("order number is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", orderNumber).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.findByNumber", errors.New("order not found"))
	}
	return toDomainOrder(docs[0].ID, docs[0].Data), nil
}

// FindForCustomer loads the order only when the stored contact details match.
// Guests look up their orders this way without authentication.
func (r *OrderRepository) FindForCustomer(ctx context.Context, orderID string, email string, phone string) (domain.Order, error) {
	order, err := r.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	phone = strings.TrimSpace(phone)

	matched := (email != "" && strings.EqualFold(order.Customer.Email, email)) ||
		(phone != "" && order.Customer.Phone == phone)
	if !matched {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.findForCustomer", errors.New("order not found for customer"))
	}
	return order, nil
}

// ListByStatus returns orders in the given status, newest first.
func (r *OrderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(status)).
			OrderBy("createdAt", firestore.Desc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	return toDomainOrders(docs), nil
}

// ListForUser returns orders owned by the given account, newest first.
func (r *OrderRepository) ListForUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).
			OrderBy("createdAt", firestore.Desc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	return toDomainOrders(docs), nil
}

// ListRecent returns orders matching the filter, newest first.
func (r *OrderRepository) ListRecent(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(filter.Status) == 1 {
			q = q.Where("status", "==", string(filter.Status[0]))
		} else if len(filter.Status) > 1 {
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.CreatedAfter != nil {
			q = q.Where("createdAt", ">=", filter.CreatedAfter.UTC())
		}
		return q.OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	return toDomainOrders(docs), nil
}

// ApplyTransition updates the order status and appends the timeline entry in a
// single mutation, so a concurrent transition cannot drop history entries.
func (r *OrderRepository) ApplyTransition(ctx context.Context, orderID string, update repositories.TransitionUpdate) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}

	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(update.Status)},
		{Path: "timeline", Value: firestore.ArrayUnion(fromDomainTimelineEntry(update.Entry))},
		{Path: "updatedAt", Value: updatedAt},
	}
	if update.PaymentStatus != nil {
		updates = append(updates, firestore.Update{Path: "payment.status", Value: string(*update.PaymentStatus)})
	}
	if update.TransactionID != nil {
		updates = append(updates, firestore.Update{Path: "payment.transactionId", Value: strings.TrimSpace(*update.TransactionID)})
	}
	if update.PaidAt != nil {
		updates = append(updates, firestore.Update{Path: "payment.paidAt", Value: update.PaidAt.UTC()})
	}
	if update.StockRestored != nil {
		updates = append(updates, firestore.Update{Path: "stockRestoredAt", Value: update.StockRestored.UTC()})
	}
	if update.Cancellation != nil {
		updates = append(updates, firestore.Update{Path: "cancellationReason", Value: strings.TrimSpace(*update.Cancellation)})
	}
	if update.TrackingNumber != nil {
		updates = append(updates, firestore.Update{Path: "trackingNumber", Value: strings.TrimSpace(*update.TrackingNumber)})
	}
	if update.Carrier != nil {
		updates = append(updates, firestore.Update{Path: "shippingCarrier", Value: strings.TrimSpace(*update.Carrier)})
	}

	if _, err := r.base.Update(ctx, orderID, updates, firestore.Exists); err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, orderID)
}

func toDomainOrders(docs []pfirestore.Document[orderDocument]) []domain.Order {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, toDomainOrder(doc.ID, doc.Data))
	}
	return orders
}

type orderDocument struct {
	OrderNumber string              `firestore:"orderNumber"`
	UserID      string              `firestore:"userId"`
	Items       []orderItemDocument `firestore:"items"`
	Customer    customerDocument    `firestore:"customer"`
	Subtotal    int64               `firestore:"subtotal"`
	Discount    int64               `firestore:"discount"`
	ShippingFee int64               `firestore:"shippingFee"`
	Total       int64               `firestore:"total"`
	CouponCode  *string             `firestore:"couponCode,omitempty"`
	Status      string              `firestore:"status"`
	Payment     paymentInfoDocument `firestore:"payment"`
	Timeline    []timelineDocument  `firestore:"timeline"`

	TrackingNumber     *string    `firestore:"trackingNumber,omitempty"`
	ShippingCarrier    *string    `firestore:"shippingCarrier,omitempty"`
	ShipmentID         *string    `firestore:"shipmentId,omitempty"`
	EstimatedDelivery  *string    `firestore:"estimatedDelivery,omitempty"`
	CancellationReason *string    `firestore:"cancellationReason,omitempty"`
	AdminNotes         *string    `firestore:"adminNotes,omitempty"`
	PickupToken        *string    `firestore:"pickupToken,omitempty"`
	PickupScheduledFor *string    `firestore:"pickupScheduledFor,omitempty"`
	StockRestoredAt    *time.Time `firestore:"stockRestoredAt,omitempty"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	ImageURL  string `firestore:"imageUrl,omitempty"`
}

type customerDocument struct {
	Name    string `firestore:"name"`
	Email   string `firestore:"email"`
	Phone   string `firestore:"phone"`
	Address string `firestore:"address"`
	City    string `firestore:"city"`
	State   string `firestore:"state"`
	Pincode string `firestore:"pincode"`
}

type paymentInfoDocument struct {
	Method         string     `firestore:"method"`
	Status         string     `firestore:"status"`
	GatewayOrderID string     `firestore:"gatewayOrderId,omitempty"`
	TransactionID  *string    `firestore:"transactionId,omitempty"`
	PaidAt         *time.Time `firestore:"paidAt,omitempty"`
}

type timelineDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	Note      string    `firestore:"note,omitempty"`
	UpdatedBy string    `firestore:"updatedBy,omitempty"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: strings.ToUpper(strings.TrimSpace(order.OrderNumber)),
		UserID:      order.UserID,
		Items:       fromDomainItems(order.Items),
		Customer: customerDocument{
			Name:    order.Customer.Name,
			Email:   strings.ToLower(strings.TrimSpace(order.Customer.Email)),
			Phone:   strings.TrimSpace(order.Customer.Phone),
			Address: order.Customer.Address,
			City:    order.Customer.City,
			State:   order.Customer.State,
			Pincode: strings.TrimSpace(order.Customer.Pincode),
		},
		Subtotal:    order.Subtotal,
		Discount:    order.Discount,
		ShippingFee: order.ShippingFee,
		Total:       order.Total,
		CouponCode:  order.CouponCode,
		Status:      string(order.Status),
		Payment: paymentInfoDocument{
			Method:         string(order.Payment.Method),
			Status:         string(order.Payment.Status),
			GatewayOrderID: order.Payment.GatewayOrderID,
			TransactionID:  order.Payment.TransactionID,
			PaidAt:         order.Payment.PaidAt,
		},
		Timeline:           fromDomainTimeline(order.Timeline),
		TrackingNumber:     order.TrackingNumber,
		ShippingCarrier:    order.ShippingCarrier,
		ShipmentID:         order.ShipmentID,
		EstimatedDelivery:  order.EstimatedDelivery,
		CancellationReason: order.CancellationReason,
		AdminNotes:         order.AdminNotes,
		PickupToken:        order.PickupToken,
		PickupScheduledFor: order.PickupScheduledFor,
		StockRestoredAt:    order.StockRestoredAt,
		CreatedAt:          order.CreatedAt,
		UpdatedAt:          order.UpdatedAt,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	return doc
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserID,
		Items:       toDomainItems(doc.Items),
		Customer: domain.Customer{
			Name:    doc.Customer.Name,
			Email:   doc.Customer.Email,
			Phone:   doc.Customer.Phone,
			Address: doc.Customer.Address,
			City:    doc.Customer.City,
			State:   doc.Customer.State,
			Pincode: doc.Customer.Pincode,
		},
		Subtotal:    doc.Subtotal,
		Discount:    doc.Discount,
		ShippingFee: doc.ShippingFee,
		Total:       doc.Total,
		CouponCode:  doc.CouponCode,
		Status:      domain.OrderStatus(doc.Status),
		Payment: domain.PaymentInfo{
			Method:         domain.PaymentMethod(doc.Payment.Method),
			Status:         domain.PaymentStatus(doc.Payment.Status),
			GatewayOrderID: doc.Payment.GatewayOrderID,
			TransactionID:  doc.Payment.TransactionID,
			PaidAt:         doc.Payment.PaidAt,
		},
		Timeline:           toDomainTimeline(doc.Timeline),
		TrackingNumber:     doc.TrackingNumber,
		ShippingCarrier:    doc.ShippingCarrier,
		ShipmentID:         doc.ShipmentID,
		EstimatedDelivery:  doc.EstimatedDelivery,
		CancellationReason: doc.CancellationReason,
		AdminNotes:         doc.AdminNotes,
		PickupToken:        doc.PickupToken,
		PickupScheduledFor: doc.PickupScheduledFor,
		StockRestoredAt:    doc.StockRestoredAt,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
	}
}

func fromDomainItems(items []domain.OrderItem) []orderItemDocument {
	if len(items) == 0 {
		return nil
	}
	docs := make([]orderItemDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			ImageURL:  item.ImageURL,
		})
	}
	return docs
}

func toDomainItems(docs []orderItemDocument) []domain.OrderItem {
	if len(docs) == 0 {
		return nil
	}
	items := make([]domain.OrderItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.OrderItem{
			ProductID: doc.ProductID,
			Name:      doc.Name,
			Quantity:  doc.Quantity,
			UnitPrice: doc.UnitPrice,
			ImageURL:  doc.ImageURL,
		})
	}
	return items
}

func fromDomainTimeline(entries []domain.TimelineEntry) []timelineDocument {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]timelineDocument, 0, len(entries))
	for _, entry := range entries {
		docs = append(docs, fromDomainTimelineEntry(entry))
	}
	return docs
}

func fromDomainTimelineEntry(entry domain.TimelineEntry) timelineDocument {
	return timelineDocument{
		Status:    string(entry.Status),
		Timestamp: entry.Timestamp,
		Note:      entry.Note,
		UpdatedBy: entry.UpdatedBy,
	}
}

func toDomainTimeline(docs []timelineDocument) []domain.TimelineEntry {
	if len(docs) == 0 {
		return nil
	}
	entries := make([]domain.TimelineEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, domain.TimelineEntry{
			Status:    domain.OrderStatus(doc.Status),
			Timestamp: doc.Timestamp,
			Note:      doc.Note,
			UpdatedBy: doc.UpdatedBy,
		})
	}
	return entries
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
