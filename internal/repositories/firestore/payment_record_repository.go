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

const paymentRecordCollection = "paymentRecords"

// PaymentRecordRepository stores verified gateway payments keyed by the
// gateway payment ID. Create-if-absent semantics make replayed verification
// requests surface as conflicts.
type PaymentRecordRepository struct {
	base *pfirestore.BaseRepository[paymentRecordDocument]
}

// NewPaymentRecordRepository constructs a Firestore-backed payment record repository.
func NewPaymentRecordRepository(provider *pfirestore.Provider) (*PaymentRecordRepository, error) {
	if provider == nil {
		return nil, errors.New("payment record repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[paymentRecordDocument](provider, paymentRecordCollection, nil)
	return &PaymentRecordRepository{base: base}, nil
}

// Create inserts the payment record, failing with a conflict error when a
// record with the same payment ID already exists.
func (r *PaymentRecordRepository) Create(ctx context.Context, record domain.PaymentRecord) error {
	if r == nil || r.base == nil {
		return errors.New("payment record repository not initialised")
	}
	if strings.TrimSpace(record.PaymentID) == "" {
		return errors.New("payment id is required")
	}

	_, err := r.base.Create(ctx, record.PaymentID, fromDomainPaymentRecord(record))
	return err
}

// MarkFinalized stamps the time the owning order was confirmed.
func (r *PaymentRecordRepository) MarkFinalized(ctx context.Context, paymentID string, finalizedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("payment record repository not initialised")
	}
	if strings.TrimSpace(paymentID) == "" {
		return errors.New("payment id is required")
	}
	if finalizedAt.IsZero() {
		finalizedAt = time.Now().UTC()
	}

	_, err := r.base.Update(ctx, paymentID, []firestore.Update{
		{Path: "finalizedAt", Value: finalizedAt.UTC()},
	}, firestore.Exists)
	return err
}

// FindByPaymentID loads a previously recorded payment.
func (r *PaymentRecordRepository) FindByPaymentID(ctx context.Context, paymentID string) (domain.PaymentRecord, error) {
	if r == nil || r.base == nil {
		return domain.PaymentRecord{}, errors.New("payment record repository not initialised")
	}
	if strings.TrimSpace(paymentID) == "" {
		return domain.PaymentRecord{}, errors.New("payment id is required")
	}

	doc, err := r.base.Get(ctx, paymentID)
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	return toDomainPaymentRecord(doc.ID, doc.Data), nil
}

type paymentRecordDocument struct {
	GatewayOrderID string     `firestore:"gatewayOrderId"`
	OrderID        string     `firestore:"orderId"`
	Amount         int64      `firestore:"amount"`
	Status         string     `firestore:"status"`
	VerifiedAt     time.Time  `firestore:"verifiedAt"`
	FinalizedAt    *time.Time `firestore:"finalizedAt,omitempty"`
}

func fromDomainPaymentRecord(record domain.PaymentRecord) paymentRecordDocument {
	doc := paymentRecordDocument{
		GatewayOrderID: strings.TrimSpace(record.GatewayOrderID),
		OrderID:        strings.TrimSpace(record.OrderID),
		Amount:         record.Amount,
		Status:         string(record.Status),
		VerifiedAt:     record.VerifiedAt,
		FinalizedAt:    record.FinalizedAt,
	}
	if doc.VerifiedAt.IsZero() {
		doc.VerifiedAt = time.Now().UTC()
	}
	return doc
}

func toDomainPaymentRecord(id string, doc paymentRecordDocument) domain.PaymentRecord {
	return domain.PaymentRecord{
		PaymentID:      id,
		GatewayOrderID: doc.GatewayOrderID,
		OrderID:        doc.OrderID,
		Amount:         doc.Amount,
		Status:         domain.PaymentStatus(doc.Status),
		VerifiedAt:     doc.VerifiedAt,
		FinalizedAt:    doc.FinalizedAt,
	}
}

var _ repositories.PaymentRecordRepository = (*PaymentRecordRepository)(nil)
