package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/craftkart/api/internal/platform/firestore"
	"github.com/craftkart/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry interface.
type Registry struct {
	provider *pfirestore.Provider

	orders         *OrderRepository
	products       *ProductRepository
	paymentRecords *PaymentRecordRepository
}

// NewRegistry wires all repositories against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build product repository: %w", err)
	}
	paymentRecords, err := NewPaymentRecordRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build payment record repository: %w", err)
	}

	return &Registry{
		provider:       provider,
		orders:         orders,
		products:       products,
		paymentRecords: paymentRecords,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Products returns the product repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// PaymentRecords returns the payment record repository.
func (r *Registry) PaymentRecords() repositories.PaymentRecordRepository { return r.paymentRecords }

var _ repositories.Registry = (*Registry)(nil)
