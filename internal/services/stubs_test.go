package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/craftkart/api/internal/domain"
	"github.com/craftkart/api/internal/repositories"
)

func strPtr(v string) *string {
	return &v
}

type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repositoryErrorStub) Error() string       { return "repository error stub" }
func (e repositoryErrorStub) IsNotFound() bool    { return e.notFound }
func (e repositoryErrorStub) IsConflict() bool    { return e.conflict }
func (e repositoryErrorStub) IsUnavailable() bool { return e.unavailable }

type stubOrderRepository struct {
	insertFunc          func(ctx context.Context, order domain.Order) error
	updateFunc          func(ctx context.Context, order domain.Order) error
	deleteFunc          func(ctx context.Context, orderID string) error
	findByIDFunc        func(ctx context.Context, orderID string) (domain.Order, error)
	findByNumberFunc    func(ctx context.Context, orderNumber string) (domain.Order, error)
	findForCustomerFunc func(ctx context.Context, orderID, email, phone string) (domain.Order, error)
	listByStatusFunc    func(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error)
	listForUserFunc     func(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	listRecentFunc      func(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error)
	applyTransitionFunc func(ctx context.Context, orderID string, update repositories.TransitionUpdate) (domain.Order, error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFunc != nil {
		return s.insertFunc(ctx, order)
	}
	return nil
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, order)
	}
	return nil
}

func (s *stubOrderRepository) Delete(ctx context.Context, orderID string) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, orderID)
	}
	return nil
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFunc != nil {
		return s.findByIDFunc(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if s.findByNumberFunc != nil {
		return s.findByNumberFunc(ctx, orderNumber)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepository) FindForCustomer(ctx context.Context, orderID, email, phone string) (domain.Order, error) {
	if s.findForCustomerFunc != nil {
		return s.findForCustomerFunc(ctx, orderID, email, phone)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if s.listByStatusFunc != nil {
		return s.listByStatusFunc(ctx, status, limit)
	}
	return nil, errors.New("not implemented")
}

func (s *stubOrderRepository) ListForUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if s.listForUserFunc != nil {
		return s.listForUserFunc(ctx, userID, limit)
	}
	return nil, errors.New("not implemented")
}

func (s *stubOrderRepository) ListRecent(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if s.listRecentFunc != nil {
		return s.listRecentFunc(ctx, filter)
	}
	return nil, errors.New("not implemented")
}

func (s *stubOrderRepository) ApplyTransition(ctx context.Context, orderID string, update repositories.TransitionUpdate) (domain.Order, error) {
	if s.applyTransitionFunc != nil {
		return s.applyTransitionFunc(ctx, orderID, update)
	}
	return domain.Order{}, errors.New("not implemented")
}

type stubProductRepository struct {
	findByIDFunc     func(ctx context.Context, productID string) (domain.Product, error)
	findPublishedFn  func(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	decrementStockFn func(ctx context.Context, lines []domain.StockLine) (repositories.StockMovementResult, error)
	restoreStockFn   func(ctx context.Context, lines []domain.StockLine) (repositories.StockMovementResult, error)
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findByIDFunc != nil {
		return s.findByIDFunc(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepository) FindPublishedByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.findPublishedFn != nil {
		return s.findPublishedFn(ctx, productIDs)
	}
	return nil, errors.New("not implemented")
}

func (s *stubProductRepository) DecrementStock(ctx context.Context, lines []domain.StockLine) (repositories.StockMovementResult, error) {
	if s.decrementStockFn != nil {
		return s.decrementStockFn(ctx, lines)
	}
	return repositories.StockMovementResult{}, nil
}

func (s *stubProductRepository) RestoreStock(ctx context.Context, lines []domain.StockLine) (repositories.StockMovementResult, error) {
	if s.restoreStockFn != nil {
		return s.restoreStockFn(ctx, lines)
	}
	return repositories.StockMovementResult{}, nil
}

type stubPaymentRecordRepository struct {
	createFunc        func(ctx context.Context, record domain.PaymentRecord) error
	markFinalizedFunc func(ctx context.Context, paymentID string, finalizedAt time.Time) error
	findFunc          func(ctx context.Context, paymentID string) (domain.PaymentRecord, error)
}

func (s *stubPaymentRecordRepository) Create(ctx context.Context, record domain.PaymentRecord) error {
	if s.createFunc != nil {
		return s.createFunc(ctx, record)
	}
	return nil
}

func (s *stubPaymentRecordRepository) MarkFinalized(ctx context.Context, paymentID string, finalizedAt time.Time) error {
	if s.markFinalizedFunc != nil {
		return s.markFinalizedFunc(ctx, paymentID, finalizedAt)
	}
	return nil
}

func (s *stubPaymentRecordRepository) FindByPaymentID(ctx context.Context, paymentID string) (domain.PaymentRecord, error) {
	if s.findFunc != nil {
		return s.findFunc(ctx, paymentID)
	}
	return domain.PaymentRecord{}, errors.New("not implemented")
}

type stubInventoryService struct {
	decrementFunc func(ctx context.Context, lines []domain.StockLine) (repositories.StockMovementResult, error)
	restoreFunc   func(ctx context.Context, lines []domain.StockLine) (repositories.StockMovementResult, error)
}

func (s *stubInventoryService) Decrement(ctx context.Context, lines []domain.StockLine) (repositories.StockMovementResult, error) {
	if s.decrementFunc != nil {
		return s.decrementFunc(ctx, lines)
	}
	return repositories.StockMovementResult{}, nil
}

func (s *stubInventoryService) Restore(ctx context.Context, lines []domain.StockLine) (repositories.StockMovementResult, error) {
	if s.restoreFunc != nil {
		return s.restoreFunc(ctx, lines)
	}
	return repositories.StockMovementResult{}, nil
}

type stubEventPublisher struct {
	orderFunc          func(ctx context.Context, message OrderEventMessage) (string, error)
	reconciliationFunc func(ctx context.Context, message ReconciliationMessage) (string, error)
}

func (s *stubEventPublisher) PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error) {
	if s.orderFunc != nil {
		return s.orderFunc(ctx, message)
	}
	return "msg-1", nil
}

func (s *stubEventPublisher) PublishReconciliationEvent(ctx context.Context, message ReconciliationMessage) (string, error) {
	if s.reconciliationFunc != nil {
		return s.reconciliationFunc(ctx, message)
	}
	return "msg-1", nil
}
