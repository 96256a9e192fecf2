package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/craftkart/api/internal/domain"
	"github.com/craftkart/api/internal/payments"
	"github.com/craftkart/api/internal/platform/config"
	"github.com/craftkart/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the referenced order could not be located.
	ErrPaymentNotFound = errors.New("payment: order not found")
	// ErrPaymentReplayed indicates the gateway payment was already recorded;
	// a second verification for the same payment id is rejected.
	ErrPaymentReplayed = errors.New("payment: verification already recorded")
	// ErrPaymentGatewayUnavailable indicates the gateway could not be reached.
	ErrPaymentGatewayUnavailable = errors.New("payment: gateway unavailable")
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders         repositories.OrderRepository
	PaymentRecords repositories.PaymentRecordRepository
	Gateway        payments.Gateway
	Verifier       *payments.SignatureVerifier
	Bots           BotVerifier
	GatewayCfg     config.GatewayConfig
	Events         EventPublisher
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders         repositories.OrderRepository
	paymentRecords repositories.PaymentRecordRepository
	gateway        payments.Gateway
	verifier       *payments.SignatureVerifier
	bots           BotVerifier
	gatewayCfg     config.GatewayConfig
	events         EventPublisher
	clock          func() time.Time
	logger         func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.PaymentRecords == nil {
		return nil, errors.New("payment service: payment record repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("payment service: signature verifier is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:         deps.Orders,
		paymentRecords: deps.PaymentRecords,
		gateway:        deps.Gateway,
		verifier:       deps.Verifier,
		bots:           deps.Bots,
		gatewayCfg:     deps.GatewayCfg,
		events:         deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateGatewayOrder opens a gateway order for the stored order's total and
// records the gateway order id on the order. The amount was recomputed from
// the catalog when the order was placed; the client never dictates it, and
// the recorded id is what verification later checks against.
func (s *paymentService) CreateGatewayOrder(ctx context.Context, cmd GatewayOrderCommand) (GatewayOrder, error) {
	if s.bots != nil {
		if err := s.bots.VerifyToken(ctx, cmd.RecaptchaToken, cmd.RemoteIP); err != nil {
			return GatewayOrder{}, err
		}
	}

	if strings.TrimSpace(cmd.OrderID) == "" {
		return GatewayOrder{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return GatewayOrder{}, s.mapRepositoryError(err)
	}
	if order.Payment.Status == domain.PaymentStatusCompleted {
		return GatewayOrder{}, fmt.Errorf("%w: order %s is already paid", ErrPaymentInvalidInput, order.ID)
	}

	gatewayOrder, err := s.gateway.CreateOrder(ctx, payments.OrderRequest{
		Amount:   order.Total,
		Currency: s.gatewayCfg.Currency,
		Receipt:  order.OrderNumber,
		Notes: map[string]string{
			"orderId": order.ID,
		},
	})
	if err != nil {
		if errors.Is(err, payments.ErrGatewayUnavailable) {
			return GatewayOrder{}, fmt.Errorf("%w: %v", ErrPaymentGatewayUnavailable, err)
		}
		return GatewayOrder{}, err
	}

	order.Payment.GatewayOrderID = gatewayOrder.ID
	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, order); err != nil {
		// Without the binding persisted no signature can ever finalize this
		// order, so the client must retry rather than pay an orphan.
		return GatewayOrder{}, s.mapRepositoryError(err)
	}

	return GatewayOrder{
		GatewayOrderID: gatewayOrder.ID,
		Amount:         gatewayOrder.Amount,
		Currency:       gatewayOrder.Currency,
		PublicKey:      s.gatewayCfg.KeyID,
	}, nil
}

// VerifyPayment validates the gateway handshake and finalizes the order. The
// payment record is written before the order is touched so a crash between the
// two leaves a durable trail instead of a silently dropped payment.
func (s *paymentService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (VerificationResult, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return VerificationResult{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if strings.TrimSpace(cmd.GatewayOrderID) == "" || strings.TrimSpace(cmd.PaymentID) == "" || strings.TrimSpace(cmd.Signature) == "" {
		return VerificationResult{}, fmt.Errorf("%w: gateway order id, payment id and signature are required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return VerificationResult{}, s.mapRepositoryError(err)
	}

	// A valid signature only proves the pair (gateway order, payment) is
	// genuine; it says nothing about which local order it pays for. The
	// binding recorded at gateway-order creation is what ties the two, so a
	// signature minted for another cart cannot finalize this order.
	if order.Payment.GatewayOrderID == "" || order.Payment.GatewayOrderID != strings.TrimSpace(cmd.GatewayOrderID) {
		s.logger(ctx, "payment.gateway_order_mismatch", map[string]any{
			"orderId":        order.ID,
			"gatewayOrderId": cmd.GatewayOrderID,
			"boundTo":        order.Payment.GatewayOrderID,
		})
		return VerificationResult{
			Outcome: VerificationFailed,
			Order:   order,
			Message: "payment does not belong to this order",
		}, nil
	}

	if !s.verifier.Verify(cmd.GatewayOrderID, cmd.PaymentID, cmd.Signature) {
		s.logger(ctx, "payment.signature_mismatch", map[string]any{
			"orderId":        order.ID,
			"gatewayOrderId": cmd.GatewayOrderID,
		})
		failed := domain.PaymentStatusFailed
		order.Payment.Status = failed
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(ctx, order); err != nil {
			s.logger(ctx, "payment.mark_failed_error", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
		return VerificationResult{
			Outcome: VerificationFailed,
			Order:   order,
			Message: "payment signature verification failed",
		}, nil
	}

	now := s.clock()
	record := PaymentRecord{
		PaymentID:      strings.TrimSpace(cmd.PaymentID),
		GatewayOrderID: strings.TrimSpace(cmd.GatewayOrderID),
		OrderID:        order.ID,
		Amount:         order.Total,
		Status:         domain.PaymentStatusCompleted,
		VerifiedAt:     now,
	}

	if err := s.paymentRecords.Create(ctx, record); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return VerificationResult{}, fmt.Errorf("%w: payment %s", ErrPaymentReplayed, record.PaymentID)
		}
		// The gateway says the customer paid; losing that fact is not an
		// option, so hand it to reconciliation instead of failing outright.
		return s.deferToReconciliation(ctx, order, cmd, fmt.Sprintf("payment record write failed: %v", err)), nil
	}

	completed := domain.PaymentStatusCompleted
	transactionID := record.PaymentID
	updated, err := s.orders.ApplyTransition(ctx, order.ID, repositories.TransitionUpdate{
		Status: domain.OrderStatusConfirmed,
		Entry: TimelineEntry{
			Status:    domain.OrderStatusConfirmed,
			Timestamp: now,
			Note:      "payment verified",
		},
		PaymentStatus: &completed,
		TransactionID: &transactionID,
		PaidAt:        &now,
		UpdatedAt:     now,
	})
	if err != nil {
		return s.deferToReconciliation(ctx, order, cmd, fmt.Sprintf("order finalization failed: %v", err)), nil
	}

	if err := s.paymentRecords.MarkFinalized(ctx, record.PaymentID, now); err != nil {
		s.logger(ctx, "payment.mark_finalized_error", map[string]any{
			"paymentId": record.PaymentID,
			"error":     err.Error(),
		})
	}

	if s.events != nil {
		if _, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
			Event:       orderEventStatusChanged,
			OrderID:     updated.ID,
			OrderNumber: updated.OrderNumber,
			Status:      string(updated.Status),
			OccurredAt:  now,
			Metadata: map[string]any{
				"paymentId": record.PaymentID,
			},
		}); err != nil {
			s.logger(ctx, "payment.event_publish_failed", map[string]any{
				"orderId": updated.ID,
				"error":   err.Error(),
			})
		}
	}

	return VerificationResult{
		Outcome: VerificationSucceeded,
		Order:   updated,
		Message: "payment verified",
	}, nil
}

// deferToReconciliation records the pending outcome and publishes a
// reconciliation event for out-of-band processing.
func (s *paymentService) deferToReconciliation(ctx context.Context, order Order, cmd VerifyPaymentCommand, reason string) VerificationResult {
	s.logger(ctx, "payment.verification_deferred", map[string]any{
		"orderId":        order.ID,
		"gatewayOrderId": cmd.GatewayOrderID,
		"paymentId":      cmd.PaymentID,
		"reason":         reason,
	})

	if s.events != nil {
		if _, err := s.events.PublishReconciliationEvent(ctx, ReconciliationMessage{
			OrderID:        order.ID,
			GatewayOrderID: strings.TrimSpace(cmd.GatewayOrderID),
			PaymentID:      strings.TrimSpace(cmd.PaymentID),
			Reason:         reason,
			OccurredAt:     s.clock(),
		}); err != nil {
			s.logger(ctx, "payment.reconciliation_publish_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	return VerificationResult{
		Outcome: VerificationPending,
		Order:   order,
		Message: "payment accepted; confirmation pending reconciliation",
	}
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}
	return err
}
