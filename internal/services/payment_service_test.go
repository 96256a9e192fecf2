package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	domain "github.com/craftkart/api/internal/domain"
	"github.com/craftkart/api/internal/payments"
	"github.com/craftkart/api/internal/platform/config"
	"github.com/craftkart/api/internal/repositories"
)

const testGatewaySecret = "test-key-secret"

type stubGateway struct {
	createFunc func(ctx context.Context, req payments.OrderRequest) (payments.GatewayOrder, error)
}

func (s *stubGateway) CreateOrder(ctx context.Context, req payments.OrderRequest) (payments.GatewayOrder, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, req)
	}
	return payments.GatewayOrder{}, errors.New("not implemented")
}

type stubBotVerifier struct {
	verifyFunc func(ctx context.Context, token, remoteIP string) error
}

func (s *stubBotVerifier) VerifyToken(ctx context.Context, token, remoteIP string) error {
	if s.verifyFunc != nil {
		return s.verifyFunc(ctx, token, remoteIP)
	}
	return nil
}

func signPayment(gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testGatewaySecret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func newPaymentServiceForTest(t *testing.T, deps PaymentServiceDeps) PaymentService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepository{}
	}
	if deps.PaymentRecords == nil {
		deps.PaymentRecords = &stubPaymentRecordRepository{}
	}
	if deps.Gateway == nil {
		deps.Gateway = &stubGateway{}
	}
	if deps.Verifier == nil {
		verifier, err := payments.NewSignatureVerifier(testGatewaySecret)
		if err != nil {
			t.Fatalf("unexpected error constructing verifier: %v", err)
		}
		deps.Verifier = verifier
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC) }
	}
	service, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing payment service: %v", err)
	}
	return service
}

func TestPaymentServiceCreateGatewayOrderUsesStoredTotal(t *testing.T) {
	existing := domain.Order{
		ID:          "ord-1",
		OrderNumber: "CK-20250315-AB12",
		Status:      domain.OrderStatusPending,
		Total:       49800,
	}

	var gotReq payments.OrderRequest
	gateway := &stubGateway{
		createFunc: func(ctx context.Context, req payments.OrderRequest) (payments.GatewayOrder, error) {
			gotReq = req
			return payments.GatewayOrder{ID: "order_rzp1", Amount: req.Amount, Currency: req.Currency}, nil
		},
	}

	var persisted domain.Order
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			if orderID != "ord-1" {
				t.Fatalf("expected lookup of ord-1, got %q", orderID)
			}
			return existing, nil
		},
		updateFunc: func(ctx context.Context, order domain.Order) error {
			persisted = order
			return nil
		},
	}

	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders:     orders,
		Gateway:    gateway,
		GatewayCfg: config.GatewayConfig{KeyID: "rzp_test_key", Currency: "INR"},
	})

	order, err := service.CreateGatewayOrder(context.Background(), GatewayOrderCommand{OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The charge is the stored total; the client request carries no amount at all.
	if gotReq.Amount != 49800 {
		t.Fatalf("expected gateway amount 49800, got %d", gotReq.Amount)
	}
	if gotReq.Currency != "INR" {
		t.Fatalf("expected currency INR, got %q", gotReq.Currency)
	}
	if gotReq.Receipt != "CK-20250315-AB12" {
		t.Fatalf("expected order number as receipt, got %q", gotReq.Receipt)
	}
	if gotReq.Notes["orderId"] != "ord-1" {
		t.Fatalf("expected order id note, got %+v", gotReq.Notes)
	}

	if persisted.Payment.GatewayOrderID != "order_rzp1" {
		t.Fatalf("expected gateway order id recorded on the order, got %q", persisted.Payment.GatewayOrderID)
	}

	if order.GatewayOrderID != "order_rzp1" || order.Amount != 49800 || order.PublicKey != "rzp_test_key" {
		t.Fatalf("unexpected gateway order %+v", order)
	}
}

func TestPaymentServiceCreateGatewayOrderRequiresOrderID(t *testing.T) {
	service := newPaymentServiceForTest(t, PaymentServiceDeps{})

	if _, err := service.CreateGatewayOrder(context.Background(), GatewayOrderCommand{OrderID: "  "}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
	}
}

func TestPaymentServiceCreateGatewayOrderRejectsPaidOrder(t *testing.T) {
	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders: &stubOrderRepository{
			findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{
					ID:      orderID,
					Status:  domain.OrderStatusConfirmed,
					Payment: domain.PaymentInfo{Status: domain.PaymentStatusCompleted},
				}, nil
			},
		},
		Gateway: &stubGateway{
			createFunc: func(ctx context.Context, req payments.OrderRequest) (payments.GatewayOrder, error) {
				t.Fatalf("expected no gateway order for a paid order")
				return payments.GatewayOrder{}, nil
			},
		},
	})

	if _, err := service.CreateGatewayOrder(context.Background(), GatewayOrderCommand{OrderID: "ord-1"}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
	}
}

func TestPaymentServiceCreateGatewayOrderUnknownOrder(t *testing.T) {
	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders: &stubOrderRepository{
			findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{}, repositoryErrorStub{notFound: true}
			},
		},
	})

	if _, err := service.CreateGatewayOrder(context.Background(), GatewayOrderCommand{OrderID: "ord-404"}); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestPaymentServiceCreateGatewayOrderRejectsBots(t *testing.T) {
	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Bots: &stubBotVerifier{
			verifyFunc: func(ctx context.Context, token, remoteIP string) error {
				return ErrBotSuspected
			},
		},
	})

	if _, err := service.CreateGatewayOrder(context.Background(), GatewayOrderCommand{OrderID: "ord-1"}); !errors.Is(err, ErrBotSuspected) {
		t.Fatalf("expected ErrBotSuspected, got %v", err)
	}
}

func TestPaymentServiceCreateGatewayOrderMapsGatewayOutage(t *testing.T) {
	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders: &stubOrderRepository{
			findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{ID: orderID, Status: domain.OrderStatusPending, Total: 100}, nil
			},
		},
		Gateway: &stubGateway{
			createFunc: func(ctx context.Context, req payments.OrderRequest) (payments.GatewayOrder, error) {
				return payments.GatewayOrder{}, payments.ErrGatewayUnavailable
			},
		},
	})

	if _, err := service.CreateGatewayOrder(context.Background(), GatewayOrderCommand{OrderID: "ord-1"}); !errors.Is(err, ErrPaymentGatewayUnavailable) {
		t.Fatalf("expected ErrPaymentGatewayUnavailable, got %v", err)
	}
}

func TestPaymentServiceCreateGatewayOrderFailsWhenBindingWriteFails(t *testing.T) {
	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders: &stubOrderRepository{
			findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{ID: orderID, Status: domain.OrderStatusPending, Total: 100}, nil
			},
			updateFunc: func(ctx context.Context, order domain.Order) error {
				return repositoryErrorStub{unavailable: true}
			},
		},
		Gateway: &stubGateway{
			createFunc: func(ctx context.Context, req payments.OrderRequest) (payments.GatewayOrder, error) {
				return payments.GatewayOrder{ID: "order_rzp1", Amount: req.Amount, Currency: req.Currency}, nil
			},
		},
	})

	// If the gateway order id was never recorded, no verification can ever
	// finalize the order, so the caller must see an error and retry.
	if _, err := service.CreateGatewayOrder(context.Background(), GatewayOrderCommand{OrderID: "ord-1"}); err == nil {
		t.Fatalf("expected an error when the gateway order id cannot be recorded")
	}
}

func TestPaymentServiceVerifyPaymentHappyPath(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	existing := domain.Order{
		ID:          "ord-1",
		OrderNumber: "CK-20250315-AB12",
		Status:      domain.OrderStatusPending,
		Total:       49800,
		Payment:     domain.PaymentInfo{GatewayOrderID: "order_rzp1"},
	}

	var applied repositories.TransitionUpdate
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return existing, nil
		},
		applyTransitionFunc: func(ctx context.Context, orderID string, update repositories.TransitionUpdate) (domain.Order, error) {
			applied = update
			updated := existing
			updated.Status = update.Status
			return updated, nil
		},
	}

	var created domain.PaymentRecord
	var finalizedID string
	records := &stubPaymentRecordRepository{
		createFunc: func(ctx context.Context, record domain.PaymentRecord) error {
			created = record
			return nil
		},
		markFinalizedFunc: func(ctx context.Context, paymentID string, finalizedAt time.Time) error {
			finalizedID = paymentID
			return nil
		},
	}

	var published []OrderEventMessage
	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders:         orders,
		PaymentRecords: records,
		Clock:          func() time.Time { return now },
		Events: &stubEventPublisher{
			orderFunc: func(ctx context.Context, message OrderEventMessage) (string, error) {
				published = append(published, message)
				return "msg-1", nil
			},
		},
	})

	result, err := service.VerifyPayment(context.Background(), VerifyPaymentCommand{
		OrderID:        "ord-1",
		GatewayOrderID: "order_rzp1",
		PaymentID:      "pay_abc",
		Signature:      signPayment("order_rzp1", "pay_abc"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != VerificationSucceeded {
		t.Fatalf("expected succeeded outcome, got %q", result.Outcome)
	}
	if result.Order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed order, got %q", result.Order.Status)
	}

	// The durable record carries the server-side total, not anything from the client.
	if created.PaymentID != "pay_abc" || created.Amount != 49800 || created.Status != domain.PaymentStatusCompleted {
		t.Fatalf("unexpected payment record %+v", created)
	}
	if !created.VerifiedAt.Equal(now) {
		t.Fatalf("expected verified at %v, got %v", now, created.VerifiedAt)
	}
	if finalizedID != "pay_abc" {
		t.Fatalf("expected record finalized, got %q", finalizedID)
	}

	if applied.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirm transition, got %q", applied.Status)
	}
	if applied.PaymentStatus == nil || *applied.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed payment status, got %v", applied.PaymentStatus)
	}
	if applied.TransactionID == nil || *applied.TransactionID != "pay_abc" {
		t.Fatalf("expected transaction id, got %v", applied.TransactionID)
	}
	if applied.PaidAt == nil || !applied.PaidAt.Equal(now) {
		t.Fatalf("expected paid at %v, got %v", now, applied.PaidAt)
	}

	if len(published) != 1 || published[0].Metadata["paymentId"] != "pay_abc" {
		t.Fatalf("expected status change event with payment id, got %+v", published)
	}
}

func TestPaymentServiceVerifyPaymentRejectsForeignGatewayOrder(t *testing.T) {
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:      orderID,
				Status:  domain.OrderStatusPending,
				Total:   49800,
				Payment: domain.PaymentInfo{GatewayOrderID: "order_rzp1"},
			}, nil
		},
		updateFunc: func(ctx context.Context, order domain.Order) error {
			t.Fatalf("expected no order write for a foreign gateway order")
			return nil
		},
		applyTransitionFunc: func(ctx context.Context, orderID string, update repositories.TransitionUpdate) (domain.Order, error) {
			t.Fatalf("expected no transition for a foreign gateway order")
			return domain.Order{}, nil
		},
	}
	records := &stubPaymentRecordRepository{
		createFunc: func(ctx context.Context, record domain.PaymentRecord) error {
			t.Fatalf("expected no payment record for a foreign gateway order")
			return nil
		},
	}

	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders:         orders,
		PaymentRecords: records,
	})

	// The signature is genuine, just minted for a different gateway order.
	// Only the gateway order recorded on this order may confirm it.
	result, err := service.VerifyPayment(context.Background(), VerifyPaymentCommand{
		OrderID:        "ord-1",
		GatewayOrderID: "order_rzp_other",
		PaymentID:      "pay_abc",
		Signature:      signPayment("order_rzp_other", "pay_abc"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != VerificationFailed {
		t.Fatalf("expected failed outcome, got %q", result.Outcome)
	}
	if result.Message != "payment does not belong to this order" {
		t.Fatalf("unexpected message %q", result.Message)
	}
	if result.Order.Status != domain.OrderStatusPending {
		t.Fatalf("expected order left pending, got %q", result.Order.Status)
	}
}

func TestPaymentServiceVerifyPaymentRejectsUnboundOrder(t *testing.T) {
	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders: &stubOrderRepository{
			findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				// No gateway order was ever opened for this order.
				return domain.Order{ID: orderID, Status: domain.OrderStatusPending}, nil
			},
		},
		PaymentRecords: &stubPaymentRecordRepository{
			createFunc: func(ctx context.Context, record domain.PaymentRecord) error {
				t.Fatalf("expected no payment record for an unbound order")
				return nil
			},
		},
	})

	result, err := service.VerifyPayment(context.Background(), VerifyPaymentCommand{
		OrderID:        "ord-1",
		GatewayOrderID: "order_rzp1",
		PaymentID:      "pay_abc",
		Signature:      signPayment("order_rzp1", "pay_abc"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != VerificationFailed {
		t.Fatalf("expected failed outcome, got %q", result.Outcome)
	}
	if result.Message != "payment does not belong to this order" {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestPaymentServiceVerifyPaymentRejectsBadSignature(t *testing.T) {
	existing := domain.Order{
		ID:      "ord-1",
		Status:  domain.OrderStatusPending,
		Payment: domain.PaymentInfo{GatewayOrderID: "order_rzp1"},
	}

	var updated domain.Order
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return existing, nil
		},
		updateFunc: func(ctx context.Context, order domain.Order) error {
			updated = order
			return nil
		},
	}

	records := &stubPaymentRecordRepository{
		createFunc: func(ctx context.Context, record domain.PaymentRecord) error {
			t.Fatalf("expected no payment record for a bad signature")
			return nil
		},
	}

	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders:         orders,
		PaymentRecords: records,
	})

	result, err := service.VerifyPayment(context.Background(), VerifyPaymentCommand{
		OrderID:        "ord-1",
		GatewayOrderID: "order_rzp1",
		PaymentID:      "pay_abc",
		Signature:      "deadbeef",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != VerificationFailed {
		t.Fatalf("expected failed outcome, got %q", result.Outcome)
	}
	if updated.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected payment marked failed, got %q", updated.Payment.Status)
	}
}

func TestPaymentServiceVerifyPaymentRejectsReplay(t *testing.T) {
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:      orderID,
				Status:  domain.OrderStatusPending,
				Payment: domain.PaymentInfo{GatewayOrderID: "order_rzp1"},
			}, nil
		},
	}
	records := &stubPaymentRecordRepository{
		createFunc: func(ctx context.Context, record domain.PaymentRecord) error {
			return repositoryErrorStub{conflict: true}
		},
	}

	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders:         orders,
		PaymentRecords: records,
	})

	if _, err := service.VerifyPayment(context.Background(), VerifyPaymentCommand{
		OrderID:        "ord-1",
		GatewayOrderID: "order_rzp1",
		PaymentID:      "pay_abc",
		Signature:      signPayment("order_rzp1", "pay_abc"),
	}); !errors.Is(err, ErrPaymentReplayed) {
		t.Fatalf("expected ErrPaymentReplayed, got %v", err)
	}
}

func TestPaymentServiceVerifyPaymentDefersWhenFinalizationFails(t *testing.T) {
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:      orderID,
				Status:  domain.OrderStatusPending,
				Total:   1000,
				Payment: domain.PaymentInfo{GatewayOrderID: "order_rzp1"},
			}, nil
		},
		applyTransitionFunc: func(ctx context.Context, orderID string, update repositories.TransitionUpdate) (domain.Order, error) {
			return domain.Order{}, repositoryErrorStub{unavailable: true}
		},
	}

	var recorded bool
	records := &stubPaymentRecordRepository{
		createFunc: func(ctx context.Context, record domain.PaymentRecord) error {
			recorded = true
			return nil
		},
	}

	var reconciliation []ReconciliationMessage
	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders:         orders,
		PaymentRecords: records,
		Events: &stubEventPublisher{
			reconciliationFunc: func(ctx context.Context, message ReconciliationMessage) (string, error) {
				reconciliation = append(reconciliation, message)
				return "msg-1", nil
			},
		},
	})

	result, err := service.VerifyPayment(context.Background(), VerifyPaymentCommand{
		OrderID:        "ord-1",
		GatewayOrderID: "order_rzp1",
		PaymentID:      "pay_abc",
		Signature:      signPayment("order_rzp1", "pay_abc"),
	})
	if err != nil {
		t.Fatalf("expected pending result rather than error, got %v", err)
	}
	if result.Outcome != VerificationPending {
		t.Fatalf("expected pending outcome, got %q", result.Outcome)
	}
	if !recorded {
		t.Fatalf("expected payment record written before finalization")
	}
	if len(reconciliation) != 1 || reconciliation[0].PaymentID != "pay_abc" {
		t.Fatalf("expected reconciliation event, got %+v", reconciliation)
	}
}

func TestPaymentServiceVerifyPaymentDefersWhenRecordWriteFails(t *testing.T) {
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:      orderID,
				Status:  domain.OrderStatusPending,
				Payment: domain.PaymentInfo{GatewayOrderID: "order_rzp1"},
			}, nil
		},
		applyTransitionFunc: func(ctx context.Context, orderID string, update repositories.TransitionUpdate) (domain.Order, error) {
			t.Fatalf("expected no finalization without a durable record")
			return domain.Order{}, nil
		},
	}
	records := &stubPaymentRecordRepository{
		createFunc: func(ctx context.Context, record domain.PaymentRecord) error {
			return repositoryErrorStub{unavailable: true}
		},
	}

	var reconciliation []ReconciliationMessage
	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders:         orders,
		PaymentRecords: records,
		Events: &stubEventPublisher{
			reconciliationFunc: func(ctx context.Context, message ReconciliationMessage) (string, error) {
				reconciliation = append(reconciliation, message)
				return "msg-1", nil
			},
		},
	})

	result, err := service.VerifyPayment(context.Background(), VerifyPaymentCommand{
		OrderID:        "ord-1",
		GatewayOrderID: "order_rzp1",
		PaymentID:      "pay_abc",
		Signature:      signPayment("order_rzp1", "pay_abc"),
	})
	if err != nil {
		t.Fatalf("expected pending result rather than error, got %v", err)
	}
	if result.Outcome != VerificationPending {
		t.Fatalf("expected pending outcome, got %q", result.Outcome)
	}
	if len(reconciliation) != 1 {
		t.Fatalf("expected reconciliation event, got %+v", reconciliation)
	}
}

func TestPaymentServiceVerifyPaymentValidatesInput(t *testing.T) {
	service := newPaymentServiceForTest(t, PaymentServiceDeps{})

	cases := []VerifyPaymentCommand{
		{},
		{OrderID: "ord-1"},
		{OrderID: "ord-1", GatewayOrderID: "order_rzp1"},
		{OrderID: "ord-1", GatewayOrderID: "order_rzp1", PaymentID: "pay_abc"},
	}
	for i, cmd := range cases {
		if _, err := service.VerifyPayment(context.Background(), cmd); !errors.Is(err, ErrPaymentInvalidInput) {
			t.Fatalf("case %d: expected ErrPaymentInvalidInput, got %v", i, err)
		}
	}
}

func TestPaymentServiceVerifyPaymentUnknownOrder(t *testing.T) {
	service := newPaymentServiceForTest(t, PaymentServiceDeps{
		Orders: &stubOrderRepository{
			findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{}, repositoryErrorStub{notFound: true}
			},
		},
	})

	if _, err := service.VerifyPayment(context.Background(), VerifyPaymentCommand{
		OrderID:        "ord-404",
		GatewayOrderID: "order_rzp1",
		PaymentID:      "pay_abc",
		Signature:      "aa",
	}); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}
