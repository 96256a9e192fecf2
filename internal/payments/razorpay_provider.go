package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	KeyID     string
	KeySecret string
	Logger    Logger
	Clock     func() time.Time
	Orders    razorpayOrderAPI
}

// RazorpayProvider implements the Gateway interface using the Razorpay Orders API.
type RazorpayProvider struct {
	orders razorpayOrderAPI
	clock  func() time.Time
	logger Logger
}

// NewRazorpayProvider constructs a Razorpay Gateway using the given configuration.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if (keyID == "" || keySecret == "") && cfg.Orders == nil {
		return nil, errors.New("razorpay: key id and secret are required")
	}

	orders := cfg.Orders
	if orders == nil {
		orders = razorpay.NewClient(keyID, keySecret).Order
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RazorpayProvider{
		orders: orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateOrder opens a gateway order for the given amount. The amount is
// expressed in paise, matching both the storefront totals and the Razorpay API.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	if p == nil || p.orders == nil {
		return GatewayOrder{}, errors.New("razorpay: provider is nil")
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("razorpay: amount must be positive")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": currency,
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		data["receipt"] = receipt
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for key, value := range req.Notes {
			notes[key] = value
		}
		data["notes"] = notes
	}

	body, err := p.orders.Create(data, nil)
	if err != nil {
		p.logger(ctx, "payments.gateway_order.error", map[string]any{
			"amount": req.Amount,
			"error":  err.Error(),
		})
		return GatewayOrder{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	orderID, _ := body["id"].(string)
	if strings.TrimSpace(orderID) == "" {
		return GatewayOrder{}, errors.New("razorpay: gateway returned no order id")
	}

	order := GatewayOrder{
		ID:        orderID,
		Amount:    req.Amount,
		Currency:  currency,
		CreatedAt: p.clock(),
	}
	if amount, ok := body["amount"].(float64); ok {
		order.Amount = int64(amount)
	}

	p.logger(ctx, "payments.gateway_order.created", map[string]any{
		"gatewayOrderId": order.ID,
		"amount":         order.Amount,
		"currency":       order.Currency,
	})
	return order, nil
}

var _ Gateway = (*RazorpayProvider)(nil)
