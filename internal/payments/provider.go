package payments

import (
	"context"
	"errors"
	"time"
)

// Logger defines the logging contract for gateway operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// ErrGatewayUnavailable signals a transport-level failure talking to the
// payment gateway. Callers surface it as a retriable condition rather than a
// rejected payment.
var ErrGatewayUnavailable = errors.New("payments: gateway unavailable")

// OrderRequest captures the payload required to open a gateway order.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder represents the gateway-side order handed to the client for the
// hosted payment flow.
type GatewayOrder struct {
	ID        string
	Amount    int64
	Currency  string
	CreatedAt time.Time
}

// Gateway defines the contract payment gateway adapters implement.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error)
}
