package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/craftkart/api/internal/services"
)

// PubSubEventPublisher publishes order lifecycle and payment reconciliation
// messages to Pub/Sub topics.
type PubSubEventPublisher struct {
	orderTopic          *pubsub.Topic
	reconciliationTopic *pubsub.Topic
	marshal             func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher. The
// reconciliation topic may be nil, in which case reconciliation messages are
// routed to the order topic.
func NewPubSubEventPublisher(orderTopic, reconciliationTopic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orderTopic == nil {
		return nil, errors.New("pubsub event publisher: order topic is required")
	}
	if reconciliationTopic == nil {
		reconciliationTopic = orderTopic
	}
	return &PubSubEventPublisher{
		orderTopic:          orderTopic,
		reconciliationTopic: reconciliationTopic,
		marshal:             json.Marshal,
	}, nil
}

// PublishOrderEvent enqueues an order lifecycle message on the order topic.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, message services.OrderEventMessage) (string, error) {
	if p == nil || p.orderTopic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "event", message.Event)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "orderNumber", message.OrderNumber)
	setAttr(attrs, "status", message.Status)

	result := p.orderTopic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

// PublishReconciliationEvent enqueues a payment reconciliation message for
// operators to chase verifications that could not complete online.
func (p *PubSubEventPublisher) PublishReconciliationEvent(ctx context.Context, message services.ReconciliationMessage) (string, error) {
	if p == nil || p.reconciliationTopic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal reconciliation event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "gatewayOrderId", message.GatewayOrderID)
	setAttr(attrs, "paymentId", message.PaymentID)
	setAttr(attrs, "reason", message.Reason)

	result := p.reconciliationTopic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish reconciliation event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
