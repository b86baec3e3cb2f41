// Package events publishes order lifecycle notifications to a RabbitMQ queue
// for downstream consumers (fulfilment, analytics). Publication is strictly
// best-effort: failures are logged and never propagate to the request.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chocomarket/backend/internal/domain/order"
)

const publishTimeout = 5 * time.Second

// Event types carried in the message envelope.
const (
	TypeOrderCreated  = "order.created"
	TypeOrderCanceled = "order.canceled"
)

// OrderEvent is the JSON message body for order notifications.
type OrderEvent struct {
	Type        string          `json:"type"`
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	UserID      string          `json:"userId"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Items       []OrderEventItem `json:"items"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// OrderEventItem is one order line in an event payload.
type OrderEventItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Publisher sends order events over a single AMQP connection. It implements
// order.Events.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

var _ order.Events = (*Publisher)(nil)

// NewPublisher dials the broker and declares the durable queue.
func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare queue %q", queue)
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// Close shuts down the channel and connection.
func (p *Publisher) Close() error {
	if err := p.ch.Close(); err != nil {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// OrderCreated publishes an order.created event.
func (p *Publisher) OrderCreated(ctx context.Context, o *order.Order) {
	p.publish(ctx, buildEvent(TypeOrderCreated, o))
}

// OrderCanceled publishes an order.canceled event.
func (p *Publisher) OrderCanceled(ctx context.Context, o *order.Order) {
	p.publish(ctx, buildEvent(TypeOrderCanceled, o))
}

func buildEvent(eventType string, o *order.Order) OrderEvent {
	items := make([]OrderEventItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderEventItem{
			ProductID: it.ProductID.String(),
			Quantity:  it.Quantity,
		}
	}
	return OrderEvent{
		Type:        eventType,
		OrderID:     o.ID.String(),
		OrderNumber: o.Number,
		UserID:      o.UserID.String(),
		Status:      string(o.Status),
		Total:       o.Total,
		Items:       items,
		OccurredAt:  time.Now().UTC(),
	}
}

func (p *Publisher) publish(ctx context.Context, ev OrderEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		zctx.From(ctx).Error("Marshal order event", zap.Error(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(pubCtx,
		"",      // default exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		})
	if err != nil {
		zctx.From(ctx).Error("Publish order event",
			zap.String("type", ev.Type),
			zap.String("order_number", ev.OrderNumber),
			zap.Error(err),
		)
		return
	}

	zctx.From(ctx).Debug("Published order event",
		zap.String("type", ev.Type),
		zap.String("order_number", ev.OrderNumber),
	)
}
