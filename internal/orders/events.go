package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderDeleted       = "OrderDeleted"

	EventVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// Publisher delivers envelopes to a broker. Delivery is best-effort: the
// workflows have already committed by the time they publish.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key []byte, env Envelope) error
}

type traceKey struct{}

// WithTraceID tags ctx so published events carry the caller's request id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

type ItemPrice struct {
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	Price     decimal.Decimal `json:"price"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	Items       []ItemPrice     `json:"items"`
	ShippingFee decimal.Decimal `json:"shipping_fee"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type OrderStatusChangedPayload struct {
	OrderID       string        `json:"order_id"`
	UserID        string        `json:"user_id"`
	From          Status        `json:"from"`
	To            Status        `json:"to"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	StockReleased bool          `json:"stock_released"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type OrderDeletedPayload struct {
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	LastStatus    Status `json:"last_status"`
	StockReleased bool   `json:"stock_released"`
}

func toItemPrices(items []OrderItem) []ItemPrice {
	out := make([]ItemPrice, 0, len(items))
	for _, it := range items {
		out = append(out, ItemPrice{ProductID: it.ProductID, Qty: it.Quantity, Price: it.Price})
	}
	return out
}

func (s *Service) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).WithField("event_type", eventType).Error("encode event payload")
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EventVersion,
		OccurredAt:    s.now(),
		Producer:      s.cfg.Producer,
		TraceID:       traceID(ctx),
		CorrelationID: orderID,
		Payload:       body,
	}
	if err := s.events.PublishEvent(ctx, topic, PartitionKey(orderID), env); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"event_type": eventType, "order_id": orderID}).Warn("publish event")
	}
}
