package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// OrderEvents publishes order envelopes through a Producer.
type OrderEvents struct {
	Producer *Producer
}

var _ orders.Publisher = OrderEvents{}

func (e OrderEvents) PublishEvent(ctx context.Context, topic string, key []byte, env orders.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return e.Producer.Publish(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(env.EventType)},
			{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
		},
	})
}
