// Package projector keeps the order status cache in step with order events.
package projector

import (
	"context"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type StatusWriter interface {
	SetIfNewer(ctx context.Context, v orders.StatusView) error
	Invalidate(ctx context.Context, orderID string) error
}

type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type Service struct {
	Cache StatusWriter
	Dedup Deduper
	Log   *logrus.Logger
}

// HandleOrderEvent is installed as the consumer handler for every order topic.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// a malformed message will never decode; drop it rather than block the partition
		s.Log.WithError(err).WithFields(logrus.Fields{"topic": m.Topic, "offset": m.Offset}).Warn("skip undecodable event")
		return nil
	}
	switch env.EventType {
	case orders.EventOrderCreated, orders.EventOrderStatusChanged, orders.EventOrderDeleted:
	default:
		return nil
	}

	first, err := s.Dedup.FirstSeen(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		s.Log.WithFields(logrus.Fields{"event_id": env.EventID, "event_type": env.EventType}).Debug("duplicate event")
		return nil
	}

	if err := s.apply(ctx, env); err != nil {
		if rerr := s.Dedup.Release(ctx, env.EventID); rerr != nil {
			s.Log.WithError(rerr).WithField("event_id", env.EventID).Warn("release dedup claim")
		}
		return err
	}
	s.Log.WithFields(logrus.Fields{
		"event_id":   env.EventID,
		"event_type": env.EventType,
		"order_id":   env.CorrelationID,
		"trace_id":   env.TraceID,
	}).Info("order event projected")
	return nil
}

func (s *Service) apply(ctx context.Context, env orders.Envelope) error {
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.Cache.SetIfNewer(ctx, orders.StatusView{
			ID:            p.OrderID,
			UserID:        p.UserID,
			OrderStatus:   orders.StatusPending,
			PaymentStatus: orders.PaymentPending,
			UpdatedAt:     versionOf(p.UpdatedAt, env),
		})
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.Cache.SetIfNewer(ctx, orders.StatusView{
			ID:            p.OrderID,
			UserID:        p.UserID,
			OrderStatus:   p.To,
			PaymentStatus: p.PaymentStatus,
			UpdatedAt:     versionOf(p.UpdatedAt, env),
		})
	case orders.EventOrderDeleted:
		p, err := kafkax.UnwrapPayload[orders.OrderDeletedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.Cache.Invalidate(ctx, p.OrderID)
	}
	return nil
}

// versionOf is the order row's updated_at carried by the event, so cache
// entries written here and by the API compare on the same clock. Events
// without it fall back to the publish time.
func versionOf(updatedAt time.Time, env orders.Envelope) time.Time {
	if updatedAt.IsZero() {
		return env.OccurredAt
	}
	return updatedAt
}
