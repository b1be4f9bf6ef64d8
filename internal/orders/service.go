package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type ServiceConfig struct {
	Producer     string
	DefaultLimit int
	MaxLimit     int
}

type Service struct {
	store  Store
	events Publisher
	log    *logrus.Logger
	cfg    ServiceConfig
	now    func() time.Time
}

// NewService wires the workflows. events may be nil when no broker is
// configured.
func NewService(store Store, events Publisher, logger *logrus.Logger, cfg ServiceConfig) *Service {
	if cfg.Producer == "" {
		cfg.Producer = "order-api"
	}
	return &Service{
		store:  store,
		events: events,
		log:    logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (CreatedOrder, error) {
	if err := validateCreate(in); err != nil {
		return CreatedOrder{}, err
	}

	var (
		order  Order
		replay bool
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		if key := in.Options.IdempotencyKey; key != "" {
			existing, ok, err := tx.FindByIdempotencyKey(ctx, in.UserID, key)
			if err != nil {
				return err
			}
			if ok {
				order, replay = existing, true
				return nil
			}
		}

		ledger, err := inventory.Open(ctx, tx, itemProductIDs(in.Items))
		if err != nil {
			return err
		}

		now := s.now()
		order = Order{
			ID:              uuid.NewString(),
			UserID:          in.UserID,
			ShippingFee:     in.Options.ShippingFee,
			ShippingAddress: in.ShippingAddress,
			PaymentMethod:   in.PaymentMethod,
			Note:            in.Options.Note,
			PaymentStatus:   PaymentPending,
			OrderStatus:     StatusPending,
			IdempotencyKey:  in.Options.IdempotencyKey,
			Items:           make([]OrderItem, 0, len(in.Items)),
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		total := decimal.Zero
		for i, it := range in.Items {
			p, err := ledger.Reserve(ctx, it.ProductID, it.Quantity)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			price := p.EffectivePrice()
			subtotal := price.Mul(decimal.NewFromInt(int64(it.Quantity)))
			total = total.Add(subtotal)
			order.Items = append(order.Items, OrderItem{
				ID:        uuid.NewString(),
				OrderID:   order.ID,
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				Price:     price,
				Subtotal:  subtotal,
			})
		}
		order.TotalAmount = total.Add(order.ShippingFee)

		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		s.logFailure(err, "create order", logrus.Fields{"user_id": in.UserID, "items": len(in.Items)})
		return CreatedOrder{}, err
	}

	out := order.Summary()
	if replay {
		out.Idempotent = true
		s.log.WithFields(logrus.Fields{"order_id": order.ID, "user_id": in.UserID}).Info("create order: idempotent replay")
		return out, nil
	}

	s.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"total":    order.TotalAmount.String(),
		"items":    len(order.Items),
	}).Info("order created")
	s.publish(ctx, TopicOrderCreated, EventOrderCreated, order.ID, OrderCreatedPayload{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Items:       toItemPrices(order.Items),
		ShippingFee: order.ShippingFee,
		TotalAmount: order.TotalAmount,
		UpdatedAt:   order.UpdatedAt,
	})
	return out, nil
}

// CancelOrder is the customer path: the order must belong to userID and be
// pending or confirmed.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID string) (StatusResult, error) {
	if userID == "" {
		return StatusResult{}, fmt.Errorf("%w: missing user id", ErrInvalidInput)
	}
	var before, after Order
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID, userID)
		if err != nil {
			return err
		}
		before = o
		if !o.OrderStatus.Cancellable() {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.ID, o.OrderStatus)
		}
		if err := s.releaseStock(ctx, tx, o); err != nil {
			return err
		}
		o.OrderStatus = StatusCancelled
		o.UpdatedAt = s.now()
		after = o
		return tx.SetStatus(ctx, o.ID, o.OrderStatus, o.PaymentStatus, o.UpdatedAt)
	})
	if err != nil {
		s.logFailure(err, "cancel order", logrus.Fields{"order_id": orderID, "user_id": userID})
		return StatusResult{}, err
	}

	s.statusChanged(ctx, before, after, true)
	return after.statusResult(), nil
}

// UpdateStatus is the admin path. Order status follows the state machine;
// payment status may be set to any known value.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, upd StatusUpdate) (StatusResult, error) {
	if upd.OrderStatus == nil && upd.PaymentStatus == nil {
		return StatusResult{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if upd.OrderStatus != nil && !upd.OrderStatus.Valid() {
		return StatusResult{}, fmt.Errorf("%w: order status %q", ErrInvalidInput, *upd.OrderStatus)
	}
	if upd.PaymentStatus != nil && !upd.PaymentStatus.Valid() {
		return StatusResult{}, fmt.Errorf("%w: payment status %q", ErrInvalidInput, *upd.PaymentStatus)
	}

	var (
		before, after Order
		released      bool
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID, "")
		if err != nil {
			return err
		}
		before = o

		if target := upd.OrderStatus; target != nil {
			switch {
			case *target == StatusCancelled && !o.OrderStatus.Cancellable():
				return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.ID, o.OrderStatus)
			case *target == o.OrderStatus:
			case !CanTransition(o.OrderStatus, *target):
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.OrderStatus, *target)
			}
			if *target == StatusCancelled {
				if err := s.releaseStock(ctx, tx, o); err != nil {
					return err
				}
				released = true
			}
			o.OrderStatus = *target
		}
		if upd.PaymentStatus != nil {
			o.PaymentStatus = *upd.PaymentStatus
		}
		o.UpdatedAt = s.now()
		after = o
		return tx.SetStatus(ctx, o.ID, o.OrderStatus, o.PaymentStatus, o.UpdatedAt)
	})
	if err != nil {
		s.logFailure(err, "update order status", logrus.Fields{"order_id": orderID})
		return StatusResult{}, err
	}

	s.statusChanged(ctx, before, after, released)
	return after.statusResult(), nil
}

// DeleteOrder removes an order administratively, giving back any stock it
// still holds.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	var (
		deleted  Order
		released bool
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID, "")
		if err != nil {
			return err
		}
		deleted = o
		if o.OrderStatus.HoldsStock() {
			if err := s.releaseStock(ctx, tx, o); err != nil {
				return err
			}
			released = true
		}
		return tx.DeleteOrder(ctx, o.ID)
	})
	if err != nil {
		s.logFailure(err, "delete order", logrus.Fields{"order_id": orderID})
		return err
	}

	s.log.WithFields(logrus.Fields{"order_id": deleted.ID, "status": deleted.OrderStatus, "stock_released": released}).Info("order deleted")
	s.publish(ctx, TopicOrderDeleted, EventOrderDeleted, deleted.ID, OrderDeletedPayload{
		OrderID:       deleted.ID,
		UserID:        deleted.UserID,
		LastStatus:    deleted.OrderStatus,
		StockReleased: released,
	})
	return nil
}

// GetOrder returns an order with items; userID == "" is the admin lookup.
func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (Order, error) {
	return s.store.GetOrder(ctx, orderID, userID)
}

func (s *Service) ListOrders(ctx context.Context, f ListFilter) (Page, error) {
	if f.OrderStatus != "" && !f.OrderStatus.Valid() {
		return Page{}, fmt.Errorf("%w: order status %q", ErrInvalidInput, f.OrderStatus)
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return Page{}, fmt.Errorf("%w: payment status %q", ErrInvalidInput, f.PaymentStatus)
	}
	return s.store.ListOrders(ctx, f.Normalize(s.cfg.DefaultLimit, s.cfg.MaxLimit))
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	return s.store.ListProducts(ctx)
}

// releaseStock is the single restoration path shared by cancellation and
// deletion. Products the catalog has since removed are skipped.
func (s *Service) releaseStock(ctx context.Context, tx Tx, o Order) error {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	ledger, err := inventory.Open(ctx, tx, ids)
	if err != nil {
		return err
	}
	for _, it := range o.Items {
		err := ledger.Release(ctx, it.ProductID, it.Quantity)
		if errors.Is(err, inventory.ErrProductNotFound) {
			s.log.WithFields(logrus.Fields{"order_id": o.ID, "product_id": it.ProductID}).Warn("release stock: product no longer exists")
			continue
		}
		if err != nil {
			return fmt.Errorf("release product %s: %w", it.ProductID, err)
		}
	}
	return nil
}

func (s *Service) statusChanged(ctx context.Context, before, after Order, released bool) {
	s.log.WithFields(logrus.Fields{
		"order_id":       after.ID,
		"from":           before.OrderStatus,
		"to":             after.OrderStatus,
		"payment_status": after.PaymentStatus,
		"stock_released": released,
	}).Info("order status updated")
	s.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, after.ID, OrderStatusChangedPayload{
		OrderID:       after.ID,
		UserID:        after.UserID,
		From:          before.OrderStatus,
		To:            after.OrderStatus,
		PaymentStatus: after.PaymentStatus,
		StockReleased: released,
		UpdatedAt:     after.UpdatedAt,
	})
}

func (s *Service) logFailure(err error, op string, fields logrus.Fields) {
	entry := s.log.WithFields(fields).WithError(err)
	if IsClientError(err) {
		entry.Warn(op + " rejected")
		return
	}
	entry.Error(op + " failed")
}

func validateCreate(in CreateOrderInput) error {
	if strings.TrimSpace(in.UserID) == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidInput)
	}
	if len(in.Items) == 0 {
		return ErrEmptyOrder
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("%w: item %d has no product id", ErrInvalidInput, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive, got %d", ErrInvalidInput, i, it.Quantity)
		}
	}
	if in.Options.ShippingFee.IsNegative() {
		return fmt.Errorf("%w: shipping fee cannot be negative", ErrInvalidInput)
	}
	return nil
}

func itemProductIDs(items []ItemInput) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}
