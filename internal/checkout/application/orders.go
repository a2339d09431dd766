package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
	"github.com/dmehra2102/canteen-checkout/pkg/outbox"
	"github.com/dmehra2102/canteen-checkout/pkg/tracing"
)

// OrderBook creates order snapshots and drives their lifecycle afterwards.
type OrderBook struct {
	log     *slog.Logger
	store   Store
	wallets *WalletLedger
	roles   Roles
	clock   Clock
}

func NewOrderBook(log *slog.Logger, store Store, wallets *WalletLedger, roles Roles, clock Clock) *OrderBook {
	return &OrderBook{log: log, store: store, wallets: wallets, roles: roles, clock: clock}
}

// CreateFromCart persists a paid order built from snap. It touches neither the
// wallet nor the quota.
func (b *OrderBook) CreateFromCart(ctx context.Context, tx Tx, userID int64, snap domain.CartSnapshot, pickup time.Time, day domain.ServiceDay, paid money.Money) (domain.Order, error) {
	o := domain.NewPaidOrder(userID, snap, pickup, day, paid, b.clock.Now().UTC())
	if err := tx.Orders().Insert(ctx, o); err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

// ListOrders returns the user's orders, newest first.
func (b *OrderBook) ListOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	var orders []domain.Order
	err := b.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		orders, err = tx.Orders().ListByUser(ctx, userID)
		return err
	})
	return orders, err
}

// ListAll returns every user's orders, newest first, optionally filtered by
// status. Only exempt (staff) users may list them.
func (b *OrderBook) ListAll(ctx context.Context, actorID int64, status *domain.OrderStatus) ([]domain.Order, error) {
	staff, err := b.roles.IsExempt(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !staff {
		return nil, domain.ErrForbidden
	}

	var orders []domain.Order
	err = b.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		orders, err = tx.Orders().List(ctx, status)
		return err
	})
	return orders, err
}

// GetOrder returns one of the user's orders. Orders of other users are reported as not found.
func (b *OrderBook) GetOrder(ctx context.Context, userID int64, orderID uuid.UUID) (domain.Order, error) {
	var o domain.Order
	err := b.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.Orders().Get(ctx, orderID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	if o.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

// UpdateStatus moves an order along its lifecycle on behalf of an exempt
// (staff) user. Cancelling refunds what was paid; the daily quota is not given back.
func (b *OrderBook) UpdateStatus(ctx context.Context, actorID int64, orderID uuid.UUID, next domain.OrderStatus) (domain.Order, error) {
	staff, err := b.roles.IsExempt(ctx, actorID)
	if err != nil {
		return domain.Order{}, err
	}
	if !staff {
		return domain.Order{}, domain.ErrForbidden
	}

	var o domain.Order
	err = b.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		o, err = tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		prev := o.Status
		if prev.IsTerminal() {
			return fmt.Errorf("%w: order is already %s", domain.ErrIllegalTransition, prev)
		}
		if !prev.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, prev, next)
		}
		if err := tx.Orders().SetStatus(ctx, orderID, next); err != nil {
			return err
		}
		o.Status = next

		event := domain.OrderStatusChanged{OrderID: o.ID.String(), UserID: o.UserID, From: prev, To: next}
		if next == domain.StatusCancelled && o.Paid.IsPositive() {
			if _, err := b.wallets.credit(ctx, tx, o.UserID, o.Paid, domain.TxRefund, RefCancel); err != nil {
				return fmt.Errorf("refund order: %w", err)
			}
			event.RefundMinor = o.Paid.Int64()
		}
		return enqueue(ctx, tx, o.ID, domain.EventOrderStatusChanged, event)
	})
	if err != nil {
		return domain.Order{}, err
	}
	b.log.Info("order status updated", "order_id", o.ID, "status", o.Status, "actor_id", actorID)
	return o, nil
}

func enqueue(ctx context.Context, tx Tx, orderID uuid.UUID, eventType string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return tx.Outbox().Enqueue(ctx, outbox.Event{
		AggregateType: "order",
		AggregateID:   orderID.String(),
		Type:          eventType,
		Payload:       payload,
		Headers:       map[string]string{"source": "canteen-checkout"},
		Traceparent:   tracing.Traceparent(ctx),
	})
}
