package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
)

// SettlementCoordinator turns a cart into a paid order.
//
// One checkout is one store transaction. Locks are taken in a fixed order:
// cart, then quota (skipped for exempt users), then wallet. Any failure rolls
// the whole transaction back, so a failed attempt leaves no trace and the
// caller may retry.
type SettlementCoordinator struct {
	log     *slog.Logger
	store   Store
	carts   *CartStore
	wallets *WalletLedger
	quotas  *QuotaLedger
	orders  *OrderBook
	roles   Roles
	clock   Clock
}

func NewSettlementCoordinator(
	log *slog.Logger,
	store Store,
	carts *CartStore,
	wallets *WalletLedger,
	quotas *QuotaLedger,
	orders *OrderBook,
	roles Roles,
	clock Clock,
) *SettlementCoordinator {
	return &SettlementCoordinator{
		log:     log,
		store:   store,
		carts:   carts,
		wallets: wallets,
		quotas:  quotas,
		orders:  orders,
		roles:   roles,
		clock:   clock,
	}
}

// Checkout settles the user's cart for pickup at pickupRaw (ISO8601).
func (s *SettlementCoordinator) Checkout(ctx context.Context, userID int64, pickupRaw string) (domain.Order, error) {
	loc := s.clock.Location()
	pickup, err := ParsePickupTime(pickupRaw, loc)
	if err != nil {
		return domain.Order{}, err
	}
	if !pickup.After(s.clock.Now()) {
		return domain.Order{}, fmt.Errorf("%w: pickup_time must be in the future", domain.ErrInvalidInput)
	}
	exempt, err := s.roles.IsExempt(ctx, userID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("role lookup: %w", err)
	}

	var order domain.Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		cart, err := tx.Carts().Lock(ctx, userID)
		if err != nil {
			return err
		}
		snap, err := s.carts.snapshot(ctx, tx, cart)
		if err != nil {
			return err
		}
		if snap.IsEmpty() {
			return domain.ErrEmptyCart
		}

		day := domain.ServiceDayOf(s.clock.Now(), loc)
		var res *Reservation
		if !exempt {
			res, err = s.quotas.TryReserve(ctx, tx, userID, day)
			if err != nil {
				return err
			}
		}

		debited, err := s.wallets.debit(ctx, tx, userID, snap.Total, RefCheckout)
		if err != nil {
			return err
		}
		if debited < snap.Total {
			s.quotas.Discard(res)
			return fmt.Errorf("%w: balance covers %s of %s", domain.ErrInsufficientFunds, debited, snap.Total)
		}

		order, err = s.orders.CreateFromCart(ctx, tx, userID, snap, pickup, day, debited)
		if err != nil {
			return err
		}
		if err := s.quotas.Commit(ctx, tx, res); err != nil {
			return err
		}
		if _, err := tx.Carts().ClearLines(ctx, cart.ID); err != nil {
			return err
		}
		return enqueue(ctx, tx, order.ID, domain.EventOrderPaid, domain.OrderPaid{
			OrderID:    order.ID.String(),
			UserID:     userID,
			TotalMinor: order.Total.Int64(),
			PaidMinor:  order.Paid.Int64(),
			ServiceDay: day,
			PickupTime: order.PickupTime,
			Lines:      order.Lines,
		})
	})
	if err != nil {
		s.log.Info("checkout aborted", "user_id", userID, "kind", domain.KindOf(err), "err", err)
		return domain.Order{}, err
	}
	s.log.Info("checkout committed",
		"user_id", userID,
		"order_id", order.ID,
		"total", order.Total.Int64(),
		"service_day", order.ServiceDay.String(),
		"exempt", exempt,
	)
	return order, nil
}

var pickupLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
}

// ParsePickupTime accepts RFC 3339 timestamps and zone-less ISO8601 local
// times; the latter are read in loc.
func ParsePickupTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, domain.ErrInvalidPickupTime
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999Z07:00", raw); err == nil {
		return t, nil
	}
	var errs []error
	for _, layout := range pickupLayouts {
		t, err := time.ParseInLocation(layout, raw, loc)
		if err == nil {
			return t, nil
		}
		errs = append(errs, err)
	}
	return time.Time{}, fmt.Errorf("%w: %q: %w", domain.ErrInvalidPickupTime, raw, errors.Join(errs...))
}
