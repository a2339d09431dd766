package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
)

// CartStore owns a user's draft selections.
type CartStore struct {
	log     *slog.Logger
	store   Store
	catalog Catalog
}

func NewCartStore(log *slog.Logger, store Store, catalog Catalog) *CartStore {
	return &CartStore{log: log, store: store, catalog: catalog}
}

// AddOrIncrement adds qty of item to the cart, merging into an existing line.
// The merged quantity may not exceed domain.MaxLineQuantity.
func (c *CartStore) AddOrIncrement(ctx context.Context, userID, itemID int64, qty int) (domain.SnapshotLine, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.SnapshotLine{}, err
	}
	item, err := c.catalog.GetActiveItem(ctx, itemID)
	if err != nil {
		return domain.SnapshotLine{}, err
	}

	var priced domain.SnapshotLine
	err = c.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		cart, err := tx.Carts().Get(ctx, userID)
		if err != nil {
			return err
		}
		line, err := tx.Carts().UpsertLine(ctx, cart.ID, itemID, qty)
		if err != nil {
			return err
		}
		if line.Quantity > domain.MaxLineQuantity {
			return fmt.Errorf("%w: line would hold %d, limit is %d", domain.ErrQuantityTooLarge, line.Quantity, domain.MaxLineQuantity)
		}
		priced, err = domain.NewSnapshotLine(line, item)
		return err
	})
	if err != nil {
		return domain.SnapshotLine{}, err
	}
	c.log.Debug("cart line upserted", "user_id", userID, "item_id", itemID, "qty", priced.Quantity)
	return priced, nil
}

// SetQuantity replaces the quantity of one of the user's cart lines. The line
// is priced inside the same transaction, so an unavailable item leaves it untouched.
func (c *CartStore) SetQuantity(ctx context.Context, userID, lineID int64, qty int) (domain.SnapshotLine, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.SnapshotLine{}, err
	}
	var priced domain.SnapshotLine
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		cart, err := tx.Carts().Get(ctx, userID)
		if err != nil {
			return err
		}
		line, err := tx.Carts().SetLineQuantity(ctx, cart.ID, lineID, qty)
		if err != nil {
			return err
		}
		item, err := c.catalog.GetActiveItem(ctx, line.ItemID)
		if err != nil {
			return err
		}
		priced, err = domain.NewSnapshotLine(line, item)
		return err
	})
	if err != nil {
		return domain.SnapshotLine{}, err
	}
	return priced, nil
}

// RemoveLine deletes one line and returns the remaining cart.
func (c *CartStore) RemoveLine(ctx context.Context, userID, lineID int64) (domain.CartSnapshot, error) {
	var snap domain.CartSnapshot
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		cart, err := tx.Carts().Get(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.Carts().DeleteLine(ctx, cart.ID, lineID); err != nil {
			return err
		}
		snap, err = c.snapshot(ctx, tx, cart)
		return err
	})
	return snap, err
}

// Clear removes every line from the user's cart.
func (c *CartStore) Clear(ctx context.Context, userID int64) (domain.CartSnapshot, error) {
	var cartID int64
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		cart, err := tx.Carts().Get(ctx, userID)
		if err != nil {
			return err
		}
		cartID = cart.ID
		_, err = tx.Carts().ClearLines(ctx, cart.ID)
		return err
	})
	if err != nil {
		return domain.CartSnapshot{}, err
	}
	return domain.CartSnapshot{CartID: cartID}, nil
}

// Snapshot prices the current cart lines against the live catalog.
func (c *CartStore) Snapshot(ctx context.Context, userID int64) (domain.CartSnapshot, error) {
	var snap domain.CartSnapshot
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		cart, err := tx.Carts().Get(ctx, userID)
		if err != nil {
			return err
		}
		snap, err = c.snapshot(ctx, tx, cart)
		return err
	})
	return snap, err
}

func (c *CartStore) snapshot(ctx context.Context, tx Tx, cart domain.Cart) (domain.CartSnapshot, error) {
	lines, err := tx.Carts().Lines(ctx, cart.ID)
	if err != nil {
		return domain.CartSnapshot{}, err
	}
	priced := make([]domain.SnapshotLine, 0, len(lines))
	for _, l := range lines {
		item, err := c.catalog.GetActiveItem(ctx, l.ItemID)
		if err != nil {
			return domain.CartSnapshot{}, fmt.Errorf("price cart line %d: %w", l.ID, err)
		}
		line, err := domain.NewSnapshotLine(l, item)
		if err != nil {
			return domain.CartSnapshot{}, err
		}
		priced = append(priced, line)
	}
	return domain.NewCartSnapshot(cart.ID, priced)
}
