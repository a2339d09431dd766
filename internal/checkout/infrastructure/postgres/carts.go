package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
)

type carts struct{ tx pgx.Tx }

func (r carts) ensure(ctx context.Context, userID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	return err
}

// Get takes a share lock: cart edits run concurrently with each other but
// never inside a checkout of the same cart.
func (r carts) Get(ctx context.Context, userID int64) (domain.Cart, error) {
	return r.selectCart(ctx, userID, `SELECT id, user_id FROM carts WHERE user_id=$1 FOR SHARE`)
}

func (r carts) Lock(ctx context.Context, userID int64) (domain.Cart, error) {
	return r.selectCart(ctx, userID, `SELECT id, user_id FROM carts WHERE user_id=$1 FOR UPDATE`)
}

func (r carts) selectCart(ctx context.Context, userID int64, query string) (domain.Cart, error) {
	if err := r.ensure(ctx, userID); err != nil {
		return domain.Cart{}, err
	}
	var c domain.Cart
	if err := r.tx.QueryRow(ctx, query, userID).Scan(&c.ID, &c.UserID); err != nil {
		return domain.Cart{}, err
	}
	return c, nil
}

func (r carts) UpsertLine(ctx context.Context, cartID, itemID int64, qty int) (domain.CartLine, error) {
	var l domain.CartLine
	err := r.tx.QueryRow(ctx, `
		INSERT INTO cart_lines (cart_id, item_id, qty) VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, item_id) DO UPDATE SET qty = cart_lines.qty + EXCLUDED.qty
		RETURNING id, cart_id, item_id, qty
	`, cartID, itemID, qty).Scan(&l.ID, &l.CartID, &l.ItemID, &l.Quantity)
	return l, err
}

func (r carts) SetLineQuantity(ctx context.Context, cartID, lineID int64, qty int) (domain.CartLine, error) {
	var l domain.CartLine
	err := r.tx.QueryRow(ctx, `
		UPDATE cart_lines SET qty=$3 WHERE id=$2 AND cart_id=$1
		RETURNING id, cart_id, item_id, qty
	`, cartID, lineID, qty).Scan(&l.ID, &l.CartID, &l.ItemID, &l.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CartLine{}, domain.ErrCartLineNotFound
	}
	return l, err
}

func (r carts) DeleteLine(ctx context.Context, cartID, lineID int64) error {
	ct, err := r.tx.Exec(ctx, `DELETE FROM cart_lines WHERE id=$2 AND cart_id=$1`, cartID, lineID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrCartLineNotFound
	}
	return nil
}

func (r carts) ClearLines(ctx context.Context, cartID int64) (int, error) {
	ct, err := r.tx.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id=$1`, cartID)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (r carts) Lines(ctx context.Context, cartID int64) ([]domain.CartLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, cart_id, item_id, qty FROM cart_lines WHERE cart_id=$1 ORDER BY id`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ID, &l.CartID, &l.ItemID, &l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
