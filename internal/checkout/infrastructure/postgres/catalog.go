package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
)

// Catalog reads items outside of checkout transactions; prices are read at
// snapshot time, not locked.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog { return &Catalog{pool: pool} }

func (c *Catalog) GetActiveItem(ctx context.Context, itemID int64) (domain.Item, error) {
	var (
		it    domain.Item
		price int64
	)
	err := c.pool.QueryRow(ctx, `SELECT id, name, price_minor FROM items WHERE id=$1 AND is_active`, itemID).
		Scan(&it.ID, &it.Name, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, err
	}
	it.UnitPrice = money.Minor(price)
	return it, nil
}

// Roles treats users.is_staff as quota exemption. Unknown users are not exempt.
type Roles struct {
	pool *pgxpool.Pool
}

func NewRoles(pool *pgxpool.Pool) *Roles { return &Roles{pool: pool} }

func (r *Roles) IsExempt(ctx context.Context, userID int64) (bool, error) {
	var staff bool
	err := r.pool.QueryRow(ctx, `SELECT is_staff FROM users WHERE id=$1`, userID).Scan(&staff)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return staff, err
}
