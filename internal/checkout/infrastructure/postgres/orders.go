package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
)

type orders struct{ tx pgx.Tx }

const orderColumns = `id, user_id, status, total_minor, paid_minor, pickup_time, service_day, created_at`

func (r orders) Insert(ctx context.Context, o domain.Order) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, status, total_minor, paid_minor, pickup_time, service_day, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, o.ID, o.UserID, string(o.Status), o.Total.Int64(), o.Paid.Int64(), o.PickupTime, o.ServiceDay.Time(), o.CreatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, l := range o.Lines {
		batch.Queue(`INSERT INTO order_lines (order_id, position, item_name, unit_price_minor, qty, line_total_minor)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, l.Position, l.ItemName, l.UnitPrice.Int64(), l.Quantity, l.LineTotal.Int64())
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r orders) Get(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

func (r orders) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id)
}

func (r orders) getOne(ctx context.Context, query string, id uuid.UUID) (domain.Order, error) {
	o, err := scanOrder(r.tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	lines, err := r.lines(ctx, []uuid.UUID{o.ID})
	if err != nil {
		return domain.Order{}, err
	}
	o.Lines = lines[o.ID]
	return o, nil
}

func (r orders) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC, id`, userID)
}

func (r orders) List(ctx context.Context, status *domain.OrderStatus) ([]domain.Order, error) {
	if status != nil {
		return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE status=$1 ORDER BY created_at DESC, id`, string(*status))
	}
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id`)
}

func (r orders) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	var ids []uuid.UUID
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	lines, err := r.lines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (r orders) SetStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	ct, err := r.tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r orders) lines(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]domain.OrderLine, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT order_id, position, item_name, unit_price_minor, qty, line_total_minor
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]domain.OrderLine, len(ids))
	for rows.Next() {
		var (
			orderID          uuid.UUID
			l                domain.OrderLine
			unitPrice, total int64
		)
		if err := rows.Scan(&orderID, &l.Position, &l.ItemName, &unitPrice, &l.Quantity, &total); err != nil {
			return nil, err
		}
		l.UnitPrice = money.Minor(unitPrice)
		l.LineTotal = money.Minor(total)
		out[orderID] = append(out[orderID], l)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o           domain.Order
		status      string
		total, paid int64
		day         time.Time
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &total, &paid, &o.PickupTime, &day, &o.CreatedAt); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.Total = money.Minor(total)
	o.Paid = money.Minor(paid)
	o.ServiceDay = dayOf(day)
	return o, nil
}
