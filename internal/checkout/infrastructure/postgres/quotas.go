package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
)

type quotas struct{ tx pgx.Tx }

func (r quotas) Get(ctx context.Context, userID int64, day domain.ServiceDay) (domain.DailyQuota, error) {
	q := domain.DailyQuota{UserID: userID, ServiceDay: day}
	err := r.tx.QueryRow(ctx, `
		SELECT paid_count FROM daily_quota WHERE user_id=$1 AND service_day=$2
	`, userID, day.Time()).Scan(&q.PaidCount)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.DailyQuota{}, err
	}
	return q, nil
}

func (r quotas) Lock(ctx context.Context, userID int64, day domain.ServiceDay) (domain.DailyQuota, error) {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO daily_quota (user_id, service_day) VALUES ($1, $2)
		ON CONFLICT (user_id, service_day) DO NOTHING
	`, userID, day.Time())
	if err != nil {
		return domain.DailyQuota{}, err
	}
	q := domain.DailyQuota{UserID: userID, ServiceDay: day}
	err = r.tx.QueryRow(ctx, `
		SELECT paid_count FROM daily_quota WHERE user_id=$1 AND service_day=$2 FOR UPDATE
	`, userID, day.Time()).Scan(&q.PaidCount)
	return q, err
}

func (r quotas) SetPaidCount(ctx context.Context, userID int64, day domain.ServiceDay, count int) error {
	_, err := r.tx.Exec(ctx, `UPDATE daily_quota SET paid_count=$3 WHERE user_id=$1 AND service_day=$2`, userID, day.Time(), count)
	return err
}
