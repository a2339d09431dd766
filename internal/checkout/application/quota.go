package application

import (
	"context"
	"fmt"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
)

const DefaultDailyLimit = 5

// QuotaLedger counts paid orders per (user, service day).
//
// TryReserve locks the counter row for the rest of the surrounding
// transaction, so the check and the later Commit cannot interleave with
// another checkout by the same user. Discard exists for symmetry; rolling back
// the transaction already drops an uncommitted reservation.
type QuotaLedger struct {
	store Store
	limit int
}

func NewQuotaLedger(store Store, limit int) *QuotaLedger {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return &QuotaLedger{store: store, limit: limit}
}

func (q *QuotaLedger) Limit() int { return q.limit }

// Reservation is a locked, not yet counted, slot in a user's daily quota.
type Reservation struct {
	UserID     int64
	ServiceDay domain.ServiceDay
	count      int
	done       bool
}

func (q *QuotaLedger) TryReserve(ctx context.Context, tx Tx, userID int64, day domain.ServiceDay) (*Reservation, error) {
	quota, err := tx.Quotas().Lock(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	if quota.PaidCount >= q.limit {
		return nil, fmt.Errorf("%w: %d of %d orders paid on %s", domain.ErrQuotaExceeded, quota.PaidCount, q.limit, day)
	}
	return &Reservation{UserID: userID, ServiceDay: day, count: quota.PaidCount}, nil
}

// Commit counts the reserved slot. It must run in the transaction that reserved it.
func (q *QuotaLedger) Commit(ctx context.Context, tx Tx, r *Reservation) error {
	if r == nil || r.done {
		return nil
	}
	if err := tx.Quotas().SetPaidCount(ctx, r.UserID, r.ServiceDay, r.count+1); err != nil {
		return err
	}
	r.done = true
	return nil
}

func (q *QuotaLedger) Discard(r *Reservation) {
	if r != nil {
		r.done = true
	}
}

// Usage returns the committed paid-order counter for a user and day.
func (q *QuotaLedger) Usage(ctx context.Context, userID int64, day domain.ServiceDay) (domain.DailyQuota, error) {
	var quota domain.DailyQuota
	err := q.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		quota, err = tx.Quotas().Get(ctx, userID, day)
		return err
	})
	return quota, err
}
