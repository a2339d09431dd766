package memory

import (
	"context"
	"fmt"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
)

// quotas buffers counter changes like wallets do.
type quotas struct{ t *tx }

func (r quotas) key(userID int64, day domain.ServiceDay) (quotaKey, string) {
	return quotaKey{userID: userID, day: day}, fmt.Sprintf("quota:%d:%s", userID, day)
}

func (r quotas) Get(_ context.Context, userID int64, day domain.ServiceDay) (domain.DailyQuota, error) {
	k, _ := r.key(userID, day)
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.DailyQuota{UserID: userID, ServiceDay: day, PaidCount: s.quotas[k]}, nil
}

func (r quotas) Lock(ctx context.Context, userID int64, day domain.ServiceDay) (domain.DailyQuota, error) {
	k, lockKey := r.key(userID, day)
	if err := r.t.lock(ctx, lockKey); err != nil {
		return domain.DailyQuota{}, err
	}
	if count, ok := r.t.quotaCount[k]; ok {
		return domain.DailyQuota{UserID: userID, ServiceDay: day, PaidCount: count}, nil
	}
	return r.Get(ctx, userID, day)
}

func (r quotas) SetPaidCount(ctx context.Context, userID int64, day domain.ServiceDay, count int) error {
	k, lockKey := r.key(userID, day)
	if err := r.t.lock(ctx, lockKey); err != nil {
		return err
	}
	if r.t.quotaCount == nil {
		r.t.quotaCount = make(map[quotaKey]int)
	}
	if _, buffered := r.t.quotaCount[k]; !buffered {
		s := r.t.s
		r.t.onCommit = append(r.t.onCommit, func() { s.quotas[k] = r.t.quotaCount[k] })
	}
	r.t.quotaCount[k] = count
	return nil
}
