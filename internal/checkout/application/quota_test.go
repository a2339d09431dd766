package application_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/application"
	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
)

func TestQuotaReserveCommit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	day := e.today()

	for i := range application.DefaultDailyLimit {
		require.NoError(t, e.store.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
			r, err := e.quotas.TryReserve(ctx, tx, student, day)
			if err != nil {
				return err
			}
			return e.quotas.Commit(ctx, tx, r)
		}), "reservation %d", i+1)
	}

	err := e.store.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		_, err := e.quotas.TryReserve(ctx, tx, student, day)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, application.DefaultDailyLimit, e.paidCount(t, student))
}

func TestQuotaDiscardDoesNotCount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.store.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		r, err := e.quotas.TryReserve(ctx, tx, student, e.today())
		if err != nil {
			return err
		}
		e.quotas.Discard(r)
		return e.quotas.Commit(ctx, tx, r)
	}))
	assert.Zero(t, e.paidCount(t, student))
}

func TestConcurrentReservationsNeverExceedLimit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	day := e.today()

	const attempts = 9
	var (
		wg       sync.WaitGroup
		ok       atomic.Int64
		exceeded atomic.Int64
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.store.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
				r, err := e.quotas.TryReserve(ctx, tx, student, day)
				if err != nil {
					return err
				}
				return e.quotas.Commit(ctx, tx, r)
			})
			switch {
			case err == nil:
				ok.Add(1)
			case domain.KindOf(err) == domain.KindQuotaExceeded:
				exceeded.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(application.DefaultDailyLimit), ok.Load())
	assert.Equal(t, int64(attempts-application.DefaultDailyLimit), exceeded.Load())
	assert.Equal(t, application.DefaultDailyLimit, e.paidCount(t, student))
}

func TestNewQuotaLedgerDefaultsLimit(t *testing.T) {
	assert.Equal(t, application.DefaultDailyLimit, application.NewQuotaLedger(nil, 0).Limit())
	assert.Equal(t, 2, application.NewQuotaLedger(nil, 2).Limit())
}
