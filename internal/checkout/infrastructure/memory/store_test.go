package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/application"
	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
	"github.com/dmehra2102/canteen-checkout/pkg/outbox"
)

var errBoom = errors.New("boom")

func TestRollbackRestoresInPlaceChanges(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := domain.ServiceDay{Year: 2025, Month: time.October, Day: 25}

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		cart, err := tx.Carts().Get(ctx, 1)
		require.NoError(t, err)
		_, err = tx.Carts().UpsertLine(ctx, cart.ID, 10, 2)
		require.NoError(t, err)
		_, err = tx.Wallets().Lock(ctx, 1)
		require.NoError(t, err)
		return tx.Wallets().SetBalance(ctx, 1, money.Minor(5000))
	}))

	err := s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		cart, err := tx.Carts().Lock(ctx, 1)
		require.NoError(t, err)
		_, err = tx.Carts().UpsertLine(ctx, cart.ID, 10, 3)
		require.NoError(t, err)
		_, err = tx.Carts().UpsertLine(ctx, cart.ID, 11, 1)
		require.NoError(t, err)
		_, err = tx.Carts().ClearLines(ctx, cart.ID)
		require.NoError(t, err)
		require.NoError(t, tx.Wallets().SetBalance(ctx, 1, money.Minor(100)))
		_, err = tx.Wallets().AppendTransaction(ctx, domain.WalletTransaction{UserID: 1, Kind: domain.TxDebit, Amount: money.Minor(4900)})
		require.NoError(t, err)
		_, err = tx.Quotas().Lock(ctx, 1, day)
		require.NoError(t, err)
		require.NoError(t, tx.Quotas().SetPaidCount(ctx, 1, day, 1))
		require.NoError(t, tx.Orders().Insert(ctx, domain.Order{ID: uuid.New(), UserID: 1}))
		require.NoError(t, tx.Outbox().Enqueue(ctx, outbox.Event{Type: "OrderPaid"}))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		cart, err := tx.Carts().Get(ctx, 1)
		require.NoError(t, err)
		lines, err := tx.Carts().Lines(ctx, cart.ID)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, 2, lines[0].Quantity)

		w, err := tx.Wallets().Lock(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, money.Minor(5000), w.Balance)
		txs, err := tx.Wallets().Transactions(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, txs)

		q, err := tx.Quotas().Lock(ctx, 1, day)
		require.NoError(t, err)
		assert.Zero(t, q.PaidCount)

		orders, err := tx.Orders().ListByUser(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, orders)
		return nil
	}))
	assert.Empty(t, s.Events())
}

func TestPanicRollsBackAndReleasesLocks(t *testing.T) {
	s := New(WithLockTimeout(50 * time.Millisecond))
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
			_, _ = tx.Wallets().Lock(ctx, 1)
			_ = tx.Wallets().SetBalance(ctx, 1, money.Minor(10))
			panic("boom")
		})
	})

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		w, err := tx.Wallets().Lock(ctx, 1)
		require.NoError(t, err)
		assert.True(t, w.Balance.IsZero())
		return nil
	}))
}

func TestLockTimeoutIsConflict(t *testing.T) {
	s := New(WithLockTimeout(20 * time.Millisecond))
	ctx := context.Background()
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
			if _, err := tx.Wallets().Lock(ctx, 7); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		_, err := tx.Wallets().Lock(ctx, 7)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	close(release)
	require.NoError(t, <-done)
}

func TestUncommittedOrdersAreInvisible(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := uuid.New()
	inserted := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
			if err := tx.Orders().Insert(ctx, domain.Order{ID: id, UserID: 3, Status: domain.StatusPaid}); err != nil {
				return err
			}
			o, err := tx.Orders().Get(ctx, id)
			if err != nil {
				return err
			}
			if o.ID != id {
				return errBoom
			}
			close(inserted)
			<-finish
			return nil
		})
	}()
	<-inserted

	err := s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		_, err := tx.Orders().Get(ctx, id)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	close(finish)
	require.NoError(t, <-done)
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		_, err := tx.Orders().Get(ctx, id)
		return err
	}))
}

func TestBufferedBalanceVisibleToOwnTx(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := domain.ServiceDay{Year: 2025, Month: time.October, Day: 25}

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		_, err := tx.Wallets().Lock(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, tx.Wallets().SetBalance(ctx, 1, money.Minor(700)))
		w, err := tx.Wallets().Lock(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, money.Minor(700), w.Balance)

		committed, err := tx.Wallets().Get(ctx, 1)
		require.NoError(t, err)
		assert.True(t, committed.Balance.IsZero())

		require.NoError(t, tx.Quotas().SetPaidCount(ctx, 1, day, 2))
		q, err := tx.Quotas().Lock(ctx, 1, day)
		require.NoError(t, err)
		assert.Equal(t, 2, q.PaidCount)
		return nil
	}))

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		w, err := tx.Wallets().Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, money.Minor(700), w.Balance)
		q, err := tx.Quotas().Get(ctx, 1, day)
		require.NoError(t, err)
		assert.Equal(t, 2, q.PaidCount)
		return nil
	}))
}

func TestListOrdersNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 10, 25, 9, 0, 0, 0, time.UTC)
	older := domain.Order{ID: uuid.New(), UserID: 1, Status: domain.StatusPaid, CreatedAt: base}
	newer := domain.Order{ID: uuid.New(), UserID: 2, Status: domain.StatusPaid, CreatedAt: base.Add(time.Minute)}

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		require.NoError(t, tx.Orders().Insert(ctx, newer))
		return tx.Orders().Insert(ctx, older)
	}))

	err := s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		require.NoError(t, tx.Orders().SetStatus(ctx, older.ID, domain.StatusReady))
		sameInstant := domain.Order{ID: uuid.New(), UserID: 3, Status: domain.StatusPaid, CreatedAt: newer.CreatedAt}
		require.NoError(t, tx.Orders().Insert(ctx, sameInstant))

		all, err := tx.Orders().List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []uuid.UUID{sameInstant.ID, newer.ID, older.ID}, []uuid.UUID{all[0].ID, all[1].ID, all[2].ID})

		ready := domain.StatusReady
		filtered, err := tx.Orders().List(ctx, &ready)
		require.NoError(t, err)
		require.Len(t, filtered, 1)
		assert.Equal(t, older.ID, filtered[0].ID)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		all, err := tx.Orders().List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, 2, "rolled back insert is gone")
		assert.Equal(t, domain.StatusPaid, all[1].Status)
		return nil
	}))
}

func TestOutboxRelayStore(t *testing.T) {
	now := time.Date(2025, 10, 25, 9, 0, 0, 0, time.UTC)
	s := New(WithNow(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		for range 3 {
			if err := tx.Outbox().Enqueue(ctx, outbox.Event{Type: "OrderPaid", AggregateID: "o"}); err != nil {
				return err
			}
		}
		return nil
	}))

	batch, err := s.LockBatch(ctx, "r1", 2, time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, []int64{1, 2}, []int64{batch[0].ID, batch[1].ID})

	again, err := s.LockBatch(ctx, "r2", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, int64(3), again[0].ID)

	require.NoError(t, s.MarkSent(ctx, []int64{1}))
	require.NoError(t, s.MarkFailed(ctx, 2, "broker down"))

	now = now.Add(2 * time.Second)
	retry, err := s.LockBatch(ctx, "r1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, retry, 2)
	assert.Equal(t, int64(2), retry[0].ID)
	assert.Equal(t, 1, retry[0].RetryCount)
	assert.Equal(t, int64(3), retry[1].ID, "expired lease is reclaimed")

	events := s.Events()
	assert.Equal(t, outbox.StatusSent, events[0].Status)
}

func TestCatalogAndRoles(t *testing.T) {
	c := NewCatalog()
	ctx := context.Background()
	c.Put(domain.Item{ID: 1, Name: "Tea", UnitPrice: money.Minor(300)}, true)

	it, err := c.GetActiveItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Tea", it.Name)

	c.SetActive(1, false)
	_, err = c.GetActiveItem(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = c.GetActiveItem(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	r := NewRoles(5)
	staff, err := r.IsExempt(ctx, 5)
	require.NoError(t, err)
	assert.True(t, staff)
	staff, err = r.IsExempt(ctx, 6)
	require.NoError(t, err)
	assert.False(t, staff)
}
