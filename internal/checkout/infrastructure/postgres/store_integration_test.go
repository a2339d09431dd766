//go:build integration

package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/application"
	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/internal/checkout/infrastructure/postgres"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
	"github.com/dmehra2102/canteen-checkout/test/integration"
)

var gst = time.FixedZone("GST", 4*60*60)

type services struct {
	env     *integration.Env
	pool    *pgxpool.Pool
	store   *postgres.Store
	carts   *application.CartStore
	wallets *application.WalletLedger
	quotas  *application.QuotaLedger
	orders  *application.OrderBook
	coord   *application.SettlementCoordinator
}

func setup(t *testing.T) *services {
	t.Helper()
	ctx := context.Background()

	env, err := integration.SetupPostgres(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { env.Teardown(context.Background()) })

	require.NoError(t, postgres.Migrate(env.PGURL))
	pool, err := postgres.Connect(ctx, env.PGURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		INSERT INTO users (id, username, is_staff) VALUES (1, 'student', false), (2, 'staff', true);
		INSERT INTO items (id, name, price_minor) VALUES (1, 'Chicken Shawarma', 3500), (2, 'Karak Chai', 300);
	`)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := application.NewSystemClock(gst)
	store := postgres.NewStore(log, pool, 5*time.Second)
	catalog := postgres.NewCatalog(pool)
	roles := postgres.NewRoles(pool)

	s := &services{env: env, pool: pool, store: store}
	s.carts = application.NewCartStore(log, store, catalog)
	s.wallets = application.NewWalletLedger(log, store, clock)
	s.quotas = application.NewQuotaLedger(store, application.DefaultDailyLimit)
	s.orders = application.NewOrderBook(log, store, s.wallets, roles, clock)
	s.coord = application.NewSettlementCoordinator(log, store, s.carts, s.wallets, s.quotas, s.orders, roles, clock)
	return s
}

func pickup() string { return time.Now().Add(2 * time.Hour).Format(time.RFC3339) }

func TestPostgresCheckout(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	_, err := s.wallets.TopUp(ctx, 1, money.Minor(3000))
	require.NoError(t, err)
	_, err = s.carts.AddOrIncrement(ctx, 1, 1, 2)
	require.NoError(t, err)

	_, err = s.coord.Checkout(ctx, 1, pickup())
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	balance, err := s.wallets.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, money.Minor(3000), balance)

	_, err = s.wallets.TopUp(ctx, 1, money.Minor(7000))
	require.NoError(t, err)
	order, err := s.coord.Checkout(ctx, 1, pickup())
	require.NoError(t, err)
	assert.Equal(t, money.Minor(7000), order.Paid)

	balance, err = s.wallets.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, money.Minor(3000), balance)

	got, err := s.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "Chicken Shawarma", got.Lines[0].ItemName)
	assert.Equal(t, order.ServiceDay, got.ServiceDay)

	txs, err := s.wallets.Transactions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, balance, domain.LedgerBalance(txs))

	var outboxRows int
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE type=$1`, domain.EventOrderPaid).Scan(&outboxRows))
	assert.Equal(t, 1, outboxRows)

	cancelled, err := s.orders.UpdateStatus(ctx, 2, order.ID, domain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	balance, err = s.wallets.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, money.Minor(10000), balance)

	status := domain.StatusCancelled
	listed, err := s.orders.ListAll(ctx, 2, &status)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, order.ID, listed[0].ID)
	require.Len(t, listed[0].Lines, 1)
	_, err = s.orders.ListAll(ctx, 1, nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	staffBalance, err := s.wallets.Balance(ctx, 2)
	require.NoError(t, err)
	assert.True(t, staffBalance.IsZero())
	var wallets int
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT count(*) FROM wallets WHERE user_id=2`).Scan(&wallets))
	assert.Zero(t, wallets, "reading a balance does not create the wallet")
}

func TestPostgresConcurrentAdds(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.carts.AddOrIncrement(ctx, 1, 2, 2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := s.carts.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 40, snap.Lines[0].Quantity)
}

func TestPostgresConcurrentQuota(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	day := domain.ServiceDayOf(time.Now(), gst)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		exceeded int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
				r, err := s.quotas.TryReserve(ctx, tx, 1, day)
				if err != nil {
					return err
				}
				return s.quotas.Commit(ctx, tx, r)
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if domain.KindOf(err) == domain.KindQuotaExceeded {
				exceeded++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, application.DefaultDailyLimit, ok)
	assert.Equal(t, 3, exceeded)
	q, err := s.quotas.Usage(ctx, 1, day)
	require.NoError(t, err)
	assert.Equal(t, application.DefaultDailyLimit, q.PaidCount)
}

func TestPostgresDuplicateCheckout(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	_, err := s.wallets.TopUp(ctx, 1, money.Minor(10000))
	require.NoError(t, err)
	_, err = s.carts.AddOrIncrement(ctx, 1, 1, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.coord.Checkout(ctx, 1, pickup())
		}()
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	balance, err := s.wallets.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, money.Minor(3000), balance)
}
