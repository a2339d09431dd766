package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/application"
	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/internal/checkout/infrastructure/memory"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
	"github.com/dmehra2102/canteen-checkout/pkg/outbox"
)

const (
	shawarmaID int64 = 1
	chaiID     int64 = 2
	student    int64 = 100
	staff      int64 = 900
)

var gst = time.FixedZone("GST", 4*60*60)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Location() *time.Location { return gst }

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type env struct {
	store   *memory.Store
	catalog *memory.Catalog
	roles   *memory.Roles
	clock   *fakeClock

	carts   *application.CartStore
	wallets *application.WalletLedger
	quotas  *application.QuotaLedger
	orders  *application.OrderBook
	coord   *application.SettlementCoordinator
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// pickup is a valid pickup time relative to the default test clock.
const pickup = "2025-10-25T13:00:00"

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithStore(t, nil)
}

// newEnvWithStore builds the services on top of wrap(store) when wrap is set.
func newEnvWithStore(t *testing.T, wrap func(application.Store) application.Store) *env {
	t.Helper()
	e := &env{
		store:   memory.New(memory.WithLockTimeout(2 * time.Second)),
		catalog: memory.NewCatalog(),
		roles:   memory.NewRoles(staff),
		clock:   &fakeClock{now: time.Date(2025, 10, 25, 9, 0, 0, 0, gst)},
	}
	e.catalog.Put(domain.Item{ID: shawarmaID, Name: "Chicken Shawarma", UnitPrice: money.Minor(3500)}, true)
	e.catalog.Put(domain.Item{ID: chaiID, Name: "Karak Chai", UnitPrice: money.Minor(300)}, true)

	var store application.Store = e.store
	if wrap != nil {
		store = wrap(store)
	}
	log := discardLogger()
	e.carts = application.NewCartStore(log, store, e.catalog)
	e.wallets = application.NewWalletLedger(log, store, e.clock)
	e.quotas = application.NewQuotaLedger(store, application.DefaultDailyLimit)
	e.orders = application.NewOrderBook(log, store, e.wallets, e.roles, e.clock)
	e.coord = application.NewSettlementCoordinator(log, store, e.carts, e.wallets, e.quotas, e.orders, e.roles, e.clock)
	return e
}

func (e *env) today() domain.ServiceDay {
	return domain.ServiceDayOf(e.clock.Now(), gst)
}

func (e *env) fund(t *testing.T, userID int64, amount int64) {
	t.Helper()
	_, err := e.wallets.TopUp(context.Background(), userID, money.Minor(amount))
	require.NoError(t, err)
}

func (e *env) add(t *testing.T, userID, itemID int64, qty int) {
	t.Helper()
	_, err := e.carts.AddOrIncrement(context.Background(), userID, itemID, qty)
	require.NoError(t, err)
}

func (e *env) balance(t *testing.T, userID int64) money.Money {
	t.Helper()
	b, err := e.wallets.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (e *env) paidCount(t *testing.T, userID int64) int {
	t.Helper()
	q, err := e.quotas.Usage(context.Background(), userID, e.today())
	require.NoError(t, err)
	return q.PaidCount
}

// setPaidCount forces today's counter, standing in for earlier checkouts.
func (e *env) setPaidCount(t *testing.T, userID int64, n int) {
	t.Helper()
	require.NoError(t, e.store.WithinTx(context.Background(), func(ctx context.Context, tx application.Tx) error {
		if _, err := tx.Quotas().Lock(ctx, userID, e.today()); err != nil {
			return err
		}
		return tx.Quotas().SetPaidCount(ctx, userID, e.today(), n)
	}))
}

var errOutboxDown = errors.New("outbox unavailable")

// failingOutboxStore fails every transaction at its last step, after all
// ledgers have been written.
type failingOutboxStore struct{ application.Store }

func (s failingOutboxStore) WithinTx(ctx context.Context, fn func(context.Context, application.Tx) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx application.Tx) error {
		return fn(ctx, failingOutboxTx{tx})
	})
}

type failingOutboxTx struct{ application.Tx }

func (t failingOutboxTx) Outbox() application.OutboxWriter { return failingWriter{} }

type failingWriter struct{}

func (failingWriter) Enqueue(context.Context, outbox.Event) error { return errOutboxDown }
