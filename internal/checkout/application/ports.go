package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
	"github.com/dmehra2102/canteen-checkout/pkg/outbox"
)

// Store is the transactional store shared by every ledger. WithinTx runs fn in
// one atomic unit: if fn returns an error everything it wrote is rolled back and
// every lock it took is released.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Carts() CartRepository
	Wallets() WalletRepository
	Quotas() QuotaRepository
	Orders() OrderRepository
	Outbox() OutboxWriter
}

type CartRepository interface {
	// Get returns the user's cart, creating it if needed. It waits for a
	// checkout holding Lock on the same cart to finish.
	Get(ctx context.Context, userID int64) (domain.Cart, error)
	// Lock returns the user's cart holding an exclusive lock until the transaction ends.
	Lock(ctx context.Context, userID int64) (domain.Cart, error)
	// UpsertLine inserts a line or atomically adds qty to the existing one.
	UpsertLine(ctx context.Context, cartID, itemID int64, qty int) (domain.CartLine, error)
	SetLineQuantity(ctx context.Context, cartID, lineID int64, qty int) (domain.CartLine, error)
	DeleteLine(ctx context.Context, cartID, lineID int64) error
	ClearLines(ctx context.Context, cartID int64) (int, error)
	Lines(ctx context.Context, cartID int64) ([]domain.CartLine, error)
}

type WalletRepository interface {
	// Get reads the committed wallet without locking it. A missing wallet has a zero balance.
	Get(ctx context.Context, userID int64) (domain.Wallet, error)
	// Lock returns the user's wallet, creating it if needed, holding an exclusive lock.
	Lock(ctx context.Context, userID int64) (domain.Wallet, error)
	SetBalance(ctx context.Context, userID int64, balance money.Money) error
	AppendTransaction(ctx context.Context, t domain.WalletTransaction) (domain.WalletTransaction, error)
	Transactions(ctx context.Context, userID int64) ([]domain.WalletTransaction, error)
}

type QuotaRepository interface {
	// Get reads the committed (user, day) counter without locking it.
	Get(ctx context.Context, userID int64, day domain.ServiceDay) (domain.DailyQuota, error)
	// Lock returns the (user, day) counter, creating it at zero if needed, holding an exclusive lock.
	Lock(ctx context.Context, userID int64, day domain.ServiceDay) (domain.DailyQuota, error)
	SetPaidCount(ctx context.Context, userID int64, day domain.ServiceDay, count int) error
}

type OrderRepository interface {
	Insert(ctx context.Context, o domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (domain.Order, error)
	// GetForUpdate loads an order and locks its row.
	GetForUpdate(ctx context.Context, id uuid.UUID) (domain.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Order, error)
	// List returns every order, newest first, optionally only those in status.
	List(ctx context.Context, status *domain.OrderStatus) ([]domain.Order, error)
	SetStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error
}

// OutboxWriter stores events in the same transaction as the state they describe.
type OutboxWriter interface {
	Enqueue(ctx context.Context, ev outbox.Event) error
}

// Catalog is the read-only view of purchasable items.
type Catalog interface {
	GetActiveItem(ctx context.Context, itemID int64) (domain.Item, error)
}

// Roles answers whether a user bypasses the daily order quota.
type Roles interface {
	IsExempt(ctx context.Context, userID int64) (bool, error)
}

// Clock is injectable for deterministic service-day computation.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type systemClock struct{ loc *time.Location }

// NewSystemClock returns a wall clock reporting service days in loc.
func NewSystemClock(loc *time.Location) Clock { return systemClock{loc: loc} }

func (c systemClock) Now() time.Time           { return time.Now() }
func (c systemClock) Location() *time.Location { return c.loc }
