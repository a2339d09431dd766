// Package memory is an in-process implementation of the checkout store.
//
// Cart lines change in place under the cart lock and record an undo step.
// Wallet balances, quota counters and append-only rows (orders, wallet
// transactions, outbox events) are buffered in the transaction and published
// on commit, so unlocked reads never see uncommitted data.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/application"
	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
	"github.com/dmehra2102/canteen-checkout/pkg/outbox"
)

const DefaultLockTimeout = 3 * time.Second

type quotaKey struct {
	userID int64
	day    domain.ServiceDay
}

type Store struct {
	locks       *lockManager
	lockTimeout time.Duration
	now         func() time.Time

	mu sync.Mutex

	cartSeq int64
	lineSeq int64
	carts   map[int64]domain.Cart // by user id
	lines   map[int64][]domain.CartLine

	wallets  map[int64]money.Money
	walletTx []domain.WalletTransaction
	txSeq    int64

	quotas map[quotaKey]int

	orders       map[uuid.UUID]domain.Order
	ordersByUser map[int64][]uuid.UUID
	orderLog     []uuid.UUID

	outboxSeq int64
	events    []outbox.Event
	leases    map[int64]time.Time
}

type Option func(*Store)

// WithLockTimeout bounds how long a transaction waits for a row lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		locks:        newLockManager(),
		lockTimeout:  DefaultLockTimeout,
		now:          time.Now,
		carts:        make(map[int64]domain.Cart),
		lines:        make(map[int64][]domain.CartLine),
		wallets:      make(map[int64]money.Money),
		quotas:       make(map[quotaKey]int),
		orders:       make(map[uuid.UUID]domain.Order),
		ordersByUser: make(map[int64][]uuid.UUID),
		leases:       make(map[int64]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ application.Store = (*Store)(nil)

func (s *Store) Ping(context.Context) error { return nil }

// WithinTx runs fn as one transaction. A returned error or a panic rolls back
// every in-place change and drops buffered rows.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) (err error) {
	t := &tx{s: s, held: make(map[string]struct{})}
	defer t.releaseLocks()
	defer func() {
		if p := recover(); p != nil {
			t.rollback()
			panic(p)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	t.commit()
	return nil
}

type tx struct {
	s     *Store
	held  map[string]struct{}
	order []string

	undo     []func()
	onCommit []func()

	pendingOrders   []domain.Order
	pendingStatus   map[uuid.UUID]domain.OrderStatus
	pendingWalletTx []domain.WalletTransaction
	walletBal       map[int64]money.Money
	quotaCount      map[quotaKey]int
}

func (t *tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key, t.s.lockTimeout); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	t.order = append(t.order, key)
	return nil
}

func (t *tx) releaseLocks() {
	for _, key := range slices.Backward(t.order) {
		t.s.locks.release(key)
	}
	t.held = nil
	t.order = nil
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, undo := range slices.Backward(t.undo) {
		undo()
	}
	t.undo = nil
	t.onCommit = nil
}

func (t *tx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, apply := range t.onCommit {
		apply()
	}
	t.undo = nil
	t.onCommit = nil
}

func (t *tx) Carts() application.CartRepository     { return carts{t} }
func (t *tx) Wallets() application.WalletRepository { return wallets{t} }
func (t *tx) Quotas() application.QuotaRepository   { return quotas{t} }
func (t *tx) Orders() application.OrderRepository   { return orders{t} }
func (t *tx) Outbox() application.OutboxWriter      { return outboxWriter{t} }

// lockManager hands out one exclusive lock per key. Waiting respects both
// the caller's context and the store lock timeout.
type lockManager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newLockManager() *lockManager {
	return &lockManager{locks: make(map[string]chan struct{})}
}

func (m *lockManager) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[key] = ch
	}
	return ch
}

func (m *lockManager) acquire(ctx context.Context, key string, timeout time.Duration) error {
	ch := m.slot(key)
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: lock %s not acquired within %s", domain.ErrConflict, key, timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: lock %s: %w", domain.ErrConflict, key, ctx.Err())
	}
}

func (m *lockManager) release(key string) {
	<-m.slot(key)
}
