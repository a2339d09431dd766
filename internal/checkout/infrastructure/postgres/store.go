package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/application"
	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
)

// Store runs every unit of work in one READ COMMITTED transaction. Contention
// is handled with row locks, so a lock wait bounded by lock_timeout surfaces
// as domain.ErrConflict.
type Store struct {
	log         *slog.Logger
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{log: log, pool: pool, lockTimeout: lockTimeout}
}

var _ application.Store = (*Store)(nil)

func Connect(ctx context.Context, pgURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, pgURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
			return mapError(err)
		}
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Carts() application.CartRepository     { return carts{t.tx} }
func (t *pgTx) Wallets() application.WalletRepository { return wallets{t.tx} }
func (t *pgTx) Quotas() application.QuotaRepository   { return quotas{t.tx} }
func (t *pgTx) Orders() application.OrderRepository   { return orders{t.tx} }
func (t *pgTx) Outbox() application.OutboxWriter      { return outboxWriter{t.tx} }

// mapError translates driver errors into domain errors. Domain errors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.Message)
	case "23503":
		return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.Message)
	case "23514":
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, pgErr.Message)
	}
	return err
}

func dayOf(t time.Time) domain.ServiceDay {
	return domain.ServiceDay{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}
