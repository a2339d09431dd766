package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
)

type wallets struct{ tx pgx.Tx }

func (r wallets) Get(ctx context.Context, userID int64) (domain.Wallet, error) {
	var balance int64
	err := r.tx.QueryRow(ctx, `SELECT balance_minor FROM wallets WHERE user_id=$1`, userID).Scan(&balance)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.Wallet{}, err
	}
	return domain.Wallet{UserID: userID, Balance: money.Minor(balance)}, nil
}

func (r wallets) Lock(ctx context.Context, userID int64) (domain.Wallet, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return domain.Wallet{}, err
	}
	var balance int64
	if err := r.tx.QueryRow(ctx, `SELECT balance_minor FROM wallets WHERE user_id=$1 FOR UPDATE`, userID).Scan(&balance); err != nil {
		return domain.Wallet{}, err
	}
	return domain.Wallet{UserID: userID, Balance: money.Minor(balance)}, nil
}

func (r wallets) SetBalance(ctx context.Context, userID int64, balance money.Money) error {
	_, err := r.tx.Exec(ctx, `UPDATE wallets SET balance_minor=$2, updated_at=now() WHERE user_id=$1`, userID, balance.Int64())
	return err
}

func (r wallets) AppendTransaction(ctx context.Context, wt domain.WalletTransaction) (domain.WalletTransaction, error) {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (user_id, kind, amount_minor, ref, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, wt.UserID, string(wt.Kind), wt.Amount.Int64(), wt.Ref, wt.CreatedAt).Scan(&wt.ID)
	return wt, err
}

func (r wallets) Transactions(ctx context.Context, userID int64) ([]domain.WalletTransaction, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, user_id, kind, amount_minor, ref, created_at
		FROM wallet_transactions
		WHERE user_id=$1
		ORDER BY id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WalletTransaction
	for rows.Next() {
		var (
			wt     domain.WalletTransaction
			kind   string
			amount int64
		)
		if err := rows.Scan(&wt.ID, &wt.UserID, &kind, &amount, &wt.Ref, &wt.CreatedAt); err != nil {
			return nil, err
		}
		wt.Kind = domain.TxKind(kind)
		wt.Amount = money.Minor(amount)
		out = append(out, wt)
	}
	return out, rows.Err()
}
