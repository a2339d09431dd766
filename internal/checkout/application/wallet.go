package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
)

const (
	RefTopUp    = "mock-topup"
	RefCheckout = "checkout"
	RefCancel   = "order-cancelled"
)

// WalletLedger owns wallet balances and the transaction log behind them.
// Every balance change holds the wallet row lock and appends its log entry in
// the same transaction, so balance == sum(signed transactions) at commit.
type WalletLedger struct {
	log   *slog.Logger
	store Store
	clock Clock
}

func NewWalletLedger(log *slog.Logger, store Store, clock Clock) *WalletLedger {
	return &WalletLedger{log: log, store: store, clock: clock}
}

// Credit adds amount to the wallet as a TOPUP or REFUND.
func (w *WalletLedger) Credit(ctx context.Context, userID int64, amount money.Money, kind domain.TxKind, ref string) (domain.Wallet, error) {
	var wallet domain.Wallet
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		wallet, err = w.credit(ctx, tx, userID, amount, kind, ref)
		return err
	})
	if err != nil {
		return domain.Wallet{}, err
	}
	w.log.Info("wallet credited", "user_id", userID, "kind", kind, "amount", amount.Int64(), "balance", wallet.Balance.Int64())
	return wallet, nil
}

// TopUp is the mocked funding operation; there is no payment gateway behind it.
func (w *WalletLedger) TopUp(ctx context.Context, userID int64, amount money.Money) (domain.Wallet, error) {
	return w.Credit(ctx, userID, amount, domain.TxTopUp, RefTopUp)
}

// Debit removes min(balance, amount) and returns what was actually removed.
// Callers decide whether a partial debit is acceptable.
func (w *WalletLedger) Debit(ctx context.Context, userID int64, amount money.Money, ref string) (money.Money, error) {
	var debited money.Money
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		debited, err = w.debit(ctx, tx, userID, amount, ref)
		return err
	})
	return debited, err
}

// Balance reads the committed balance. It does not wait for in-flight checkouts.
func (w *WalletLedger) Balance(ctx context.Context, userID int64) (money.Money, error) {
	var balance money.Money
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		wallet, err := tx.Wallets().Get(ctx, userID)
		balance = wallet.Balance
		return err
	})
	return balance, err
}

// Transactions returns the user's ledger, newest first.
func (w *WalletLedger) Transactions(ctx context.Context, userID int64) ([]domain.WalletTransaction, error) {
	var txs []domain.WalletTransaction
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		txs, err = tx.Wallets().Transactions(ctx, userID)
		return err
	})
	return txs, err
}

func (w *WalletLedger) credit(ctx context.Context, tx Tx, userID int64, amount money.Money, kind domain.TxKind, ref string) (domain.Wallet, error) {
	if !amount.IsPositive() {
		return domain.Wallet{}, domain.ErrInvalidAmount
	}
	if !kind.IsCredit() {
		return domain.Wallet{}, fmt.Errorf("%w: %s is not a credit kind", domain.ErrInvalidInput, kind)
	}
	wallet, err := tx.Wallets().Lock(ctx, userID)
	if err != nil {
		return domain.Wallet{}, err
	}
	balance, err := wallet.Balance.CheckedAdd(amount)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("%w: %w", domain.ErrAmountOverflow, err)
	}
	wallet.Balance = balance
	if err := tx.Wallets().SetBalance(ctx, userID, wallet.Balance); err != nil {
		return domain.Wallet{}, err
	}
	_, err = tx.Wallets().AppendTransaction(ctx, domain.WalletTransaction{
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		Ref:       ref,
		CreatedAt: w.clock.Now().UTC(),
	})
	return wallet, err
}

func (w *WalletLedger) debit(ctx context.Context, tx Tx, userID int64, amount money.Money, ref string) (money.Money, error) {
	if amount.IsNegative() {
		return 0, domain.ErrInvalidAmount
	}
	wallet, err := tx.Wallets().Lock(ctx, userID)
	if err != nil {
		return 0, err
	}
	debit := wallet.Balance.Min(amount)
	if debit.IsZero() {
		return 0, nil
	}
	if err := tx.Wallets().SetBalance(ctx, userID, wallet.Balance.Sub(debit)); err != nil {
		return 0, err
	}
	_, err = tx.Wallets().AppendTransaction(ctx, domain.WalletTransaction{
		UserID:    userID,
		Kind:      domain.TxDebit,
		Amount:    debit,
		Ref:       ref,
		CreatedAt: w.clock.Now().UTC(),
	})
	if err != nil {
		return 0, err
	}
	return debit, nil
}
