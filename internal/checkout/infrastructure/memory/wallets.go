package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
)

// wallets buffers balance changes in the transaction; they replace the
// committed balance on commit, while the wallet lock is still held.
type wallets struct{ t *tx }

func walletKey(userID int64) string { return fmt.Sprintf("wallet:%d", userID) }

func (r wallets) Get(_ context.Context, userID int64) (domain.Wallet, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Wallet{UserID: userID, Balance: s.wallets[userID]}, nil
}

func (r wallets) Lock(ctx context.Context, userID int64) (domain.Wallet, error) {
	if err := r.t.lock(ctx, walletKey(userID)); err != nil {
		return domain.Wallet{}, err
	}
	if balance, ok := r.t.walletBal[userID]; ok {
		return domain.Wallet{UserID: userID, Balance: balance}, nil
	}
	return r.Get(ctx, userID)
}

func (r wallets) SetBalance(ctx context.Context, userID int64, balance money.Money) error {
	if err := r.t.lock(ctx, walletKey(userID)); err != nil {
		return err
	}
	if balance.IsNegative() {
		return fmt.Errorf("%w: wallet balance cannot go negative", domain.ErrInvalidAmount)
	}
	if r.t.walletBal == nil {
		r.t.walletBal = make(map[int64]money.Money)
	}
	if _, buffered := r.t.walletBal[userID]; !buffered {
		s := r.t.s
		r.t.onCommit = append(r.t.onCommit, func() { s.wallets[userID] = r.t.walletBal[userID] })
	}
	r.t.walletBal[userID] = balance
	return nil
}

func (r wallets) AppendTransaction(_ context.Context, wt domain.WalletTransaction) (domain.WalletTransaction, error) {
	s := r.t.s
	s.mu.Lock()
	s.txSeq++
	wt.ID = s.txSeq
	s.mu.Unlock()

	r.t.pendingWalletTx = append(r.t.pendingWalletTx, wt)
	r.t.onCommit = append(r.t.onCommit, func() { s.walletTx = append(s.walletTx, wt) })
	return wt, nil
}

// Transactions returns committed entries plus this transaction's own, newest first.
func (r wallets) Transactions(_ context.Context, userID int64) ([]domain.WalletTransaction, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.WalletTransaction
	for _, wt := range slices.Backward(r.t.pendingWalletTx) {
		if wt.UserID == userID {
			out = append(out, wt)
		}
	}
	for _, wt := range slices.Backward(s.walletTx) {
		if wt.UserID == userID {
			out = append(out, wt)
		}
	}
	return out, nil
}
