package domain

import (
	"time"

	"github.com/dmehra2102/canteen-checkout/pkg/money"
)

type TxKind string

const (
	TxTopUp  TxKind = "TOPUP"
	TxDebit  TxKind = "DEBIT"
	TxRefund TxKind = "REFUND"
)

// Sign returns +1 for credits and -1 for debits.
func (k TxKind) Sign() int64 {
	if k == TxDebit {
		return -1
	}
	return 1
}

func (k TxKind) IsCredit() bool { return k == TxTopUp || k == TxRefund }

type Wallet struct {
	UserID  int64
	Balance money.Money
}

// WalletTransaction is an append-only ledger entry. Amount is a positive magnitude.
type WalletTransaction struct {
	ID        int64
	UserID    int64
	Kind      TxKind
	Amount    money.Money
	Ref       string
	CreatedAt time.Time
}

// Signed returns the amount with the sign implied by Kind.
func (t WalletTransaction) Signed() money.Money {
	return t.Amount.Mul(t.Kind.Sign())
}

// LedgerBalance recomputes a balance from its transaction log.
func LedgerBalance(txs []WalletTransaction) money.Money {
	var b money.Money
	for _, t := range txs {
		b = b.Add(t.Signed())
	}
	return b
}
