package domain

import (
	"fmt"

	"github.com/dmehra2102/canteen-checkout/pkg/money"
)

// MaxLineQuantity caps the quantity of a single cart line.
const MaxLineQuantity = 999

// ValidateQuantity checks a requested line quantity.
func ValidateQuantity(qty int) error {
	switch {
	case qty < 1:
		return ErrInvalidQuantity
	case qty > MaxLineQuantity:
		return fmt.Errorf("%w: %d exceeds %d", ErrQuantityTooLarge, qty, MaxLineQuantity)
	}
	return nil
}

type Cart struct {
	ID     int64
	UserID int64
}

// CartLine is a stored draft selection. Quantity is always >= 1 and a cart
// holds at most one line per item.
type CartLine struct {
	ID       int64
	CartID   int64
	ItemID   int64
	Quantity int
}

// Item is the catalog view of a purchasable item.
type Item struct {
	ID        int64
	Name      string
	UnitPrice money.Money
}

// SnapshotLine is a cart line priced against the live catalog.
type SnapshotLine struct {
	LineID    int64       `json:"id"`
	ItemID    int64       `json:"item_id"`
	Name      string      `json:"item_name"`
	UnitPrice money.Money `json:"unit_price_minor"`
	Quantity  int         `json:"qty"`
	LineTotal money.Money `json:"line_total_minor"`
}

// CartSnapshot is the priced state of a cart at the time it was read.
type CartSnapshot struct {
	CartID int64          `json:"id"`
	Lines  []SnapshotLine `json:"items"`
	Total  money.Money    `json:"total_minor"`
}

func (s CartSnapshot) IsEmpty() bool { return len(s.Lines) == 0 }

// NewSnapshotLine prices a cart line. It fails if the line total does not fit in Money.
func NewSnapshotLine(line CartLine, item Item) (SnapshotLine, error) {
	total, err := item.UnitPrice.CheckedMul(int64(line.Quantity))
	if err != nil {
		return SnapshotLine{}, fmt.Errorf("%w: line %d: %w", ErrAmountOverflow, line.ID, err)
	}
	return SnapshotLine{
		LineID:    line.ID,
		ItemID:    line.ItemID,
		Name:      item.Name,
		UnitPrice: item.UnitPrice,
		Quantity:  line.Quantity,
		LineTotal: total,
	}, nil
}

// NewCartSnapshot totals priced lines.
func NewCartSnapshot(cartID int64, lines []SnapshotLine) (CartSnapshot, error) {
	s := CartSnapshot{CartID: cartID, Lines: lines}
	for _, l := range lines {
		total, err := s.Total.CheckedAdd(l.LineTotal)
		if err != nil {
			return CartSnapshot{}, fmt.Errorf("%w: cart %d: %w", ErrAmountOverflow, cartID, err)
		}
		s.Total = total
	}
	return s, nil
}
