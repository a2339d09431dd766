package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
)

// carts serializes every operation on a cart behind the cart lock, which is
// also what checkout takes first.
type carts struct{ t *tx }

func cartKey(cartID int64) string { return fmt.Sprintf("cart:%d", cartID) }

func (r carts) Get(ctx context.Context, userID int64) (domain.Cart, error) {
	return r.Lock(ctx, userID)
}

func (r carts) Lock(ctx context.Context, userID int64) (domain.Cart, error) {
	s := r.t.s
	s.mu.Lock()
	cart, ok := s.carts[userID]
	if !ok {
		s.cartSeq++
		cart = domain.Cart{ID: s.cartSeq, UserID: userID}
		s.carts[userID] = cart
	}
	s.mu.Unlock()

	if err := r.t.lock(ctx, cartKey(cart.ID)); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

// snapshotLines records an undo step restoring the cart's current lines.
func (r carts) snapshotLines(cartID int64) {
	s := r.t.s
	prev := slices.Clone(s.lines[cartID])
	r.t.undo = append(r.t.undo, func() { s.lines[cartID] = prev })
}

func (r carts) UpsertLine(ctx context.Context, cartID, itemID int64, qty int) (domain.CartLine, error) {
	if err := r.t.lock(ctx, cartKey(cartID)); err != nil {
		return domain.CartLine{}, err
	}
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	r.snapshotLines(cartID)
	lines := slices.Clone(s.lines[cartID])
	for i, l := range lines {
		if l.ItemID == itemID {
			lines[i].Quantity += qty
			s.lines[cartID] = lines
			return lines[i], nil
		}
	}
	s.lineSeq++
	line := domain.CartLine{ID: s.lineSeq, CartID: cartID, ItemID: itemID, Quantity: qty}
	s.lines[cartID] = append(lines, line)
	return line, nil
}

func (r carts) SetLineQuantity(ctx context.Context, cartID, lineID int64, qty int) (domain.CartLine, error) {
	if err := r.t.lock(ctx, cartKey(cartID)); err != nil {
		return domain.CartLine{}, err
	}
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := slices.Clone(s.lines[cartID])
	i := slices.IndexFunc(lines, func(l domain.CartLine) bool { return l.ID == lineID })
	if i < 0 {
		return domain.CartLine{}, domain.ErrCartLineNotFound
	}
	r.snapshotLines(cartID)
	lines[i].Quantity = qty
	s.lines[cartID] = lines
	return lines[i], nil
}

func (r carts) DeleteLine(ctx context.Context, cartID, lineID int64) error {
	if err := r.t.lock(ctx, cartKey(cartID)); err != nil {
		return err
	}
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.lines[cartID]
	i := slices.IndexFunc(lines, func(l domain.CartLine) bool { return l.ID == lineID })
	if i < 0 {
		return domain.ErrCartLineNotFound
	}
	r.snapshotLines(cartID)
	s.lines[cartID] = slices.Delete(slices.Clone(lines), i, i+1)
	return nil
}

func (r carts) ClearLines(ctx context.Context, cartID int64) (int, error) {
	if err := r.t.lock(ctx, cartKey(cartID)); err != nil {
		return 0, err
	}
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.lines[cartID])
	if n > 0 {
		r.snapshotLines(cartID)
		delete(s.lines, cartID)
	}
	return n, nil
}

func (r carts) Lines(ctx context.Context, cartID int64) ([]domain.CartLine, error) {
	if err := r.t.lock(ctx, cartKey(cartID)); err != nil {
		return nil, err
	}
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lines[cartID]), nil
}
