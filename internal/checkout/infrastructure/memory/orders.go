package memory

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
)

type orders struct{ t *tx }

func orderKey(id uuid.UUID) string { return "order:" + id.String() }

func (r orders) Insert(_ context.Context, o domain.Order) error {
	s := r.t.s
	s.mu.Lock()
	_, exists := s.orders[o.ID]
	s.mu.Unlock()
	if exists || slices.ContainsFunc(r.t.pendingOrders, func(p domain.Order) bool { return p.ID == o.ID }) {
		return fmt.Errorf("%w: order %s already exists", domain.ErrConflict, o.ID)
	}

	o.Lines = slices.Clone(o.Lines)
	r.t.pendingOrders = append(r.t.pendingOrders, o)
	r.t.onCommit = append(r.t.onCommit, func() {
		s.orders[o.ID] = o
		s.ordersByUser[o.UserID] = append(s.ordersByUser[o.UserID], o.ID)
		s.orderLog = append(s.orderLog, o.ID)
	})
	return nil
}

// find looks in this transaction's view: its own inserts and status changes
// layered over committed orders. The caller holds s.mu.
func (r orders) find(id uuid.UUID) (domain.Order, bool) {
	o, ok := r.t.s.orders[id]
	if !ok {
		i := slices.IndexFunc(r.t.pendingOrders, func(p domain.Order) bool { return p.ID == id })
		if i < 0 {
			return domain.Order{}, false
		}
		o, ok = r.t.pendingOrders[i], true
	}
	if st, changed := r.t.pendingStatus[id]; changed {
		o.Status = st
	}
	o.Lines = slices.Clone(o.Lines)
	return o, ok
}

func (r orders) Get(_ context.Context, id uuid.UUID) (domain.Order, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := r.find(id)
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (r orders) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	if err := r.t.lock(ctx, orderKey(id)); err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, id)
}

// ListByUser returns the user's orders, newest first.
func (r orders) ListByUser(_ context.Context, userID int64) ([]domain.Order, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := slices.Clone(s.ordersByUser[userID])
	for _, p := range r.t.pendingOrders {
		if p.UserID == userID {
			ids = append(ids, p.ID)
		}
	}
	out := make([]domain.Order, 0, len(ids))
	for _, id := range slices.Backward(ids) {
		if o, ok := r.find(id); ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// List returns orders newest first; orders created at the same instant keep
// reverse insertion order.
func (r orders) List(_ context.Context, status *domain.OrderStatus) ([]domain.Order, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := slices.Clone(s.orderLog)
	for _, p := range r.t.pendingOrders {
		ids = append(ids, p.ID)
	}
	var out []domain.Order
	for _, id := range slices.Backward(ids) {
		o, ok := r.find(id)
		if ok && (status == nil || o.Status == *status) {
			out = append(out, o)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (r orders) SetStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) error {
	if err := r.t.lock(ctx, orderKey(id)); err != nil {
		return err
	}
	s := r.t.s
	s.mu.Lock()
	_, ok := r.find(id)
	s.mu.Unlock()
	if !ok {
		return domain.ErrOrderNotFound
	}

	if r.t.pendingStatus == nil {
		r.t.pendingStatus = make(map[uuid.UUID]domain.OrderStatus)
	}
	r.t.pendingStatus[id] = status
	r.t.onCommit = append(r.t.onCommit, func() {
		o := s.orders[id]
		o.Status = status
		s.orders[id] = o
	})
	return nil
}
