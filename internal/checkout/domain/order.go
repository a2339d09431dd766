package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/canteen-checkout/pkg/money"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusCompleted},
}

// ParseOrderStatus validates a status string.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch st := OrderStatus(s); st {
	case StatusPending, StatusPaid, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s OrderStatus) String() string { return string(s) }

// Order is an immutable purchase record. Only Status moves after creation.
type Order struct {
	ID         uuid.UUID   `json:"id"`
	UserID     int64       `json:"user_id"`
	Status     OrderStatus `json:"status"`
	Total      money.Money `json:"total_minor"`
	Paid       money.Money `json:"paid_minor"`
	PickupTime time.Time   `json:"pickup_time"`
	ServiceDay ServiceDay  `json:"service_day"`
	CreatedAt  time.Time   `json:"created_at"`
	Lines      []OrderLine `json:"items"`
}

// OrderLine is a point-in-time copy of a cart line, decoupled from the catalog.
type OrderLine struct {
	Position  int         `json:"position"`
	ItemName  string      `json:"item_name"`
	UnitPrice money.Money `json:"unit_price_minor"`
	Quantity  int         `json:"qty"`
	LineTotal money.Money `json:"line_total_minor"`
}

// NewPaidOrder snapshots a cart into a paid order. Total is recomputed from the
// lines so that Total == sum(LineTotal) holds by construction.
func NewPaidOrder(userID int64, snap CartSnapshot, pickup time.Time, day ServiceDay, paid money.Money, now time.Time) Order {
	lines := make([]OrderLine, 0, len(snap.Lines))
	var total money.Money
	for i, l := range snap.Lines {
		lines = append(lines, OrderLine{
			Position:  i + 1,
			ItemName:  l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			LineTotal: l.LineTotal,
		})
		total = total.Add(l.LineTotal)
	}
	return Order{
		ID:         uuid.New(),
		UserID:     userID,
		Status:     StatusPaid,
		Total:      total,
		Paid:       paid,
		PickupTime: pickup,
		ServiceDay: day,
		CreatedAt:  now,
		Lines:      lines,
	}
}
