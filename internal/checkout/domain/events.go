package domain

import "time"

const (
	EventOrderPaid          = "OrderPaid"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type OrderPaid struct {
	OrderID    string      `json:"order_id"`
	UserID     int64       `json:"user_id"`
	TotalMinor int64       `json:"total_minor"`
	PaidMinor  int64       `json:"paid_minor"`
	ServiceDay ServiceDay  `json:"service_day"`
	PickupTime time.Time   `json:"pickup_time"`
	Lines      []OrderLine `json:"lines"`
}

type OrderStatusChanged struct {
	OrderID     string      `json:"order_id"`
	UserID      int64       `json:"user_id"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	RefundMinor int64       `json:"refund_minor,omitempty"`
}

// TopUpRequested is the wire format of a mocked wallet top-up message.
type TopUpRequested struct {
	UserID int64  `json:"user_id"`
	Amount string `json:"amount"`
	Ref    string `json:"ref"`
}
