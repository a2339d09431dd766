package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrEmptyCart         = errors.New("cart is empty, nothing to checkout")
	ErrQuotaExceeded     = errors.New("daily order limit reached")
	ErrInsufficientFunds = errors.New("not enough wallet balance for this order")
	ErrConflict          = errors.New("conflicting concurrent request, retry")
	ErrForbidden         = errors.New("forbidden")

	ErrInvalidQuantity   = fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	ErrQuantityTooLarge  = fmt.Errorf("%w: quantity too large", ErrInvalidInput)
	ErrAmountOverflow    = fmt.Errorf("%w: amount out of range", ErrInvalidInput)
	ErrInvalidAmount     = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrInvalidPickupTime = fmt.Errorf("%w: pickup_time must be an ISO8601 timestamp", ErrInvalidInput)
	ErrItemNotFound      = fmt.Errorf("item %w", ErrNotFound)
	ErrCartLineNotFound  = fmt.Errorf("cart line %w", ErrNotFound)
	ErrOrderNotFound     = fmt.Errorf("order %w", ErrNotFound)
	ErrIllegalTransition = fmt.Errorf("%w: illegal order status transition", ErrInvalidInput)
)

// Kind is the closed set of failure categories exposed to callers.
type Kind string

const (
	KindNone              Kind = ""
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindNotFound          Kind = "NOT_FOUND"
	KindEmptyCart         Kind = "EMPTY_CART"
	KindQuotaExceeded     Kind = "ORDER_LIMIT_REACHED"
	KindInsufficientFunds Kind = "INSUFFICIENT_WALLET_FUNDS"
	KindConflict          Kind = "CONFLICT"
	KindForbidden         Kind = "FORBIDDEN"
	KindInternal          Kind = "INTERNAL"
)

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrEmptyCart):
		return KindEmptyCart
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrConflict), errors.Is(err, context.DeadlineExceeded):
		return KindConflict
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindInternal
	}
}
