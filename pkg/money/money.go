// Package money provides an integer minor-unit currency amount.
//
// All arithmetic is integer-only. The service runs in a single currency, so
// the unit is implied by configuration rather than carried on every value.
package money

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// ErrOverflow is returned by the checked operations when a result does not fit in int64.
var ErrOverflow = errors.New("money: amount overflows int64")

// Money is an amount in minor units (fils, cents).
type Money int64

// Zero is the zero amount.
const Zero Money = 0

// Minor creates a Money value from a minor-unit count.
func Minor(v int64) Money { return Money(v) }

// Int64 returns the raw minor-unit count.
func (m Money) Int64() int64 { return int64(m) }

func (m Money) Add(other Money) Money { return m + other }

func (m Money) Sub(other Money) Money { return m - other }

// Mul multiplies the amount by a quantity.
func (m Money) Mul(qty int64) Money { return Money(int64(m) * qty) }

// CheckedAdd is Add that reports int64 overflow instead of wrapping.
func (m Money) CheckedAdd(other Money) (Money, error) {
	sum := m + other
	if (other > 0 && sum < m) || (other < 0 && sum > m) {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, m, other)
	}
	return sum, nil
}

// CheckedMul is Mul that reports int64 overflow instead of wrapping.
func (m Money) CheckedMul(qty int64) (Money, error) {
	a, b := int64(m), qty
	if a == 0 || b == 0 {
		return 0, nil
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, a, b)
	}
	hi, lo := bits.Mul64(uabs(a), uabs(b))
	neg := (a < 0) != (b < 0)
	limit := uint64(math.MaxInt64)
	if neg {
		limit++
	}
	if hi != 0 || lo > limit {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, a, b)
	}
	if neg {
		return Money(-int64(lo-1) - 1), nil
	}
	return Money(int64(lo)), nil
}

func uabs(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

// Min returns the smaller of two amounts.
func (m Money) Min(other Money) Money {
	if m < other {
		return m
	}
	return other
}

func (m Money) IsZero() bool     { return m == 0 }
func (m Money) IsPositive() bool { return m > 0 }
func (m Money) IsNegative() bool { return m < 0 }

// FormatMajor renders the amount in major units with two decimals: 7000 -> "70.00".
func (m Money) FormatMajor() string {
	v := int64(m)
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d.%02d", v/100, v%100)
	if neg {
		return "-" + s
	}
	return s
}

// String returns the major-unit form, e.g. "70.00".
func (m Money) String() string { return m.FormatMajor() }

// ParseMajor parses a major-unit decimal string ("12", "12.5", "12.50") without
// going through floating point.
func ParseMajor(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("money: parse %q: empty", s)
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, hasFrac := strings.Cut(s, ".")
	if !digits(whole) || (hasFrac && (!digits(frac) || len(frac) > 2)) {
		return 0, fmt.Errorf("money: parse %q: invalid format", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	minor, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	v := major*100 + minor
	if neg {
		v = -v
	}
	return Money(v), nil
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Sum adds up a list of amounts.
func Sum(values ...Money) Money {
	var total Money
	for _, v := range values {
		total += v
	}
	return total
}
