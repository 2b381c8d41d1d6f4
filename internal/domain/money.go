package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNegativeMoney is returned when a monetary amount below zero is parsed.
var ErrNegativeMoney = errors.New("money: amount must not be negative")

// Money is a non-negative decimal amount displayed with two fractional digits.
// The zero value is a valid zero amount.
type Money struct {
	amount decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{}

// NewMoney wraps a decimal, clamping negative input to an error.
func NewMoney(d decimal.Decimal) (Money, error) {
	if d.IsNegative() {
		return Money{}, ErrNegativeMoney
	}
	return Money{amount: d}, nil
}

// ParseMoney parses a decimal string such as "10.00".
func ParseMoney(raw string) (Money, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Money{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", raw, err)
	}
	return NewMoney(d)
}

// MustParseMoney is ParseMoney for constants and tests.
func MustParseMoney(raw string) Money {
	m, err := ParseMoney(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal exposes the underlying value.
func (m Money) Decimal() decimal.Decimal { return m.amount }

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{amount: m.amount.Add(o.amount)} }

// Times multiplies by an integer quantity; negative quantities yield zero.
func (m Money) Times(qty int) Money {
	if qty <= 0 {
		return Money{}
	}
	return Money{amount: m.amount.Mul(decimal.NewFromInt(int64(qty)))}
}

// Rate multiplies by a decimal rate and rounds to cents.
func (m Money) Rate(rate decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(rate).Round(2)}
}

// DivQuantity returns the per-unit amount of a line total, rounded to cents.
func (m Money) DivQuantity(qty int) Money {
	if qty <= 0 {
		return Money{}
	}
	return Money{amount: m.amount.Div(decimal.NewFromInt(int64(qty))).Round(2)}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// Equal compares amounts numerically ("10" equals "10.00").
func (m Money) Equal(o Money) bool { return m.amount.Equal(o.amount) }

// String renders the amount with two decimals.
func (m Money) String() string { return m.amount.StringFixed(2) }

// Display renders the amount with a leading dollar sign.
func (m Money) Display() string { return "$" + m.String() }

// MarshalJSON encodes the amount as a two-decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = Money{}
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
