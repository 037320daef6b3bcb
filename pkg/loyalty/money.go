package loyalty

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Stored amounts are int64 minor units and int64 points.
var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	maxPoints     = decimal.NewFromInt(math.MaxInt64)
)

// Points is a signed point quantity.
type Points int64

// Int64 returns the raw point value.
func (points Points) Int64() int64 {
	return int64(points)
}

// Plus adds delta, rejecting a result outside the int64 range.
func (points Points) Plus(delta Points) (Points, error) {
	sum := points + delta
	if (delta > 0 && sum < points) || (delta < 0 && sum > points) {
		return 0, fmt.Errorf("%w: %d%+d overflows the point range", ErrInvalidAmount, points, delta)
	}
	return sum, nil
}

// Negated flips the sign.
func (points Points) Negated() Points {
	return -points
}

// PositivePoints is a strictly positive point quantity.
type PositivePoints struct {
	value Points
}

// NewPositivePoints validates that raw is greater than zero.
func NewPositivePoints(raw int64) (PositivePoints, error) {
	if raw <= 0 {
		return PositivePoints{}, fmt.Errorf("%w: points must be greater than zero", ErrInvalidAmount)
	}
	return PositivePoints{value: Points(raw)}, nil
}

// Points returns the quantity as signed points.
func (points PositivePoints) Points() Points {
	return points.value
}

// Money is a non-negative monetary value with at most moneyScale fractional digits.
type Money struct {
	value decimal.Decimal
}

// NewMoney validates a decimal monetary value.
func NewMoney(value decimal.Decimal) (Money, error) {
	if value.IsNegative() {
		return Money{}, fmt.Errorf("%w: money must not be negative", ErrInvalidAmount)
	}
	if !value.Equal(value.Truncate(moneyScale)) {
		return Money{}, fmt.Errorf("%w: money supports at most %d decimal places", ErrInvalidAmount, moneyScale)
	}
	if value.Shift(moneyScale).GreaterThan(maxMinorUnits) {
		return Money{}, fmt.Errorf("%w: money exceeds %s", ErrInvalidAmount, maxMinorUnits.Shift(-moneyScale).StringFixed(moneyScale))
	}
	return Money{value: value}, nil
}

// ParseMoney parses a decimal string such as "20.00".
func ParseMoney(raw string) (Money, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Money{}, nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return NewMoney(value)
}

// MoneyFromMinorUnits converts stored minor units (cents) back to money.
func MoneyFromMinorUnits(minor int64) (Money, error) {
	return NewMoney(decimal.New(minor, -moneyScale))
}

// MinorUnits returns the value in minor units (cents).
func (money Money) MinorUnits() int64 {
	return money.value.Shift(moneyScale).IntPart()
}

// Decimal returns the underlying decimal.
func (money Money) Decimal() decimal.Decimal {
	return money.value
}

// IsZero reports whether the amount is zero.
func (money Money) IsZero() bool {
	return money.value.IsZero()
}

// Add sums two monetary values. The sum is bounded like any other amount.
func (money Money) Add(other Money) (Money, error) {
	return NewMoney(money.value.Add(other.value))
}

// Equal compares two amounts numerically.
func (money Money) Equal(other Money) bool {
	return money.value.Equal(other.value)
}

// String renders the amount with moneyScale fractional digits.
func (money Money) String() string {
	return money.value.StringFixed(moneyScale)
}

// Rate is the number of points granted per currency unit spent.
type Rate struct {
	value decimal.Decimal
}

// NewRate validates that the rate is strictly positive.
func NewRate(value decimal.Decimal) (Rate, error) {
	if !value.IsPositive() {
		return Rate{}, fmt.Errorf("%w: rate must be greater than zero", ErrInvalidRate)
	}
	return Rate{value: value}, nil
}

// ParseRate parses a decimal rate string. An empty string yields the zero Rate.
func ParseRate(raw string) (Rate, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Rate{}, nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Rate{}, fmt.Errorf("%w: %v", ErrInvalidRate, err)
	}
	return NewRate(value)
}

// IsZero reports whether the rate is unset.
func (rate Rate) IsZero() bool {
	return rate.value.IsZero()
}

// String renders the rate.
func (rate Rate) String() string {
	return rate.value.String()
}

// PointsFor returns floor(spend * rate). Fractional points are dropped; a product
// beyond the point range is rejected.
func (rate Rate) PointsFor(spend Money) (Points, error) {
	awarded := spend.value.Mul(rate.value).Floor()
	if awarded.GreaterThan(maxPoints) {
		return 0, fmt.Errorf("%w: %s at rate %s exceeds the point range", ErrInvalidAmount, spend, rate)
	}
	return Points(awarded.IntPart()), nil
}
