package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	moneyPlaces    = 2
	quantityPlaces = 3
)

var (
	hundred    = decimal.NewFromInt(100)
	markupStep = decimal.RequireFromString("2.5")
)

func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

func Quantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(quantityPlaces)
}

// ValidQuantity accepts positive values with at most three decimal places.
func ValidQuantity(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(Quantity(d))
}

// ValidMarkup accepts 0..100 in 2.5 steps.
func ValidMarkup(markup decimal.Decimal) bool {
	if markup.IsNegative() || markup.GreaterThan(hundred) {
		return false
	}
	return markup.Mod(markupStep).IsZero()
}

func DerivePrice(cost decimal.Decimal, markupPercent decimal.Decimal) decimal.Decimal {
	return Money(cost.Add(cost.Mul(markupPercent).Div(hundred)))
}

// ClampDiscount bounds a discount to [0, price*qty].
func ClampDiscount(price decimal.Decimal, qty decimal.Decimal, discount decimal.Decimal) decimal.Decimal {
	gross := Money(price.Mul(qty))
	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(gross) {
		return gross
	}
	return Money(discount)
}

func LineSubtotal(price decimal.Decimal, qty decimal.Decimal, discount decimal.Decimal) decimal.Decimal {
	sub := Money(price.Mul(qty)).Sub(discount)
	if sub.IsNegative() {
		return decimal.Zero
	}
	return Money(sub)
}

// DeriveSplitStatus compares paid payment records against the receipt total.
func DeriveSplitStatus(total decimal.Decimal, payments []PaymentRecord) string {
	paid := decimal.Zero
	for _, p := range payments {
		if p.Status == StatusPaid {
			paid = paid.Add(p.Amount)
		}
	}
	switch {
	case paid.GreaterThanOrEqual(total) && paid.IsPositive():
		return StatusPaid
	case paid.IsPositive():
		return StatusPartiallyPaid
	default:
		return StatusUnpaid
	}
}

func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
