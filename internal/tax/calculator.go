// Package tax computes line and document amounts. Amounts are rounded to two
// decimals (half away from zero) per line, and document totals are sums of
// the rounded lines, so the document total always equals the sum of what the
// customer sees on each line.
package tax

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
)

// LineAmounts is the computed monetary result of one document line.
type LineAmounts struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Total     decimal.Decimal `json:"total"`
}

// DocumentTotals aggregates line amounts for a document.
type DocumentTotals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
}

// Round2 rounds to cents, half away from zero.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// ValidateRate checks that rate is a percentage in [0, 100].
func ValidateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return ErrInvalidTaxRate
	}
	return nil
}

// CalculateLine computes subtotal = round2(qty*price),
// tax = round2(subtotal*rate/100) and total = subtotal + tax.
func CalculateLine(quantity, unitPrice, taxRate decimal.Decimal) (LineAmounts, error) {
	if quantity.IsNegative() {
		return LineAmounts{}, ErrNegativeQuantity
	}
	if unitPrice.IsNegative() {
		return LineAmounts{}, ErrNegativeUnitPrice
	}
	if err := ValidateRate(taxRate); err != nil {
		return LineAmounts{}, err
	}

	subtotal := Round2(quantity.Mul(unitPrice))
	taxAmount := Round2(subtotal.Mul(taxRate).Div(hundred))
	return LineAmounts{
		Subtotal:  subtotal,
		TaxAmount: taxAmount,
		Total:     subtotal.Add(taxAmount),
	}, nil
}

// SumLines adds up rounded line amounts and applies a document-level
// discount: total = subtotal + tax - discount.
func SumLines(lines []LineAmounts, discount decimal.Decimal) (DocumentTotals, error) {
	totals := DocumentTotals{
		Subtotal:       decimal.Zero,
		TaxAmount:      decimal.Zero,
		DiscountAmount: Round2(discount),
	}
	for _, line := range lines {
		totals.Subtotal = totals.Subtotal.Add(line.Subtotal)
		totals.TaxAmount = totals.TaxAmount.Add(line.TaxAmount)
	}

	gross := totals.Subtotal.Add(totals.TaxAmount)
	if totals.DiscountAmount.IsNegative() || totals.DiscountAmount.GreaterThan(gross) {
		return DocumentTotals{}, ErrInvalidDiscount
	}
	totals.Total = gross.Sub(totals.DiscountAmount)
	return totals, nil
}
