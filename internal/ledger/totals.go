package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals aggregates computed line amounts for an invoice.
type Totals struct {
	Subtotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	TaxTotal      decimal.Decimal
	AmountTotal   decimal.Decimal
}

// RoundMoney rounds to two decimal places, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ComputeLine derives the amount, discount and tax of a template line.
func ComputeLine(t LineTemplate, sortOrder int) LineItem {
	amount := RoundMoney(t.Quantity.Mul(t.UnitPrice))
	discount := RoundMoney(amount.Mul(t.DiscountRate).Div(hundred))
	tax := RoundMoney(amount.Sub(discount).Mul(t.TaxRate).Div(hundred))
	return LineItem{
		Description:    t.Description,
		Quantity:       t.Quantity,
		UnitPrice:      t.UnitPrice,
		Amount:         amount,
		TaxRate:        t.TaxRate,
		TaxAmount:      tax,
		DiscountRate:   t.DiscountRate,
		DiscountAmount: discount,
		SortOrder:      sortOrder,
	}
}

// SumLines folds computed line items into invoice totals.
func SumLines(lines []LineItem) Totals {
	var t Totals
	for _, l := range lines {
		t.Subtotal = t.Subtotal.Add(l.Amount)
		t.DiscountTotal = t.DiscountTotal.Add(l.DiscountAmount)
		t.TaxTotal = t.TaxTotal.Add(l.TaxAmount)
	}
	t.AmountTotal = t.Subtotal.Sub(t.DiscountTotal).Add(t.TaxTotal)
	return t
}

// ValidateLines checks template lines before they are priced.
func ValidateLines(lines []LineTemplate) error {
	if len(lines) == 0 {
		return fmt.Errorf("at least one line item is required")
	}
	for i, l := range lines {
		switch {
		case l.Description == "":
			return fmt.Errorf("line %d: description required", i+1)
		case !l.Quantity.IsPositive():
			return fmt.Errorf("line %d: quantity must be positive", i+1)
		case l.UnitPrice.IsNegative():
			return fmt.Errorf("line %d: unit price must not be negative", i+1)
		case l.TaxRate.IsNegative(), l.TaxRate.GreaterThan(hundred):
			return fmt.Errorf("line %d: tax rate must be between 0 and 100", i+1)
		case l.DiscountRate.IsNegative(), l.DiscountRate.GreaterThan(hundred):
			return fmt.Errorf("line %d: discount rate must be between 0 and 100", i+1)
		}
	}
	return nil
}

// PriceLines computes line items and totals for a new invoice. For a deposit
// with a percentage the template lines describe the full engagement and the
// invoice carries a single deposit line for the requested share.
func PriceLines(typ InvoiceType, depositPct decimal.Decimal, currency string, tmpl []LineTemplate) ([]LineItem, Totals) {
	lines := make([]LineItem, 0, len(tmpl))
	for i, t := range tmpl {
		lines = append(lines, ComputeLine(t, i+1))
	}
	totals := SumLines(lines)
	if typ != TypeDeposit || !depositPct.IsPositive() {
		return lines, totals
	}
	share := RoundMoney(totals.AmountTotal.Mul(depositPct).Div(hundred))
	deposit := ComputeLine(LineTemplate{
		Description: fmt.Sprintf("Deposit (%s%% of %s %s)", depositPct.String(), totals.AmountTotal.StringFixed(2), currency),
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   share,
	}, 1)
	single := []LineItem{deposit}
	return single, SumLines(single)
}
