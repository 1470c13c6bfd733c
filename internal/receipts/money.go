package receipts

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatAmount renders amount with thousands separators and the ISO code,
// e.g. "1,250.00 USD". Unknown codes are reported as errors.
func FormatAmount(code string, amount decimal.Decimal) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return "", fmt.Errorf("receipts: currency %q: %w", code, err)
	}
	f, _ := amount.Round(2).Float64()
	return printer.Sprintf("%.2f %s", f, unit.String()), nil
}

func mustFormat(code string, amount decimal.Decimal) string {
	s, err := FormatAmount(code, amount)
	if err != nil {
		return amount.StringFixed(2) + " " + code
	}
	return s
}
