package alerting

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatUSD renders an amount with US thousands separators and at most three
// fraction digits, trailing zeros dropped.
func FormatUSD(amount decimal.Decimal) string {
	rounded := amount.Round(3)
	decimals := 0
	if s := rounded.String(); strings.Contains(s, ".") {
		decimals = len(s) - strings.Index(s, ".") - 1
	}

	p := message.NewPrinter(language.English)
	return p.Sprintf("%.*f", decimals, rounded.InexactFloat64())
}

// FormatPercent renders a ratio such as 0.95 as "95.0".
func FormatPercent(ratio decimal.Decimal) string {
	return ratio.Mul(decimal.NewFromInt(100)).StringFixed(1)
}
