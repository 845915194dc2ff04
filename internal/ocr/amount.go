package ocr

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	currencyRe = regexp.MustCompile(`(?i)\b(?:rp|idr)\.?\s*(-?\(?\d)`)
	amountRe   = regexp.MustCompile(`^\(?-?\d[\d.,]*\)?-?$`)
)

// stripCurrency removes "Rp"/"IDR" prefixes so amounts stand alone.
func stripCurrency(line string) string {
	return currencyRe.ReplaceAllString(line, "$1")
}

// parseAmount reads receipt amounts in either grouping convention:
// 12.500, 12,500, 12.500,50 and 12,500.50. A trailing minus or parentheses
// mark a negative value.
func parseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if !amountRe.MatchString(s) {
		return decimal.Zero, false
	}
	negative := strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") || strings.HasPrefix(s, "(")
	s = strings.Trim(s, "()-")

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		dec := "."
		group := ","
		if lastComma > lastDot {
			dec, group = ",", "."
		}
		s = strings.ReplaceAll(s, group, "")
		s = strings.Replace(s, dec, ".", 1)
	case lastDot >= 0:
		s = normalizeSingleSeparator(s, ".")
	case lastComma >= 0:
		s = normalizeSingleSeparator(s, ",")
	}
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// normalizeSingleSeparator treats sep as grouping when every group after the
// first has three digits, otherwise as the decimal point.
func normalizeSingleSeparator(s, sep string) string {
	parts := strings.Split(s, sep)
	grouping := len(parts[0]) > 0 && len(parts[0]) <= 3
	for _, p := range parts[1:] {
		if len(p) != 3 {
			grouping = false
		}
	}
	if grouping {
		return strings.Join(parts, "")
	}
	if len(parts) != 2 || len(parts[1]) == 0 || len(parts[1]) > 2 {
		return ""
	}
	return parts[0] + "." + parts[1]
}
