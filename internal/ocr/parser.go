package ocr

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-dompet/internal/composer"
)

const maxTitleRunes = 64

const num = `(\(?-?\d[\d.,]*\)?-?)`

var (
	// name 2 x 10.000 [20.000], name 2 @ 10.000
	qtyAtRe = regexp.MustCompile(`(?i)^(.*?\pL.*?)\s+(\d+(?:[.,]\d+)?)\s*(?:x|@|pcs|pc|buah)\s*` + num + `(?:\s+` + num + `)?$`)
	// name x2 20.000
	xQtyRe = regexp.MustCompile(`(?i)^(.*?\pL.*?)\s+x\s*(\d+)\s+` + num + `$`)
	// name 2 10.000 20.000
	qtyColsRe = regexp.MustCompile(`^(.*?\pL.*?)\s+(\d{1,3})\s+` + num + `\s+` + num + `$`)
	// name 20.000
	simpleRe = regexp.MustCompile(`^(.*?\pL.*?)\s+` + num + `$`)
	// 2 x 10.000 [20.000] on its own line, following a name-only line
	qtyOnlyRe = regexp.MustCompile(`(?i)^(\d+(?:[.,]\d+)?)\s*(?:x|@)\s*` + num + `(?:\s+` + num + `)?$`)
	percentRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%`)
	lastNumRe = regexp.MustCompile(num + `\s*$`)

	totalRe    = regexp.MustCompile(`(?i)\b(grand\s*total|total(\s*(bayar|belanja|harga|tagihan))?|jumlah|amount\s*due)\b`)
	subtotalRe = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|total\s*item|total\s*qty)\b`)
	paymentRe  = regexp.MustCompile(`(?i)\b(tunai|cash|kembali(an)?|change|bayar|debit|kredit|credit|card|kartu|qris|ovo|gopay|dana|shopeepay|edc)\b`)
	discountRe = regexp.MustCompile(`(?i)\b(diskon|discount|disc|potongan|promo|hemat|voucher|cashback)\b`)
	feeRe      = regexp.MustCompile(`(?i)\b(ppn|pajak|tax|pb1|service|servis|layanan|ongkir|ongkos\s*kirim|pengiriman|delivery|admin|biaya|parkir|kemasan|packaging)\b`)
	noiseRe    = regexp.MustCompile(`(?i)\b(telp|tel|phone|hp|npwp|kasir|cashier|struk|no\.|nomor|jl\.|jalan|www\.|terima\s*kasih|thank\s*you|member|poin|point|pelanggan)\b`)

	dateISORe   = regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`)
	dateDMYRe   = regexp.MustCompile(`\b(\d{1,2})[-/.](\d{1,2})[-/.](\d{2,4})\b`)
	dateWordsRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s+([a-z]{3,9})\.?\s+(\d{4})\b`)
	grandRe     = regexp.MustCompile(`(?i)\bgrand\s*total\b`)
)

var months = map[string]time.Month{
	"jan": time.January, "januari": time.January, "january": time.January,
	"feb": time.February, "februari": time.February, "february": time.February, "peb": time.February,
	"mar": time.March, "maret": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"mei": time.May, "may": time.May,
	"jun": time.June, "juni": time.June, "june": time.June,
	"jul": time.July, "juli": time.July, "july": time.July,
	"agu": time.August, "agt": time.August, "ags": time.August, "agustus": time.August, "aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"okt": time.October, "oktober": time.October, "oct": time.October, "october": time.October,
	"nov": time.November, "nopember": time.November, "november": time.November,
	"des": time.December, "desember": time.December, "dec": time.December, "december": time.December,
}

// RulesParser reads receipt text line by line. Lines it cannot classify are
// ignored, and fields it cannot find stay nil.
type RulesParser struct{}

// Parse turns OCR text into a best-effort scan.
func (RulesParser) Parse(text string) composer.ScanResult {
	res := composer.ScanResult{RawText: text}
	var (
		pending  string
		seenItem bool
		grand    bool
	)
	for _, raw := range strings.Split(text, "\n") {
		line := normalizeLine(raw)
		if line == "" {
			continue
		}
		if d, ok := findDate(line); ok {
			if res.Date == nil {
				res.Date = &d
			}
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case subtotalRe.MatchString(lower), paymentRe.MatchString(lower) && !totalRe.MatchString(lower):
			pending = ""
			continue
		case totalRe.MatchString(lower):
			// the first total wins unless a grand total follows
			if amt, ok := lastAmount(line); ok && amt.IsPositive() && !grand {
				if res.Total == nil || grandRe.MatchString(lower) {
					res.Total = &amt
					grand = grandRe.MatchString(lower)
				}
			}
			pending = ""
			continue
		case discountRe.MatchString(lower):
			if disc, ok := parseDiscount(line); ok {
				res.Discounts = append(res.Discounts, disc)
			}
			pending = ""
			continue
		case feeRe.MatchString(lower):
			if amt, ok := lastAmount(line); ok && amt.IsPositive() {
				name := label(line)
				res.Fees = append(res.Fees, composer.ScanFee{Name: &name, Amount: &amt})
			}
			pending = ""
			continue
		case noiseRe.MatchString(lower):
			continue
		}

		if pending != "" {
			if item, ok := parseQtyOnly(pending, line); ok {
				res.Items = append(res.Items, item)
				pending = ""
				seenItem = true
				continue
			}
		}
		if item, ok := parseItem(line); ok {
			res.Items = append(res.Items, item)
			pending = ""
			seenItem = true
			continue
		}
		if hasLetters(line) && !containsAmount(line) {
			if res.Title == nil && !seenItem {
				title := truncate(line, maxTitleRunes)
				res.Title = &title
				continue
			}
			pending = line
		}
	}
	return res
}

func parseItem(line string) (composer.ScanItem, bool) {
	if m := qtyAtRe.FindStringSubmatch(line); m != nil {
		qty, okQ := parseAmount(m[2])
		unit, okU := parseAmount(m[3])
		if okQ && okU && qty.IsPositive() {
			return newItem(m[1], unit, qty), true
		}
	}
	if m := xQtyRe.FindStringSubmatch(line); m != nil {
		qty, okQ := parseAmount(m[2])
		total, okT := parseAmount(m[3])
		if okQ && okT && qty.IsPositive() {
			return newItem(m[1], total.Div(qty), qty), true
		}
	}
	if m := qtyColsRe.FindStringSubmatch(line); m != nil {
		qty, okQ := parseAmount(m[2])
		unit, okU := parseAmount(m[3])
		total, okT := parseAmount(m[4])
		if okQ && okU && okT && qty.IsPositive() && unit.Mul(qty).Equal(total) {
			return newItem(m[1], unit, qty), true
		}
	}
	if m := simpleRe.FindStringSubmatch(line); m != nil {
		price, ok := parseAmount(m[2])
		if ok && !price.IsZero() && price.Abs().GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return newItem(m[1], price, decimal.NewFromInt(1)), true
		}
	}
	return composer.ScanItem{}, false
}

// parseQtyOnly completes a name-only line with the quantity and price line
// that follows it, or with a lone amount.
func parseQtyOnly(name, line string) (composer.ScanItem, bool) {
	m := qtyOnlyRe.FindStringSubmatch(line)
	if m == nil {
		if price, ok := parseAmount(line); ok && price.Abs().GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return newItem(name, price, decimal.NewFromInt(1)), true
		}
		return composer.ScanItem{}, false
	}
	qty, okQ := parseAmount(m[1])
	unit, okU := parseAmount(m[2])
	if !okQ || !okU || !qty.IsPositive() {
		return composer.ScanItem{}, false
	}
	return newItem(name, unit, qty), true
}

func newItem(name string, price, qty decimal.Decimal) composer.ScanItem {
	n := label(name)
	item := composer.ScanItem{Price: &price, Qty: &qty}
	if n != "" {
		item.Name = &n
	}
	return item
}

func parseDiscount(line string) (composer.ScanDiscount, bool) {
	name := label(line)
	disc := composer.ScanDiscount{Name: &name, Kind: composer.Nominal}
	rest := percentRe.ReplaceAllString(line, "")
	if amt, ok := lastAmount(rest); ok && !amt.IsZero() {
		amt = amt.Abs()
		disc.Amount = &amt
	}
	if m := percentRe.FindStringSubmatch(line); m != nil {
		if pct, ok := parseAmount(m[1]); ok && pct.IsPositive() {
			disc.Kind = composer.Percent
			disc.Value = &pct
		}
	}
	if disc.Amount == nil && disc.Value == nil {
		return composer.ScanDiscount{}, false
	}
	return disc, true
}

func lastAmount(line string) (decimal.Decimal, bool) {
	m := lastNumRe.FindStringSubmatch(line)
	if m == nil {
		return decimal.Zero, false
	}
	return parseAmount(m[1])
}

func containsAmount(line string) bool {
	for _, f := range strings.Fields(line) {
		if d, ok := parseAmount(f); ok && d.Abs().GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return true
		}
	}
	return false
}

// label strips amounts, percentages and separators from a line, leaving the
// descriptive text.
func label(line string) string {
	line = percentRe.ReplaceAllString(line, "")
	fields := strings.Fields(line)
	out := fields[:0]
	for _, f := range fields {
		if _, ok := parseAmount(f); ok {
			continue
		}
		f = strings.Trim(f, ":=*#")
		if f == "" {
			continue
		}
		out = append(out, f)
	}
	return truncate(strings.Join(out, " "), maxTitleRunes)
}

func findDate(line string) (time.Time, bool) {
	if m := dateISORe.FindStringSubmatch(line); m != nil {
		if d, ok := makeDate(m[1], m[2], m[3]); ok {
			return d, true
		}
	}
	if m := dateDMYRe.FindStringSubmatch(line); m != nil {
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		if d, ok := makeDate(year, m[2], m[1]); ok {
			return d, true
		}
	}
	if m := dateWordsRe.FindStringSubmatch(line); m != nil {
		month, ok := months[strings.ToLower(m[2])]
		if !ok {
			return time.Time{}, false
		}
		return makeDate(m[3], strconv.Itoa(int(month)), m[1])
	}
	return time.Time{}, false
}

func makeDate(year, month, day string) (time.Time, bool) {
	y, errY := strconv.Atoi(year)
	mo, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil || y < 2000 || y > 2100 || mo < 1 || mo > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func normalizeLine(s string) string {
	return strings.Join(strings.Fields(stripCurrency(s)), " ")
}

func hasLetters(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
