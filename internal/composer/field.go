package composer

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel to the mobile client as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

var hundred = decimal.NewFromInt(100)

// maxNumberLen bounds numeric input. Exponent forms are rejected because
// decimal expands them to their full digit string.
const maxNumberLen = 64

var plainNumber = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// parseNumber reads a plain decimal literal. Anything else is zero.
func parseNumber(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if len(s) > maxNumberLen || !plainNumber.MatchString(s) {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Field is a raw numeric form input. The raw text is kept as typed by the user
// while computations coerce it with Decimal.
type Field string

// FieldOf renders a decimal as a Field.
func FieldOf(d decimal.Decimal) Field {
	return Field(d.String())
}

// Decimal parses the field. Empty or non-numeric input yields zero.
func (f Field) Decimal() decimal.Decimal {
	return parseNumber(string(f))
}

// IsEmpty reports whether nothing was entered.
func (f Field) IsEmpty() bool {
	return strings.TrimSpace(string(f)) == ""
}

// UnmarshalJSON accepts strings, numbers and null.
func (f *Field) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = Field(s)
		return nil
	}
	*f = Field(trimmed)
	return nil
}

// UnmarshalJSON reads the snapshotted amount with the same rules as Field, so
// a client-held draft cannot smuggle exponent forms into Compute.
func (a *Adjustment) UnmarshalJSON(b []byte) error {
	type plain Adjustment
	var raw struct {
		plain
		Amount Field `json:"amount"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = Adjustment(raw.plain)
	a.Amount = raw.Amount.Decimal()
	return nil
}

// Kind selects how an adjustment value is interpreted.
type Kind string

const (
	// Percent values are a percentage of a base amount.
	Percent Kind = "PERCENT"
	// Nominal values are a flat amount.
	Nominal Kind = "NOMINAL"
)

// ParseKind normalises a kind name. Unknown names report false.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(Percent):
		return Percent, true
	case string(Nominal):
		return Nominal, true
	default:
		return "", false
	}
}
