package transaction

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/composer"
)

// Transaction types accepted from clients.
const (
	TypeReceipt = "RECEIPT"
	TypeQRIS    = "QRIS"
	TypeManual  = "MANUAL"
)

// ItemInput is an item as the edit screen submits it. Price is the
// effective unit price; with a discount it is re-derived from BasePrice.
type ItemInput struct {
	Name          string         `json:"name"`
	Price         composer.Field `json:"price"`
	Qty           composer.Field `json:"qty"`
	CategoryID    *int64         `json:"categoryId"`
	BasePrice     composer.Field `json:"basePrice"`
	DiscountType  string         `json:"discountType"`
	DiscountValue composer.Field `json:"discountValue"`
}

// FeeInput is a flat fee.
type FeeInput struct {
	Name   string         `json:"name"`
	Amount composer.Field `json:"amount"`
}

// AdjustmentInput is a tax or global discount. A non-empty Amount is taken as
// the snapshot the client resolved; otherwise it is resolved here in order.
type AdjustmentInput struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Value  composer.Field `json:"value"`
	Amount composer.Field `json:"amount"`
}

// Input is a create or update submission. Any client supplied total is
// ignored; the total is always recomputed.
type Input struct {
	Title           string            `json:"title"`
	RawOCRText      string            `json:"rawOcrText"`
	Type            string            `json:"type"`
	TransactionDate string            `json:"transactionDate"`
	Items           []ItemInput       `json:"items"`
	Fees            []FeeInput        `json:"fees"`
	Taxes           []AdjustmentInput `json:"taxes"`
	Discounts       []AdjustmentInput `json:"discounts"`
}

// Meta is the part of a submission that is not a cost figure.
type Meta struct {
	Type     string
	ImageURL *string
}

func (in Input) title() string {
	if t := strings.TrimSpace(in.Title); t != "" {
		return t
	}
	return strings.TrimSpace(in.RawOCRText)
}

// NormalizeType upper-cases t and defaults to MANUAL.
func NormalizeType(t string) (string, error) {
	switch v := strings.ToUpper(strings.TrimSpace(t)); v {
	case "":
		return TypeManual, nil
	case TypeReceipt, TypeQRIS, TypeManual:
		return v, nil
	default:
		return "", common.Unprocessable("invalid transaction type",
			map[string]string{"type": "must be one of RECEIPT QRIS MANUAL"})
	}
}

// Draft rebuilds the composer draft the client was editing. Taxes and
// discounts without an amount are added in order, so each resolves against
// the subtotal that precedes it.
func (in Input) Draft(now time.Time) (composer.Draft, error) {
	date := now
	if raw := strings.TrimSpace(in.TransactionDate); raw != "" {
		parsed, err := common.ParseDate(raw)
		if err != nil {
			return composer.Draft{}, common.Unprocessable("invalid transactionDate",
				map[string]string{"transactionDate": "must be a date (YYYY-MM-DD) or RFC3339 timestamp"})
		}
		date = parsed
	}
	d := composer.Draft{Title: in.title(), Date: date}
	for _, it := range in.Items {
		item := composer.LineItem{
			Name:  it.Name,
			Price: it.Price,
			Qty:   it.Qty,
		}
		if it.CategoryID != nil {
			id := *it.CategoryID
			item.CategoryID = &id
		}
		if kind, ok := composer.ParseKind(it.DiscountType); ok && !it.BasePrice.IsEmpty() {
			item.Discount = &composer.ItemDiscount{BasePrice: it.BasePrice, Kind: kind, Value: it.DiscountValue}
		}
		d = d.AppendItem(item)
	}
	for _, fee := range in.Fees {
		d = d.AddFee(fee.Name, string(fee.Amount))
	}
	for _, tax := range in.Taxes {
		d = withAdjustment(d, tax, composer.Draft.AddTax, func(d composer.Draft, a composer.Adjustment) composer.Draft {
			d.Taxes = append(append([]composer.Adjustment(nil), d.Taxes...), a)
			return d
		})
	}
	for _, disc := range in.Discounts {
		d = withAdjustment(d, disc, composer.Draft.AddDiscount, func(d composer.Draft, a composer.Adjustment) composer.Draft {
			d.Discounts = append(append([]composer.Adjustment(nil), d.Discounts...), a)
			return d
		})
	}
	return d, nil
}

func withAdjustment(
	d composer.Draft,
	in AdjustmentInput,
	add func(composer.Draft, string, composer.Kind, string) composer.Draft,
	keep func(composer.Draft, composer.Adjustment) composer.Draft,
) composer.Draft {
	kind, ok := composer.ParseKind(in.Type)
	if !ok {
		kind = composer.Nominal
	}
	if in.Amount.IsEmpty() {
		return add(d, in.Name, kind, string(in.Value))
	}
	if strings.TrimSpace(in.Name) == "" {
		return d
	}
	value := in.Value
	if value.IsEmpty() {
		value = in.Amount
	}
	return keep(d, composer.Adjustment{Name: in.Name, Kind: kind, Value: value, Amount: in.Amount.Decimal()})
}

// formFields decodes the client's multipart submission, where collections
// arrive as JSON strings.
func formFields(get func(string) string) (Input, error) {
	in := Input{
		Title:           get("title"),
		RawOCRText:      get("rawOcrText"),
		Type:            get("type"),
		TransactionDate: get("transactionDate"),
	}
	fields := []struct {
		name string
		dst  any
	}{
		{"items", &in.Items},
		{"fees", &in.Fees},
		{"taxes", &in.Taxes},
		{"discounts", &in.Discounts},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(get(f.name))
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), f.dst); err != nil {
			return Input{}, common.BadRequest(f.name+" must be a JSON array", err)
		}
	}
	return in, nil
}
