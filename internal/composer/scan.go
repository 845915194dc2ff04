package composer

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ScanResult is a best-effort reading of a receipt. Every field is optional.
type ScanResult struct {
	Title     *string          `json:"title,omitempty"`
	Date      *time.Time       `json:"date,omitempty"`
	Items     []ScanItem       `json:"items,omitempty"`
	Fees      []ScanFee        `json:"fees,omitempty"`
	Discounts []ScanDiscount   `json:"discounts,omitempty"`
	Total     *decimal.Decimal `json:"total,omitempty"`
	RawText   string           `json:"rawText,omitempty"`
}

// ScanItem is a receipt line.
type ScanItem struct {
	Name         *string          `json:"name,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Qty          *decimal.Decimal `json:"qty,omitempty"`
	CategoryID   *int64           `json:"categoryId,omitempty"`
	CategoryName string           `json:"categoryName,omitempty"`
}

// ScanFee is a charge read from a receipt (service, delivery).
type ScanFee struct {
	Name   *string          `json:"name,omitempty"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// ScanDiscount is a receipt level discount.
type ScanDiscount struct {
	Name   *string          `json:"name,omitempty"`
	Kind   Kind             `json:"type,omitempty"`
	Value  *decimal.Decimal `json:"value,omitempty"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// MergeScan folds a scan into the draft. Present title and date overwrite the
// draft's, absent ones leave it untouched. Scanned items replace blank
// placeholders and follow existing items; scanned fees and discounts are
// appended. A discount without an amount resolves against the subtotal at
// merge time.
func MergeScan(d Draft, s ScanResult) Draft {
	out := d.clone()
	if s.Title != nil && strings.TrimSpace(*s.Title) != "" {
		out.Title = strings.TrimSpace(*s.Title)
	}
	if s.Date != nil && !s.Date.IsZero() {
		out.Date = *s.Date
	}

	if len(s.Items) > 0 {
		kept := out.Items[:0]
		for _, it := range out.Items {
			if !it.IsBlank() {
				kept = append(kept, it)
			}
		}
		out.Items = kept
		for _, si := range s.Items {
			out.Items = append(out.Items, scannedItem(si))
		}
	}

	for _, sf := range s.Fees {
		if sf.Amount == nil {
			continue
		}
		out.Fees = append(out.Fees, Fee{Name: deref(sf.Name, "Biaya"), Amount: FieldOf(*sf.Amount)})
	}

	for _, sd := range s.Discounts {
		kind := sd.Kind
		if kind != Percent {
			kind = Nominal
		}
		var value decimal.Decimal
		switch {
		case sd.Value != nil:
			value = *sd.Value
		case sd.Amount != nil:
			value = *sd.Amount
		default:
			continue
		}
		adj := Adjustment{Name: deref(sd.Name, "Diskon"), Kind: kind, Value: FieldOf(value)}
		if sd.Amount != nil {
			adj.Amount = *sd.Amount
		} else {
			adj.Amount = ResolveAmount(kind, value, SubTotal(out))
		}
		out.Discounts = append(out.Discounts, adj)
	}

	if len(out.Items) == 0 {
		out.Items = []LineItem{blankItem()}
	}
	return out
}

func scannedItem(si ScanItem) LineItem {
	item := LineItem{Name: deref(si.Name, ""), Qty: "1", CategoryName: si.CategoryName}
	if si.Price != nil {
		item.Price = FieldOf(*si.Price)
	}
	if si.Qty != nil && si.Qty.IsPositive() {
		item.Qty = FieldOf(*si.Qty)
	}
	if si.CategoryID != nil {
		id := *si.CategoryID
		item.CategoryID = &id
	}
	return item
}

func deref(s *string, fallback string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return fallback
	}
	return strings.TrimSpace(*s)
}
