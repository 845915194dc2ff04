package composer

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FinalItem is a line item ready to be persisted.
type FinalItem struct {
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	Qty           decimal.Decimal  `json:"qty"`
	CategoryID    *int64           `json:"categoryId,omitempty"`
	BasePrice     *decimal.Decimal `json:"basePrice,omitempty"`
	DiscountType  Kind             `json:"discountType,omitempty"`
	DiscountValue *decimal.Decimal `json:"discountValue,omitempty"`
}

// FinalFee is a persisted fee.
type FinalFee struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// FinalAdjustment is a persisted tax or discount.
type FinalAdjustment struct {
	Name   string          `json:"name"`
	Type   Kind            `json:"type"`
	Value  decimal.Decimal `json:"value"`
	Amount decimal.Decimal `json:"amount"`
}

// Final is the snapshot of a submitted draft.
type Final struct {
	Title     string            `json:"title"`
	Date      time.Time         `json:"date"`
	Items     []FinalItem       `json:"items"`
	Fees      []FinalFee        `json:"fees"`
	Taxes     []FinalAdjustment `json:"taxes"`
	Discounts []FinalAdjustment `json:"discounts"`
	Breakdown Breakdown         `json:"breakdown"`
}

// Finalize validates the draft and converts it into its persisted snapshot.
// Item prices are the effective prices at the time of submission.
func Finalize(d Draft) (Final, error) {
	if err := Validate(d); err != nil {
		return Final{}, err
	}
	out := Final{
		Title:     strings.TrimSpace(d.Title),
		Date:      d.Date,
		Items:     make([]FinalItem, 0, len(d.Items)),
		Fees:      make([]FinalFee, 0, len(d.Fees)),
		Taxes:     finalAdjustments(d.Taxes),
		Discounts: finalAdjustments(d.Discounts),
		Breakdown: Compute(d),
	}
	for _, item := range d.Items {
		fi := FinalItem{
			Name:  strings.TrimSpace(item.Name),
			Price: EffectivePrice(item),
			Qty:   item.Qty.Decimal(),
		}
		if item.CategoryID != nil {
			id := *item.CategoryID
			fi.CategoryID = &id
		}
		if item.Discount != nil && !item.Discount.BasePrice.IsEmpty() {
			base := item.Discount.BasePrice.Decimal()
			value := item.Discount.Value.Decimal()
			fi.BasePrice = &base
			fi.DiscountType = item.Discount.Kind
			fi.DiscountValue = &value
		}
		out.Items = append(out.Items, fi)
	}
	for _, fee := range d.Fees {
		out.Fees = append(out.Fees, FinalFee{Name: fee.Name, Amount: fee.Amount.Decimal()})
	}
	return out, nil
}

func finalAdjustments(in []Adjustment) []FinalAdjustment {
	out := make([]FinalAdjustment, 0, len(in))
	for _, adj := range in {
		out = append(out, FinalAdjustment{
			Name:   adj.Name,
			Type:   adj.Kind,
			Value:  adj.Value.Decimal(),
			Amount: adj.Amount,
		})
	}
	return out
}

// FromFinal rebuilds an editable draft from a persisted snapshot. Stored tax and
// discount amounts are kept as they are.
func FromFinal(f Final) Draft {
	d := Draft{Title: f.Title, Date: f.Date}
	for _, fi := range f.Items {
		item := LineItem{
			Name:  fi.Name,
			Price: FieldOf(fi.Price),
			Qty:   FieldOf(fi.Qty),
		}
		if fi.CategoryID != nil {
			id := *fi.CategoryID
			item.CategoryID = &id
		}
		if fi.BasePrice != nil && fi.DiscountType != "" {
			disc := &ItemDiscount{BasePrice: FieldOf(*fi.BasePrice), Kind: fi.DiscountType, Value: "0"}
			if fi.DiscountValue != nil {
				disc.Value = FieldOf(*fi.DiscountValue)
			}
			item.Discount = disc
		}
		d.Items = append(d.Items, item)
	}
	if len(d.Items) == 0 {
		d.Items = []LineItem{blankItem()}
	}
	for _, fee := range f.Fees {
		d.Fees = append(d.Fees, Fee{Name: fee.Name, Amount: FieldOf(fee.Amount)})
	}
	for _, tax := range f.Taxes {
		d.Taxes = append(d.Taxes, Adjustment{Name: tax.Name, Kind: tax.Type, Value: FieldOf(tax.Value), Amount: tax.Amount})
	}
	for _, disc := range f.Discounts {
		d.Discounts = append(d.Discounts, Adjustment{Name: disc.Name, Kind: disc.Type, Value: FieldOf(disc.Value), Amount: disc.Amount})
	}
	return d
}
