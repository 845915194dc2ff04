// Package composer computes the payable total of a transaction draft from its
// line items, fees, taxes and global discounts.
//
// Item discounts are always derived live from their base price. Tax and global
// discount amounts are snapshots taken when the entry is added and are never
// recalculated, so the order of edits affects the final total.
package composer

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemDiscount reduces a single line item's unit price.
type ItemDiscount struct {
	BasePrice Field `json:"basePrice"`
	Kind      Kind  `json:"discountType"`
	Value     Field `json:"discountValue"`
}

// LineItem is one purchased product. Price holds the effective unit price; when
// Discount is set it is derived from the discount inputs.
type LineItem struct {
	Name         string        `json:"name"`
	Price        Field         `json:"price"`
	Qty          Field         `json:"qty"`
	CategoryID   *int64        `json:"categoryId,omitempty"`
	CategoryName string        `json:"categoryName,omitempty"`
	Discount     *ItemDiscount `json:"discount,omitempty"`
}

// Fee is a flat charge added before discounts.
type Fee struct {
	Name   string `json:"name"`
	Amount Field  `json:"amount"`
}

// Adjustment is a tax or a global discount. Amount is resolved once, against the
// subtotal that existed when the adjustment was added.
type Adjustment struct {
	Name   string          `json:"name"`
	Kind   Kind            `json:"type"`
	Value  Field           `json:"value"`
	Amount decimal.Decimal `json:"amount"`
}

// Draft is an in-progress transaction. Edits return a new Draft and never
// modify the receiver.
type Draft struct {
	Title     string       `json:"title"`
	Date      time.Time    `json:"date"`
	Items     []LineItem   `json:"items"`
	Fees      []Fee        `json:"fees"`
	Taxes     []Adjustment `json:"taxes"`
	Discounts []Adjustment `json:"discounts"`
}

// Breakdown lists every intermediate sum of Compute.
type Breakdown struct {
	ItemsTotal     decimal.Decimal `json:"itemsTotal"`
	FeesTotal      decimal.Decimal `json:"feesTotal"`
	TaxesTotal     decimal.Decimal `json:"taxesTotal"`
	SubTotal       decimal.Decimal `json:"subTotal"`
	DiscountsTotal decimal.Decimal `json:"discountsTotal"`
	Total          decimal.Decimal `json:"total"`
}

// ResolveAmount converts a kind/value pair into an amount relative to base.
// Anything other than Percent is treated as a nominal amount.
func ResolveAmount(kind Kind, value, base decimal.Decimal) decimal.Decimal {
	if kind == Percent {
		return base.Mul(value).Div(hundred)
	}
	return value
}

// EffectivePrice returns the unit price of an item after its own discount.
// A discount without a base price is inert and the stored price is used.
func EffectivePrice(item LineItem) decimal.Decimal {
	if item.Discount == nil || item.Discount.BasePrice.IsEmpty() {
		return item.Price.Decimal()
	}
	base := item.Discount.BasePrice.Decimal()
	off := ResolveAmount(item.Discount.Kind, item.Discount.Value.Decimal(), base)
	return nonNegative(base.Sub(off))
}

// Compute aggregates the draft into its payable total.
func Compute(d Draft) Breakdown {
	var b Breakdown
	for _, item := range d.Items {
		b.ItemsTotal = b.ItemsTotal.Add(EffectivePrice(item).Mul(item.Qty.Decimal()))
	}
	for _, fee := range d.Fees {
		b.FeesTotal = b.FeesTotal.Add(fee.Amount.Decimal())
	}
	for _, tax := range d.Taxes {
		b.TaxesTotal = b.TaxesTotal.Add(tax.Amount)
	}
	b.SubTotal = b.ItemsTotal.Add(b.FeesTotal).Add(b.TaxesTotal)
	for _, discount := range d.Discounts {
		b.DiscountsTotal = b.DiscountsTotal.Add(discount.Amount)
	}
	b.Total = nonNegative(b.SubTotal.Sub(b.DiscountsTotal))
	return b
}

// Total is shorthand for Compute(d).Total.
func Total(d Draft) decimal.Decimal {
	return Compute(d).Total
}

// SubTotal is the base a newly added tax or discount resolves against.
func SubTotal(d Draft) decimal.Decimal {
	return Compute(d).SubTotal
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
