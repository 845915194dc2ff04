package composer

import (
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	// ErrIndexOutOfRange is returned when an edit addresses a missing entry.
	ErrIndexOutOfRange = errors.New("composer: index out of range")
	// ErrNoItemDiscount is returned when editing discount fields of an item without a discount.
	ErrNoItemDiscount = errors.New("composer: item has no discount")
	// ErrUnknownField is returned for item fields that cannot be edited.
	ErrUnknownField = errors.New("composer: unknown item field")
	// ErrUnknownKind is returned when a discount type is neither PERCENT nor NOMINAL.
	ErrUnknownKind = errors.New("composer: unknown adjustment kind")
)

// ItemField names an editable line item field.
type ItemField string

const (
	FieldName          ItemField = "name"
	FieldPrice         ItemField = "price"
	FieldQty           ItemField = "qty"
	FieldBasePrice     ItemField = "basePrice"
	FieldDiscountType  ItemField = "discountType"
	FieldDiscountValue ItemField = "discountValue"
)

// NewDraft returns an empty draft holding one blank item.
func NewDraft() Draft {
	return Draft{Items: []LineItem{blankItem()}}
}

func blankItem() LineItem {
	return LineItem{Qty: "1"}
}

// IsBlank reports whether the item is an untouched placeholder.
func (it LineItem) IsBlank() bool {
	return strings.TrimSpace(it.Name) == "" && it.Price.IsEmpty()
}

func (it LineItem) clone() LineItem {
	out := it
	if it.CategoryID != nil {
		id := *it.CategoryID
		out.CategoryID = &id
	}
	if it.Discount != nil {
		disc := *it.Discount
		out.Discount = &disc
	}
	return out
}

func (d Draft) clone() Draft {
	out := d
	out.Items = make([]LineItem, len(d.Items))
	for i, it := range d.Items {
		out.Items[i] = it.clone()
	}
	out.Fees = slices.Clone(d.Fees)
	out.Taxes = slices.Clone(d.Taxes)
	out.Discounts = slices.Clone(d.Discounts)
	return out
}

// SetTitle replaces the title.
func (d Draft) SetTitle(title string) Draft {
	out := d.clone()
	out.Title = title
	return out
}

// SetDate replaces the transaction date.
func (d Draft) SetDate(date time.Time) Draft {
	out := d.clone()
	out.Date = date
	return out
}

// AddItem appends a blank item with quantity 1.
func (d Draft) AddItem() Draft {
	out := d.clone()
	out.Items = append(out.Items, blankItem())
	return out
}

// AppendItem appends a prepared item.
func (d Draft) AppendItem(item LineItem) Draft {
	out := d.clone()
	out.Items = append(out.Items, settle(item.clone()))
	return out
}

// RemoveItem deletes an item. The last remaining item is never removed.
func (d Draft) RemoveItem(index int) (Draft, error) {
	if index < 0 || index >= len(d.Items) {
		return d, ErrIndexOutOfRange
	}
	if len(d.Items) == 1 {
		return d, nil
	}
	out := d.clone()
	out.Items = slices.Delete(out.Items, index, index+1)
	return out, nil
}

// UpdateItem sets a single field of an item. When the item carries a discount
// its price is re-derived from the discount inputs after every change.
func (d Draft) UpdateItem(index int, field ItemField, value string) (Draft, error) {
	if index < 0 || index >= len(d.Items) {
		return d, ErrIndexOutOfRange
	}
	out := d.clone()
	item := out.Items[index]
	switch field {
	case FieldName:
		item.Name = value
	case FieldPrice:
		item.Price = Field(value)
	case FieldQty:
		item.Qty = Field(value)
	case FieldBasePrice, FieldDiscountType, FieldDiscountValue:
		if item.Discount == nil {
			return d, ErrNoItemDiscount
		}
		switch field {
		case FieldBasePrice:
			item.Discount.BasePrice = Field(value)
		case FieldDiscountValue:
			item.Discount.Value = Field(value)
		default:
			kind, ok := ParseKind(value)
			if !ok {
				return d, ErrUnknownKind
			}
			item.Discount.Kind = kind
		}
	default:
		return d, ErrUnknownField
	}
	out.Items[index] = settle(item)
	return out, nil
}

// ToggleItemDiscount enables a zero percent discount based on the current price,
// or removes an existing discount while keeping the derived price.
func (d Draft) ToggleItemDiscount(index int) (Draft, error) {
	if index < 0 || index >= len(d.Items) {
		return d, ErrIndexOutOfRange
	}
	out := d.clone()
	item := out.Items[index]
	if item.Discount != nil {
		item.Discount = nil
	} else {
		item.Discount = &ItemDiscount{BasePrice: item.Price, Kind: Percent, Value: "0"}
	}
	out.Items[index] = settle(item)
	return out, nil
}

// SetItemCategory assigns a category to an item. A nil id clears it.
func (d Draft) SetItemCategory(index int, categoryID *int64, name string) (Draft, error) {
	if index < 0 || index >= len(d.Items) {
		return d, ErrIndexOutOfRange
	}
	out := d.clone()
	item := out.Items[index]
	if categoryID == nil {
		item.CategoryID = nil
		item.CategoryName = ""
	} else {
		id := *categoryID
		item.CategoryID = &id
		item.CategoryName = name
	}
	out.Items[index] = item
	return out, nil
}

// AddFee appends a flat fee. Entries without a name or amount are ignored.
func (d Draft) AddFee(name, amount string) Draft {
	if strings.TrimSpace(name) == "" || Field(amount).IsEmpty() {
		return d
	}
	out := d.clone()
	out.Fees = append(out.Fees, Fee{Name: name, Amount: Field(amount)})
	return out
}

// RemoveFee deletes a fee.
func (d Draft) RemoveFee(index int) (Draft, error) {
	if index < 0 || index >= len(d.Fees) {
		return d, ErrIndexOutOfRange
	}
	out := d.clone()
	out.Fees = slices.Delete(out.Fees, index, index+1)
	return out, nil
}

// AddTax appends a tax whose amount is fixed against the current subtotal.
// Entries without a name or value are ignored.
func (d Draft) AddTax(name string, kind Kind, value string) Draft {
	adj, ok := d.resolveAdjustment(name, kind, value)
	if !ok {
		return d
	}
	out := d.clone()
	out.Taxes = append(out.Taxes, adj)
	return out
}

// RemoveTax deletes a tax. Remaining amounts are left as they were.
func (d Draft) RemoveTax(index int) (Draft, error) {
	if index < 0 || index >= len(d.Taxes) {
		return d, ErrIndexOutOfRange
	}
	out := d.clone()
	out.Taxes = slices.Delete(out.Taxes, index, index+1)
	return out, nil
}

// AddDiscount appends a global discount whose amount is fixed against the
// current subtotal. Entries without a name or value are ignored.
func (d Draft) AddDiscount(name string, kind Kind, value string) Draft {
	adj, ok := d.resolveAdjustment(name, kind, value)
	if !ok {
		return d
	}
	out := d.clone()
	out.Discounts = append(out.Discounts, adj)
	return out
}

// RemoveDiscount deletes a global discount.
func (d Draft) RemoveDiscount(index int) (Draft, error) {
	if index < 0 || index >= len(d.Discounts) {
		return d, ErrIndexOutOfRange
	}
	out := d.clone()
	out.Discounts = slices.Delete(out.Discounts, index, index+1)
	return out, nil
}

func (d Draft) resolveAdjustment(name string, kind Kind, value string) (Adjustment, bool) {
	if strings.TrimSpace(name) == "" || Field(value).IsEmpty() {
		return Adjustment{}, false
	}
	if kind != Percent {
		kind = Nominal
	}
	raw := Field(value)
	return Adjustment{
		Name:   name,
		Kind:   kind,
		Value:  raw,
		Amount: ResolveAmount(kind, raw.Decimal(), SubTotal(d)),
	}, true
}

// settle keeps Price in step with an active discount.
func settle(item LineItem) LineItem {
	if item.Discount != nil && !item.Discount.BasePrice.IsEmpty() {
		item.Price = FieldOf(EffectivePrice(item))
	}
	return item
}
