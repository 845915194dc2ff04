package draft

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/composer"
)

// Edit ops.
const (
	OpSetTitle           = "set_title"
	OpSetDate            = "set_date"
	OpAddItem            = "add_item"
	OpRemoveItem         = "remove_item"
	OpUpdateItem         = "update_item"
	OpToggleItemDiscount = "toggle_item_discount"
	OpSetItemCategory    = "set_item_category"
	OpAddFee             = "add_fee"
	OpRemoveFee          = "remove_fee"
	OpAddTax             = "add_tax"
	OpRemoveTax          = "remove_tax"
	OpAddDiscount        = "add_discount"
	OpRemoveDiscount     = "remove_discount"
)

// ErrUnknownOp is returned for an edit whose op is not recognised.
var ErrUnknownOp = errors.New("draft: unknown op")

// Edit is one editing command, e.g.
// {"op":"update_item","index":0,"field":"price","value":"20000"}.
// Value accepts JSON numbers as well as strings.
type Edit struct {
	Op           string         `json:"op"`
	Index        int            `json:"index"`
	Field        string         `json:"field,omitempty"`
	Value        composer.Field `json:"value,omitempty"`
	Name         string         `json:"name,omitempty"`
	Kind         string         `json:"type,omitempty"`
	CategoryID   *int64         `json:"categoryId,omitempty"`
	CategoryName string         `json:"categoryName,omitempty"`
}

// Apply runs e against d and returns the edited draft. d is never modified.
func Apply(d composer.Draft, e Edit) (composer.Draft, error) {
	switch strings.ToLower(strings.TrimSpace(e.Op)) {
	case OpSetTitle:
		return d.SetTitle(string(e.Value)), nil
	case OpSetDate:
		date, err := common.ParseDate(string(e.Value))
		if err != nil {
			return d, fmt.Errorf("%w: date must be YYYY-MM-DD or RFC3339", errBadEdit)
		}
		return d.SetDate(date), nil
	case OpAddItem:
		return d.AddItem(), nil
	case OpRemoveItem:
		return d.RemoveItem(e.Index)
	case OpUpdateItem:
		return d.UpdateItem(e.Index, composer.ItemField(e.Field), string(e.Value))
	case OpToggleItemDiscount:
		return d.ToggleItemDiscount(e.Index)
	case OpSetItemCategory:
		return d.SetItemCategory(e.Index, e.CategoryID, e.CategoryName)
	case OpAddFee:
		return d.AddFee(e.Name, string(e.Value)), nil
	case OpRemoveFee:
		return d.RemoveFee(e.Index)
	case OpAddTax:
		return d.AddTax(e.Name, kindOf(e.Kind), string(e.Value)), nil
	case OpRemoveTax:
		return d.RemoveTax(e.Index)
	case OpAddDiscount:
		return d.AddDiscount(e.Name, kindOf(e.Kind), string(e.Value)), nil
	case OpRemoveDiscount:
		return d.RemoveDiscount(e.Index)
	default:
		return d, fmt.Errorf("%w %q", ErrUnknownOp, e.Op)
	}
}

var errBadEdit = errors.New("draft: invalid edit")

func kindOf(s string) composer.Kind {
	if k, ok := composer.ParseKind(s); ok {
		return k
	}
	return composer.Nominal
}

// editError maps composer edit failures to client errors.
func editError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownOp),
		errors.Is(err, errBadEdit),
		errors.Is(err, composer.ErrIndexOutOfRange),
		errors.Is(err, composer.ErrNoItemDiscount),
		errors.Is(err, composer.ErrUnknownField),
		errors.Is(err, composer.ErrUnknownKind):
		return common.BadRequest(strings.TrimPrefix(strings.TrimPrefix(err.Error(), "draft: "), "composer: "), err)
	default:
		return err
	}
}
