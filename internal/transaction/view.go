package transaction

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-dompet/internal/composer"
	"github.com/noah-isme/backend-dompet/internal/repo"
)

// Owner is the member who recorded a transaction.
type Owner struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

// ItemCategory is the category attached to an item.
type ItemCategory struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Icon  string `json:"icon,omitempty"`
	Color string `json:"color,omitempty"`
}

// Item is a stored line item.
type Item struct {
	ID            int64            `json:"id"`
	TransactionID int64            `json:"transactionId"`
	CategoryID    *int64           `json:"categoryId,omitempty"`
	Category      *ItemCategory    `json:"category,omitempty"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	Qty           decimal.Decimal  `json:"qty"`
	BasePrice     *decimal.Decimal `json:"basePrice,omitempty"`
	DiscountType  string           `json:"discountType,omitempty"`
	DiscountValue *decimal.Decimal `json:"discountValue,omitempty"`
}

// Transaction is the client facing shape of a stored transaction.
type Transaction struct {
	ID              int64                      `json:"id"`
	UserID          int64                      `json:"userId"`
	User            Owner                      `json:"user"`
	FamilyID        *int64                     `json:"familyId,omitempty"`
	Title           string                     `json:"title"`
	RawOCRText      string                     `json:"rawOcrText"`
	Type            string                     `json:"type"`
	TransactionDate time.Time                  `json:"transactionDate"`
	TotalAmount     decimal.Decimal            `json:"totalAmount"`
	ItemsTotal      decimal.Decimal            `json:"itemsTotal"`
	Fees            []composer.FinalFee        `json:"fees"`
	Taxes           []composer.FinalAdjustment `json:"taxes"`
	Discounts       []composer.FinalAdjustment `json:"discounts"`
	ImageURL        *string                    `json:"imageUrl,omitempty"`
	Items           []Item                     `json:"items"`
	CreatedAt       time.Time                  `json:"createdAt"`
	UpdatedAt       time.Time                  `json:"updatedAt"`
}

func toView(t repo.Transaction) Transaction {
	out := Transaction{
		ID:              t.ID,
		UserID:          t.UserID,
		User:            Owner{ID: t.UserID, Name: t.UserName, AvatarURL: t.UserAvatarURL},
		FamilyID:        t.FamilyID,
		Title:           t.Title,
		RawOCRText:      t.Title,
		Type:            t.Type,
		TransactionDate: t.TransactionDate,
		TotalAmount:     t.TotalAmount,
		ItemsTotal:      t.ItemsTotal,
		Fees:            nonNil(t.Fees),
		Taxes:           nonNil(t.Taxes),
		Discounts:       nonNil(t.Discounts),
		ImageURL:        t.ImageURL,
		Items:           make([]Item, 0, len(t.Items)),
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
	for _, it := range t.Items {
		item := Item{
			ID:            it.ID,
			TransactionID: it.TransactionID,
			CategoryID:    it.CategoryID,
			Name:          it.Name,
			Price:         it.Price,
			Qty:           it.Qty,
			BasePrice:     it.BasePrice,
			DiscountValue: it.DiscountValue,
		}
		if it.DiscountType != nil {
			item.DiscountType = *it.DiscountType
		}
		if it.CategoryID != nil && it.CategoryName != nil {
			item.Category = &ItemCategory{ID: *it.CategoryID, Name: *it.CategoryName}
			if it.CategoryIcon != nil {
				item.Category.Icon = *it.CategoryIcon
			}
			if it.CategoryColor != nil {
				item.Category.Color = *it.CategoryColor
			}
		}
		out.Items = append(out.Items, item)
	}
	return out
}

// toFinal turns a stored transaction back into a composer snapshot so that
// an edit session can resume from it.
func toFinal(t repo.Transaction) composer.Final {
	f := composer.Final{
		Title:     t.Title,
		Date:      t.TransactionDate,
		Items:     make([]composer.FinalItem, 0, len(t.Items)),
		Fees:      t.Fees,
		Taxes:     t.Taxes,
		Discounts: t.Discounts,
	}
	for _, it := range t.Items {
		fi := composer.FinalItem{
			Name:          it.Name,
			Price:         it.Price,
			Qty:           it.Qty,
			CategoryID:    it.CategoryID,
			BasePrice:     it.BasePrice,
			DiscountValue: it.DiscountValue,
		}
		if it.DiscountType != nil {
			if kind, ok := composer.ParseKind(*it.DiscountType); ok {
				fi.DiscountType = kind
			}
		}
		f.Items = append(f.Items, fi)
	}
	return f
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
