package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-dompet/internal/composer"
)

// Transaction is a persisted expense together with its owner summary.
type Transaction struct {
	ID              int64
	UserID          int64
	FamilyID        *int64
	Title           string
	Type            string
	TransactionDate time.Time
	TotalAmount     decimal.Decimal
	ItemsTotal      decimal.Decimal
	Fees            []composer.FinalFee
	Taxes           []composer.FinalAdjustment
	Discounts       []composer.FinalAdjustment
	ImageURL        *string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	UserName      string
	UserAvatarURL *string
	Items         []TransactionItem
}

// TransactionItem is one stored line with category details joined in.
type TransactionItem struct {
	ID            int64
	TransactionID int64
	Position      int
	CategoryID    *int64
	CategoryName  *string
	CategoryIcon  *string
	CategoryColor *string
	Name          string
	Price         decimal.Decimal
	Qty           decimal.Decimal
	BasePrice     *decimal.Decimal
	DiscountType  *string
	DiscountValue *decimal.Decimal
}

type TransactionParams struct {
	UserID          int64
	FamilyID        *int64
	Title           string
	Type            string
	TransactionDate time.Time
	TotalAmount     decimal.Decimal
	ItemsTotal      decimal.Decimal
	Fees            []composer.FinalFee
	Taxes           []composer.FinalAdjustment
	Discounts       []composer.FinalAdjustment
	ImageURL        *string
}

type ItemParams struct {
	CategoryID    *int64
	Name          string
	Price         decimal.Decimal
	Qty           decimal.Decimal
	BasePrice     *decimal.Decimal
	DiscountType  *string
	DiscountValue *decimal.Decimal
}

const transactionSelect = `
	SELECT t.id, t.user_id, t.family_id, t.title, t.type, t.transaction_date,
	       t.total_amount, t.items_total, t.fees, t.taxes, t.discounts, t.image_url,
	       t.created_at, t.updated_at, u.name, u.avatar_url
	FROM transactions t
	JOIN users u ON u.id = t.user_id`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t        Transaction
		family   pgtype.Int8
		image    pgtype.Text
		avatar   pgtype.Text
		total    decimal.Decimal
		itemsSum decimal.Decimal
	)
	err := row.Scan(&t.ID, &t.UserID, &family, &t.Title, &t.Type, &t.TransactionDate,
		&total, &itemsSum, &t.Fees, &t.Taxes, &t.Discounts, &image,
		&t.CreatedAt, &t.UpdatedAt, &t.UserName, &avatar)
	if err != nil {
		return Transaction{}, err
	}
	t.FamilyID = int8Ptr(family)
	t.ImageURL = textPtr(image)
	t.UserAvatarURL = textPtr(avatar)
	t.TotalAmount = total
	t.ItemsTotal = itemsSum
	return t, nil
}

func emptyIfNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func (q *Queries) InsertTransaction(ctx context.Context, arg TransactionParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO transactions (user_id, family_id, title, type, transaction_date, total_amount,
		                          items_total, fees, taxes, discounts, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		arg.UserID, toInt8(arg.FamilyID), arg.Title, arg.Type, toTimestamptz(arg.TransactionDate),
		arg.TotalAmount, arg.ItemsTotal, emptyIfNil(arg.Fees), emptyIfNil(arg.Taxes), emptyIfNil(arg.Discounts),
		toText(arg.ImageURL),
	).Scan(&id)
	return id, err
}

// UpdateTransaction rewrites a transaction. The owner and family snapshot are
// never changed; a nil ImageURL keeps the stored image.
func (q *Queries) UpdateTransaction(ctx context.Context, id int64, arg TransactionParams) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE transactions
		SET title = $2, type = $3, transaction_date = $4, total_amount = $5, items_total = $6,
		    fees = $7, taxes = $8, discounts = $9, image_url = COALESCE($10, image_url), updated_at = now()
		WHERE id = $1`,
		id, arg.Title, arg.Type, toTimestamptz(arg.TransactionDate), arg.TotalAmount, arg.ItemsTotal,
		emptyIfNil(arg.Fees), emptyIfNil(arg.Taxes), emptyIfNil(arg.Discounts), toText(arg.ImageURL),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ReplaceItems drops the stored items of a transaction and inserts items in order.
func (q *Queries) ReplaceItems(ctx context.Context, transactionID int64, items []ItemParams) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM transaction_items WHERE transaction_id = $1`, transactionID); err != nil {
		return err
	}
	for i, item := range items {
		var discountType pgtype.Text
		if item.DiscountType != nil {
			discountType = pgtype.Text{String: *item.DiscountType, Valid: true}
		}
		_, err := q.db.Exec(ctx, `
			INSERT INTO transaction_items (transaction_id, position, category_id, name, price, qty,
			                               base_price, discount_type, discount_value)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			transactionID, i, toInt8(item.CategoryID), item.Name, item.Price, item.Qty,
			nullDecimal(item.BasePrice), discountType, nullDecimal(item.DiscountValue),
		)
		if err != nil {
			return fmt.Errorf("insert item %d: %w", i, err)
		}
	}
	return nil
}

func (q *Queries) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	t, err := scanTransaction(q.db.QueryRow(ctx, transactionSelect+` WHERE t.id = $1`, id))
	if err != nil {
		return Transaction{}, err
	}
	items, err := q.ListItems(ctx, []int64{id})
	if err != nil {
		return Transaction{}, err
	}
	t.Items = items[id]
	return t, nil
}

func (q *Queries) DeleteTransaction(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListFilter narrows a transaction history query. UserID or FamilyID selects
// the scope; the remaining fields are optional.
type ListFilter struct {
	UserID     int64
	FamilyID   *int64
	MemberID   *int64
	Start      *time.Time
	End        *time.Time
	ItemName   string
	CategoryID *int64
	Limit      int
	Offset     int
}

func buildListQuery(f ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.FamilyID != nil {
		where = append(where, "t.family_id = "+arg(*f.FamilyID))
		if f.MemberID != nil {
			where = append(where, "t.user_id = "+arg(*f.MemberID))
		}
	} else {
		where = append(where, "t.user_id = "+arg(f.UserID))
	}
	if f.Start != nil {
		where = append(where, "t.transaction_date >= "+arg(toTimestamptz(*f.Start)))
	}
	if f.End != nil {
		where = append(where, "t.transaction_date < "+arg(toTimestamptz(*f.End)))
	}
	if name := strings.TrimSpace(f.ItemName); name != "" {
		p := arg("%" + escapeLike(name) + "%")
		where = append(where, "(t.title ILIKE "+p+" OR EXISTS (SELECT 1 FROM transaction_items i WHERE i.transaction_id = t.id AND i.name ILIKE "+p+"))")
	}
	if f.CategoryID != nil {
		where = append(where, "EXISTS (SELECT 1 FROM transaction_items i WHERE i.transaction_id = t.id AND i.category_id = "+arg(*f.CategoryID)+")")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	sql := transactionSelect + " WHERE " + strings.Join(where, " AND ") +
		" ORDER BY t.transaction_date DESC, t.id DESC LIMIT " + arg(limit)
	if f.Offset > 0 {
		sql += " OFFSET " + arg(f.Offset)
	}
	return sql, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListTransactions returns matching transactions with their items loaded.
func (q *Queries) ListTransactions(ctx context.Context, f ListFilter) ([]Transaction, error) {
	sql, args := buildListQuery(f)
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var (
		out []Transaction
		ids []int64
	)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, t)
		ids = append(ids, t.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	items, err := q.ListItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

// ListItems loads the items of the given transactions keyed by transaction id.
func (q *Queries) ListItems(ctx context.Context, transactionIDs []int64) (map[int64][]TransactionItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT i.id, i.transaction_id, i.position, i.category_id, c.name, c.icon, c.color,
		       i.name, i.price, i.qty, i.base_price, i.discount_type, i.discount_value
		FROM transaction_items i
		LEFT JOIN categories c ON c.id = i.category_id
		WHERE i.transaction_id = ANY($1)
		ORDER BY i.transaction_id, i.position`, transactionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]TransactionItem, len(transactionIDs))
	for rows.Next() {
		var it TransactionItem
		var category pgtype.Int8
		var name, icon, color, dtype pgtype.Text
		var base, discountVal decimal.NullDecimal
		if err := rows.Scan(&it.ID, &it.TransactionID, &it.Position, &category, &name, &icon, &color,
			&it.Name, &it.Price, &it.Qty, &base, &dtype, &discountVal); err != nil {
			return nil, err
		}
		it.CategoryID = int8Ptr(category)
		it.CategoryName = textPtr(name)
		it.CategoryIcon = textPtr(icon)
		it.CategoryColor = textPtr(color)
		it.DiscountType = textPtr(dtype)
		it.BasePrice = decimalPtr(base)
		it.DiscountValue = decimalPtr(discountVal)
		out[it.TransactionID] = append(out[it.TransactionID], it)
	}
	return out, rows.Err()
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
