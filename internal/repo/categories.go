package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Category labels transaction items. Defaults have no owner.
type Category struct {
	ID        int64
	Name      string
	Icon      string
	Color     string
	IsDefault bool
	UserID    *int64
}

const categoryColumns = `id, name, icon, color, is_default, user_id`

func scanCategory(row pgx.Row) (Category, error) {
	var (
		c     Category
		owner pgtype.Int8
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Icon, &c.Color, &c.IsDefault, &owner); err != nil {
		return Category{}, err
	}
	c.UserID = int8Ptr(owner)
	return c, nil
}

// ListCategories returns the defaults followed by the user's own categories.
func (q *Queries) ListCategories(ctx context.Context, userID int64) ([]Category, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+categoryColumns+`
		FROM categories
		WHERE user_id IS NULL OR user_id = $1
		ORDER BY is_default DESC, lower(name)`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type CreateCategoryParams struct {
	UserID int64
	Name   string
	Icon   string
	Color  string
}

func (q *Queries) CreateCategory(ctx context.Context, arg CreateCategoryParams) (Category, error) {
	return scanCategory(q.db.QueryRow(ctx, `
		INSERT INTO categories (name, icon, color, is_default, user_id)
		VALUES ($1, $2, $3, FALSE, $4)
		RETURNING `+categoryColumns, arg.Name, arg.Icon, arg.Color, arg.UserID))
}

// CategoryNameTaken reports whether a default or the user's own category uses name.
func (q *Queries) CategoryNameTaken(ctx context.Context, userID int64, name string) (bool, error) {
	var taken bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM categories
			WHERE (user_id IS NULL OR user_id = $1) AND lower(name) = lower($2)
		)`, userID, name).Scan(&taken)
	return taken, err
}

// CountVisibleCategories counts how many of ids the user may reference.
func (q *Queries) CountVisibleCategories(ctx context.Context, userID int64, ids []int64) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM categories
		WHERE id = ANY($2) AND (user_id IS NULL OR user_id = $1)`, userID, ids).Scan(&n)
	return n, err
}
