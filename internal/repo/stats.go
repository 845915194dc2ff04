package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// StatsScope selects whose transactions are aggregated: the family when
// FamilyID is set, otherwise the single user.
type StatsScope struct {
	UserID   int64
	FamilyID *int64
	Start    time.Time
	End      time.Time
}

func (s StatsScope) where(alias string) (string, []any) {
	if s.FamilyID != nil {
		return fmt.Sprintf("%[1]s.family_id = $1 AND %[1]s.transaction_date >= $2 AND %[1]s.transaction_date < $3", alias),
			[]any{*s.FamilyID, toTimestamptz(s.Start), toTimestamptz(s.End)}
	}
	return fmt.Sprintf("%[1]s.user_id = $1 AND %[1]s.transaction_date >= $2 AND %[1]s.transaction_date < $3", alias),
		[]any{s.UserID, toTimestamptz(s.Start), toTimestamptz(s.End)}
}

type DailyTotal struct {
	Date  time.Time
	Total decimal.Decimal
}

type CategoryTotal struct {
	CategoryID *int64
	Name       string
	Icon       string
	Color      string
	Total      decimal.Decimal
}

type MemberTotal struct {
	UserID    int64
	Name      string
	AvatarURL *string
	Total     decimal.Decimal
}

func (q *Queries) SumTransactions(ctx context.Context, scope StatsScope) (decimal.Decimal, int64, error) {
	where, args := scope.where("t")
	var (
		total decimal.Decimal
		count int64
	)
	err := q.db.QueryRow(ctx, `SELECT COALESCE(SUM(t.total_amount), 0), count(*) FROM transactions t WHERE `+where, args...).
		Scan(&total, &count)
	return total, count, err
}

// DailyTotals groups transaction totals by UTC calendar day.
func (q *Queries) DailyTotals(ctx context.Context, scope StatsScope) ([]DailyTotal, error) {
	where, args := scope.where("t")
	rows, err := q.db.Query(ctx, `
		SELECT (t.transaction_date AT TIME ZONE 'UTC')::date AS day, SUM(t.total_amount)
		FROM transactions t
		WHERE `+where+`
		GROUP BY day
		ORDER BY day`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DailyTotal
	for rows.Next() {
		var (
			day   pgtype.Date
			total decimal.Decimal
		)
		if err := rows.Scan(&day, &total); err != nil {
			return nil, err
		}
		out = append(out, DailyTotal{Date: day.Time, Total: total})
	}
	return out, rows.Err()
}

// CategoryTotals sums item lines (effective price times qty) per category.
// Uncategorised items are reported with a nil CategoryID.
func (q *Queries) CategoryTotals(ctx context.Context, scope StatsScope) ([]CategoryTotal, error) {
	where, args := scope.where("t")
	rows, err := q.db.Query(ctx, `
		SELECT c.id, COALESCE(c.name, ''), COALESCE(c.icon, ''), COALESCE(c.color, ''), SUM(i.price * i.qty) AS total
		FROM transaction_items i
		JOIN transactions t ON t.id = i.transaction_id
		LEFT JOIN categories c ON c.id = i.category_id
		WHERE `+where+`
		GROUP BY c.id, c.name, c.icon, c.color
		ORDER BY total DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CategoryTotal
	for rows.Next() {
		var (
			ct CategoryTotal
			id pgtype.Int8
		)
		if err := rows.Scan(&id, &ct.Name, &ct.Icon, &ct.Color, &ct.Total); err != nil {
			return nil, err
		}
		ct.CategoryID = int8Ptr(id)
		out = append(out, ct)
	}
	return out, rows.Err()
}

// MemberTotals sums family transactions per member, including members
// without spending in the range.
func (q *Queries) MemberTotals(ctx context.Context, familyID int64, start, end time.Time) ([]MemberTotal, error) {
	rows, err := q.db.Query(ctx, `
		SELECT u.id, u.name, u.avatar_url, COALESCE(SUM(t.total_amount), 0) AS total
		FROM users u
		LEFT JOIN transactions t
		       ON t.user_id = u.id AND t.family_id = $1
		      AND t.transaction_date >= $2 AND t.transaction_date < $3
		WHERE u.family_id = $1
		GROUP BY u.id, u.name, u.avatar_url
		ORDER BY total DESC, u.id`, familyID, toTimestamptz(start), toTimestamptz(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MemberTotal
	for rows.Next() {
		var (
			m      MemberTotal
			avatar pgtype.Text
		)
		if err := rows.Scan(&m.UserID, &m.Name, &avatar, &m.Total); err != nil {
			return nil, err
		}
		m.AvatarURL = textPtr(avatar)
		out = append(out, m)
	}
	return out, rows.Err()
}
