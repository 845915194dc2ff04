package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Family groups users that share a transaction history.
type Family struct {
	ID         int64
	Name       string
	InviteCode string
	AdminID    int64
	AvatarURL  *string
	CreatedAt  time.Time
}

const familyColumns = `id, name, invite_code, admin_id, avatar_url, created_at`

func scanFamily(row pgx.Row) (Family, error) {
	var (
		f      Family
		avatar pgtype.Text
	)
	if err := row.Scan(&f.ID, &f.Name, &f.InviteCode, &f.AdminID, &avatar, &f.CreatedAt); err != nil {
		return Family{}, err
	}
	f.AvatarURL = textPtr(avatar)
	return f, nil
}

type CreateFamilyParams struct {
	Name       string
	InviteCode string
	AdminID    int64
}

func (q *Queries) CreateFamily(ctx context.Context, arg CreateFamilyParams) (Family, error) {
	return scanFamily(q.db.QueryRow(ctx, `
		INSERT INTO families (name, invite_code, admin_id)
		VALUES ($1, $2, $3)
		RETURNING `+familyColumns, arg.Name, arg.InviteCode, arg.AdminID))
}

func (q *Queries) GetFamilyByID(ctx context.Context, id int64) (Family, error) {
	return scanFamily(q.db.QueryRow(ctx, `SELECT `+familyColumns+` FROM families WHERE id = $1`, id))
}

func (q *Queries) GetFamilyByInviteCode(ctx context.Context, code string) (Family, error) {
	return scanFamily(q.db.QueryRow(ctx, `SELECT `+familyColumns+` FROM families WHERE invite_code = $1`, code))
}

type UpdateFamilyParams struct {
	ID        int64
	Name      string
	AvatarURL *string
}

func (q *Queries) UpdateFamily(ctx context.Context, arg UpdateFamilyParams) (Family, error) {
	return scanFamily(q.db.QueryRow(ctx, `
		UPDATE families
		SET name = $2, avatar_url = COALESCE($3, avatar_url), updated_at = now()
		WHERE id = $1
		RETURNING `+familyColumns, arg.ID, arg.Name, toText(arg.AvatarURL)))
}

func (q *Queries) DeleteFamily(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM families WHERE id = $1`, id)
	return err
}

func (q *Queries) CountFamilyMembers(ctx context.Context, familyID int64) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM users WHERE family_id = $1`, familyID).Scan(&n)
	return n, err
}
