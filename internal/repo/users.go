package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// User is a row of the users table.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	AvatarURL    *string
	FamilyID     *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const userColumns = `id, name, email, password_hash, avatar_url, family_id, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var (
		u      User
		avatar pgtype.Text
		family pgtype.Int8
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &avatar, &family, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	u.AvatarURL = textPtr(avatar)
	u.FamilyID = int8Ptr(family)
	return u, nil
}

type CreateUserParams struct {
	Name         string
	Email        string
	PasswordHash string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns, arg.Name, arg.Email, arg.PasswordHash)
	return scanUser(row)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (q *Queries) GetUserByID(ctx context.Context, id int64) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

type UpdateUserProfileParams struct {
	ID        int64
	Name      string
	AvatarURL *string
}

// UpdateUserProfile keeps the stored avatar when AvatarURL is nil.
func (q *Queries) UpdateUserProfile(ctx context.Context, arg UpdateUserProfileParams) (User, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE users
		SET name = $2, avatar_url = COALESCE($3, avatar_url), updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, arg.ID, arg.Name, toText(arg.AvatarURL))
	return scanUser(row)
}

// SetUserFamily assigns or clears (nil) the user's family.
func (q *Queries) SetUserFamily(ctx context.Context, userID int64, familyID *int64) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET family_id = $2, updated_at = now() WHERE id = $1`, userID, toInt8(familyID))
	return err
}

func (q *Queries) ListUsersByFamily(ctx context.Context, familyID int64) ([]User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE family_id = $1 ORDER BY created_at, id`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
