package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Session is a refresh token issued to a device.
type Session struct {
	ID        pgtype.UUID
	UserID    int64
	ExpiresAt time.Time
}

type CreateSessionParams struct {
	UserID           int64
	RefreshTokenHash string
	UserAgent        string
	IP               string
	ExpiresAt        time.Time
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error) {
	var s Session
	err := q.db.QueryRow(ctx, `
		INSERT INTO sessions (user_id, refresh_token_hash, user_agent, ip, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
		RETURNING id, user_id, expires_at`,
		arg.UserID, arg.RefreshTokenHash, arg.UserAgent, arg.IP, toTimestamptz(arg.ExpiresAt),
	).Scan(&s.ID, &s.UserID, &s.ExpiresAt)
	return s, err
}

func (q *Queries) GetSessionByToken(ctx context.Context, tokenHash string) (Session, error) {
	var s Session
	err := q.db.QueryRow(ctx, `SELECT id, user_id, expires_at FROM sessions WHERE refresh_token_hash = $1`, tokenHash).
		Scan(&s.ID, &s.UserID, &s.ExpiresAt)
	return s, err
}

type RotateSessionTokenParams struct {
	ID               pgtype.UUID
	RefreshTokenHash string
	ExpiresAt        time.Time
}

func (q *Queries) RotateSessionToken(ctx context.Context, arg RotateSessionTokenParams) error {
	_, err := q.db.Exec(ctx, `UPDATE sessions SET refresh_token_hash = $2, expires_at = $3 WHERE id = $1`,
		arg.ID, arg.RefreshTokenHash, toTimestamptz(arg.ExpiresAt))
	return err
}

func (q *Queries) DeleteSessionByToken(ctx context.Context, tokenHash string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM sessions WHERE refresh_token_hash = $1`, tokenHash)
	return err
}

func (q *Queries) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, toTimestamptz(now))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
