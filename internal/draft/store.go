package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-dompet/internal/composer"
)

// Session is a stored draft. TransactionID is set when the draft edits an
// existing transaction.
type Session struct {
	ID            string         `json:"id"`
	UserID        int64          `json:"userId"`
	TransactionID *int64         `json:"transactionId,omitempty"`
	Type          string         `json:"type"`
	Draft         composer.Draft `json:"draft"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

var errMissing = errors.New("draft: not in store")

// Store keeps whole drafts in Redis. Every write replaces the stored value
// and refreshes its TTL.
type Store struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewStore(client redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

func key(userID int64, id string) string {
	return fmt.Sprintf("draft:%d:%s", userID, id)
}

func lockKey(userID int64, id string) string {
	return "lock:" + key(userID, id)
}

func (s *Store) Get(ctx context.Context, userID int64, id string) (Session, error) {
	raw, err := s.client.Get(ctx, key(userID, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, errMissing
		}
		return Session{}, fmt.Errorf("draft get: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("draft decode: %w", err)
	}
	return sess, nil
}

func (s *Store) Put(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("draft encode: %w", err)
	}
	if err := s.client.Set(ctx, key(sess.UserID, sess.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("draft put: %w", err)
	}
	return nil
}

// Delete reports errMissing when nothing was stored under the id.
func (s *Store) Delete(ctx context.Context, userID int64, id string) error {
	n, err := s.client.Del(ctx, key(userID, id)).Result()
	if err != nil {
		return fmt.Errorf("draft delete: %w", err)
	}
	if n == 0 {
		return errMissing
	}
	return nil
}
