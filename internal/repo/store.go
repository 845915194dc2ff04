package repo

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-dompet/internal/db"
)

// Pool is what a Store needs from *pgxpool.Pool.
type Pool interface {
	db.DBTX
	db.TxBeginner
}

// Store pairs Queries with the pool so that multi statement work can run
// inside one transaction.
type Store struct {
	*Queries
	pool Pool
}

func NewStore(pool Pool) *Store {
	return &Store{Queries: New(pool), pool: pool}
}

// InTx runs fn with Queries bound to a transaction and commits on success.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(s.WithTx(tx))
	})
}
