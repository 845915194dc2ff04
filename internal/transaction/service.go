// Package transaction records composed expenses and serves the history and
// detail screens.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/composer"
	"github.com/noah-isme/backend-dompet/internal/db"
	"github.com/noah-isme/backend-dompet/internal/obs"
	"github.com/noah-isme/backend-dompet/internal/repo"
	"github.com/noah-isme/backend-dompet/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	recentLimit      = 5
)

var (
	ErrNotFound  = common.NotFound("transaction not found", nil)
	ErrNotOwner  = common.Forbidden("only the owner can change this transaction")
	ErrBadUpload = common.BadRequest("image must be a JPEG, PNG or WebP image", nil)
)

// Querier is the subset of repo.Queries the transaction service needs.
type Querier interface {
	GetUserByID(ctx context.Context, id int64) (repo.User, error)
	CountVisibleCategories(ctx context.Context, userID int64, ids []int64) (int64, error)
	InsertTransaction(ctx context.Context, arg repo.TransactionParams) (int64, error)
	UpdateTransaction(ctx context.Context, id int64, arg repo.TransactionParams) error
	ReplaceItems(ctx context.Context, transactionID int64, items []repo.ItemParams) error
	GetTransaction(ctx context.Context, id int64) (repo.Transaction, error)
	DeleteTransaction(ctx context.Context, id int64) error
	ListTransactions(ctx context.Context, f repo.ListFilter) ([]repo.Transaction, error)
}

// Store runs Querier calls, optionally inside a transaction.
type Store interface {
	Querier
	WithinTx(ctx context.Context, fn func(q Querier) error) error
}

type pgStore struct {
	*repo.Store
}

// NewPGStore adapts a repo.Store to Store.
func NewPGStore(s *repo.Store) Store {
	return pgStore{Store: s}
}

func (s pgStore) WithinTx(ctx context.Context, fn func(q Querier) error) error {
	return s.InTx(ctx, func(q *repo.Queries) error { return fn(q) })
}

// StatsInvalidator drops cached statistics for a scope.
type StatsInvalidator interface {
	InvalidateStats(ctx context.Context, userID int64, familyID *int64) error
}

// Service persists composer snapshots.
type Service struct {
	store   Store
	uploads storage.Uploader
	stats   StatsInvalidator
	now     func() time.Time
	log     zerolog.Logger
}

// Config configures the transaction service.
type Config struct {
	Store   Store
	Uploads storage.Uploader
	Stats   StatsInvalidator
	Logger  zerolog.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("transaction: store is required")
	}
	return &Service{store: cfg.Store, uploads: cfg.Uploads, stats: cfg.Stats, now: time.Now, log: cfg.Logger}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create composes in, enforces the submission gate and stores the result.
// image is optional.
func (s *Service) Create(ctx context.Context, userID int64, in Input, image io.Reader) (Transaction, error) {
	final, meta, err := s.compose(ctx, in, image)
	if err != nil {
		obs.Inc(obs.TransactionsTotal, "create", "rejected")
		return Transaction{}, err
	}
	return s.Record(ctx, userID, final, meta)
}

// Update re-composes an existing transaction owned by userID.
func (s *Service) Update(ctx context.Context, userID, id int64, in Input, image io.Reader) (Transaction, error) {
	final, meta, err := s.compose(ctx, in, image)
	if err != nil {
		obs.Inc(obs.TransactionsTotal, "update", "rejected")
		return Transaction{}, err
	}
	return s.Replace(ctx, userID, id, final, meta)
}

func (s *Service) compose(ctx context.Context, in Input, image io.Reader) (composer.Final, Meta, error) {
	typ, err := NormalizeType(in.Type)
	if err != nil {
		return composer.Final{}, Meta{}, err
	}
	draft, err := in.Draft(s.now())
	if err != nil {
		return composer.Final{}, Meta{}, err
	}
	final, err := composer.Finalize(draft)
	if err != nil {
		return composer.Final{}, Meta{}, ValidationProblem(err)
	}
	meta := Meta{Type: typ}
	if image != nil {
		if s.uploads == nil {
			return composer.Final{}, Meta{}, errors.New("transaction: uploads not configured")
		}
		url, err := s.uploads.Save(ctx, "receipts", image)
		if err != nil {
			if errors.Is(err, storage.ErrUnsupportedType) {
				return composer.Final{}, Meta{}, ErrBadUpload
			}
			return composer.Final{}, Meta{}, fmt.Errorf("save image: %w", err)
		}
		meta.ImageURL = &url
	}
	return final, meta, nil
}

// ValidationProblem maps a composer validation failure to a 422 listing every
// problem. Other errors pass through.
func ValidationProblem(err error) error {
	var verr *composer.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	details := make(map[string]string, len(verr.Problems))
	for _, p := range verr.Problems {
		details[p.Field] = p.Message
	}
	return common.Unprocessable("transaction is incomplete", details)
}

// Record stores a finalized snapshot as a new transaction of userID. The
// user's current family is captured on the transaction.
func (s *Service) Record(ctx context.Context, userID int64, final composer.Final, meta Meta) (Transaction, error) {
	typ, err := NormalizeType(meta.Type)
	if err != nil {
		return Transaction{}, err
	}
	var id int64
	var familyID *int64
	err = s.store.WithinTx(ctx, func(q Querier) error {
		user, err := q.GetUserByID(ctx, userID)
		if err != nil {
			if db.IsNotFound(err) {
				return common.Unauthorized("unauthorized")
			}
			return fmt.Errorf("get user: %w", err)
		}
		if err := checkCategories(ctx, q, userID, final.Items); err != nil {
			return err
		}
		familyID = user.FamilyID
		id, err = q.InsertTransaction(ctx, params(userID, familyID, typ, final, meta.ImageURL))
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return q.ReplaceItems(ctx, id, itemParams(final.Items))
	})
	if err != nil {
		obs.Inc(obs.TransactionsTotal, "create", "error")
		return Transaction{}, err
	}
	obs.Inc(obs.TransactionsTotal, "create", "ok")
	s.log.Info().Int64("user_id", userID).Int64("transaction_id", id).Str("total", final.Breakdown.Total.String()).Msg("transaction recorded")
	s.invalidate(ctx, userID, familyID)
	return s.load(ctx, id)
}

// Replace overwrites transaction id with a finalized snapshot. Only the owner
// may do so; the family snapshot is kept. A nil ImageURL keeps the image.
func (s *Service) Replace(ctx context.Context, userID, id int64, final composer.Final, meta Meta) (Transaction, error) {
	typ, err := NormalizeType(meta.Type)
	if err != nil {
		return Transaction{}, err
	}
	var familyID *int64
	err = s.store.WithinTx(ctx, func(q Querier) error {
		existing, err := q.GetTransaction(ctx, id)
		if err != nil {
			if db.IsNotFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("get transaction: %w", err)
		}
		if existing.UserID != userID {
			return ErrNotOwner
		}
		if err := checkCategories(ctx, q, userID, final.Items); err != nil {
			return err
		}
		familyID = existing.FamilyID
		if err := q.UpdateTransaction(ctx, id, params(userID, familyID, typ, final, meta.ImageURL)); err != nil {
			if db.IsNotFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("update transaction: %w", err)
		}
		return q.ReplaceItems(ctx, id, itemParams(final.Items))
	})
	if err != nil {
		obs.Inc(obs.TransactionsTotal, "update", "error")
		return Transaction{}, err
	}
	obs.Inc(obs.TransactionsTotal, "update", "ok")
	s.invalidate(ctx, userID, familyID)
	return s.load(ctx, id)
}

// Get returns a transaction visible to userID: their own, or one recorded in
// the family they currently belong to.
func (s *Service) Get(ctx context.Context, userID, id int64) (Transaction, error) {
	t, err := s.visible(ctx, userID, id)
	if err != nil {
		return Transaction{}, err
	}
	return toView(t), nil
}

// Snapshot returns the composer snapshot of a transaction the caller owns.
func (s *Service) Snapshot(ctx context.Context, userID, id int64) (composer.Final, string, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return composer.Final{}, "", ErrNotFound
		}
		return composer.Final{}, "", fmt.Errorf("get transaction: %w", err)
	}
	if t.UserID != userID {
		return composer.Final{}, "", ErrNotOwner
	}
	return toFinal(t), t.Type, nil
}

// Delete removes a transaction owned by userID.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("get transaction: %w", err)
	}
	if t.UserID != userID {
		return ErrNotOwner
	}
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		if db.IsNotFound(err) {
			return ErrNotFound
		}
		obs.Inc(obs.TransactionsTotal, "delete", "error")
		return fmt.Errorf("delete transaction: %w", err)
	}
	obs.Inc(obs.TransactionsTotal, "delete", "ok")
	s.invalidate(ctx, userID, t.FamilyID)
	return nil
}

// Recent returns the caller's latest transactions for the dashboard.
func (s *Service) Recent(ctx context.Context, userID int64) ([]Transaction, error) {
	rows, err := s.store.ListTransactions(ctx, repo.ListFilter{UserID: userID, Limit: recentLimit})
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	return views(rows), nil
}

// ListQuery holds the history screen filters.
type ListQuery struct {
	Start      *time.Time
	End        *time.Time
	Limit      int
	Offset     int
	Family     bool
	ItemName   string
	CategoryID *int64
	MemberID   *int64
}

// List returns the caller's history, or the family's when Family is set and
// the caller belongs to one. MemberID only applies in family scope.
func (s *Service) List(ctx context.Context, userID int64, lq ListQuery) ([]Transaction, error) {
	f := repo.ListFilter{
		UserID:     userID,
		Start:      lq.Start,
		End:        lq.End,
		ItemName:   strings.TrimSpace(lq.ItemName),
		CategoryID: lq.CategoryID,
		Limit:      clampLimit(lq.Limit),
		Offset:     max(lq.Offset, 0),
	}
	if lq.Family {
		user, err := s.store.GetUserByID(ctx, userID)
		if err != nil {
			if db.IsNotFound(err) {
				return nil, common.Unauthorized("unauthorized")
			}
			return nil, fmt.Errorf("get user: %w", err)
		}
		if user.FamilyID != nil {
			f.FamilyID = user.FamilyID
			f.MemberID = lq.MemberID
		}
	}
	rows, err := s.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return views(rows), nil
}

func (s *Service) visible(ctx context.Context, userID, id int64) (repo.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return repo.Transaction{}, ErrNotFound
		}
		return repo.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	if t.UserID == userID {
		return t, nil
	}
	if t.FamilyID != nil {
		user, err := s.store.GetUserByID(ctx, userID)
		if err != nil && !db.IsNotFound(err) {
			return repo.Transaction{}, fmt.Errorf("get user: %w", err)
		}
		if err == nil && user.FamilyID != nil && *user.FamilyID == *t.FamilyID {
			return t, nil
		}
	}
	return repo.Transaction{}, ErrNotFound
}

func (s *Service) load(ctx context.Context, id int64) (Transaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, fmt.Errorf("reload transaction: %w", err)
	}
	return toView(t), nil
}

func (s *Service) invalidate(ctx context.Context, userID int64, familyID *int64) {
	if s.stats == nil {
		return
	}
	if err := s.stats.InvalidateStats(ctx, userID, familyID); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("stats invalidation failed")
	}
}

// checkCategories rejects items that reference categories the user cannot see.
func checkCategories(ctx context.Context, q Querier, userID int64, items []composer.FinalItem) error {
	seen := map[int64]struct{}{}
	var ids []int64
	for _, it := range items {
		if it.CategoryID == nil {
			continue
		}
		if _, ok := seen[*it.CategoryID]; !ok {
			seen[*it.CategoryID] = struct{}{}
			ids = append(ids, *it.CategoryID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	n, err := q.CountVisibleCategories(ctx, userID, ids)
	if err != nil {
		return fmt.Errorf("check categories: %w", err)
	}
	if n != int64(len(ids)) {
		return common.Unprocessable("unknown category", map[string]string{"categoryId": "does not exist"})
	}
	return nil
}

func params(userID int64, familyID *int64, typ string, f composer.Final, image *string) repo.TransactionParams {
	return repo.TransactionParams{
		UserID:          userID,
		FamilyID:        familyID,
		Title:           f.Title,
		Type:            typ,
		TransactionDate: f.Date,
		TotalAmount:     f.Breakdown.Total,
		ItemsTotal:      f.Breakdown.ItemsTotal,
		Fees:            f.Fees,
		Taxes:           f.Taxes,
		Discounts:       f.Discounts,
		ImageURL:        image,
	}
}

func itemParams(items []composer.FinalItem) []repo.ItemParams {
	out := make([]repo.ItemParams, 0, len(items))
	for _, it := range items {
		p := repo.ItemParams{
			CategoryID:    it.CategoryID,
			Name:          it.Name,
			Price:         it.Price,
			Qty:           it.Qty,
			BasePrice:     it.BasePrice,
			DiscountValue: it.DiscountValue,
		}
		if it.DiscountType != "" {
			kind := string(it.DiscountType)
			p.DiscountType = &kind
		}
		out = append(out, p)
	}
	return out
}

func views(rows []repo.Transaction) []Transaction {
	out := make([]Transaction, 0, len(rows))
	for _, t := range rows {
		out = append(out, toView(t))
	}
	return out
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
