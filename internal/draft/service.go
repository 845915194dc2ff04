// Package draft keeps in-progress transactions on the server so a draft can
// be edited from several clients and filled from a receipt scan before it is
// submitted.
package draft

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/composer"
	"github.com/noah-isme/backend-dompet/internal/lock"
	"github.com/noah-isme/backend-dompet/internal/obs"
	"github.com/noah-isme/backend-dompet/internal/transaction"
)

const lockTTL = 30 * time.Second

// ErrNotFound is returned for drafts that expired, were submitted or never
// existed.
var ErrNotFound = common.NotFound("draft not found", nil)

// ErrBusy is returned when another edit holds the draft for too long.
var ErrBusy = common.Conflict("DRAFT_BUSY", "draft is being edited, try again", nil)

// Transactions persists submitted drafts.
type Transactions interface {
	Snapshot(ctx context.Context, userID, id int64) (composer.Final, string, error)
	Record(ctx context.Context, userID int64, final composer.Final, meta transaction.Meta) (transaction.Transaction, error)
	Replace(ctx context.Context, userID, id int64, final composer.Final, meta transaction.Meta) (transaction.Transaction, error)
}

// Scanner reads receipt images.
type Scanner interface {
	Scan(ctx context.Context, userID int64, images [][]byte) (composer.ScanResult, error)
}

// Locker serializes work on one key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

type Config struct {
	Store        *Store
	Locker       Locker
	Transactions Transactions
	Scanner      Scanner
	Logger       zerolog.Logger
}

type Service struct {
	store   *Store
	locker  Locker
	txns    Transactions
	scanner Scanner
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("draft: store is required")
	}
	if cfg.Locker == nil {
		return nil, errors.New("draft: locker is required")
	}
	if cfg.Transactions == nil {
		return nil, errors.New("draft: transaction service is required")
	}
	return &Service{
		store:   cfg.Store,
		locker:  cfg.Locker,
		txns:    cfg.Transactions,
		scanner: cfg.Scanner,
		log:     cfg.Logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// View is a draft together with its running totals.
type View struct {
	Session
	Evaluation
}

// Evaluation is the computed state of a draft.
type Evaluation struct {
	Breakdown   composer.Breakdown `json:"breakdown"`
	Submittable bool               `json:"submittable"`
	Problems    []composer.Problem `json:"problems,omitempty"`
}

// Evaluate computes the totals of a draft and whether it can be submitted.
func Evaluate(d composer.Draft) Evaluation {
	ev := Evaluation{Breakdown: composer.Compute(d), Submittable: true}
	var verr *composer.ValidationError
	if err := composer.Validate(d); errors.As(err, &verr) {
		ev.Submittable = false
		ev.Problems = verr.Problems
	}
	return ev
}

func view(sess Session) View {
	return View{Session: sess, Evaluation: Evaluate(sess.Draft)}
}

// Seed selects what a new draft starts from. With TransactionID set the draft
// edits that transaction; with Images it is filled from a scan; otherwise it
// is empty.
type Seed struct {
	TransactionID *int64   `json:"transactionId"`
	Type          string   `json:"type"`
	Images        [][]byte `json:"-"`
}

func (s *Service) Create(ctx context.Context, userID int64, seed Seed) (View, error) {
	now := s.now()
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Draft:     composer.NewDraft().SetDate(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	typ := seed.Type
	switch {
	case seed.TransactionID != nil:
		final, stored, err := s.txns.Snapshot(ctx, userID, *seed.TransactionID)
		if err != nil {
			return View{}, err
		}
		id := *seed.TransactionID
		sess.TransactionID = &id
		sess.Draft = composer.FromFinal(final)
		if typ == "" {
			typ = stored
		}
	case len(seed.Images) > 0:
		res, err := s.scan(ctx, userID, seed.Images)
		if err != nil {
			return View{}, err
		}
		sess.Draft = composer.MergeScan(sess.Draft, res)
		if typ == "" {
			typ = transaction.TypeReceipt
		}
	}
	normalized, err := transaction.NormalizeType(typ)
	if err != nil {
		return View{}, err
	}
	sess.Type = normalized
	if err := s.store.Put(ctx, sess); err != nil {
		return View{}, err
	}
	s.log.Debug().Int64("user_id", userID).Str("draft_id", sess.ID).Msg("draft created")
	return view(sess), nil
}

func (s *Service) Get(ctx context.Context, userID int64, id string) (View, error) {
	sess, err := s.load(ctx, userID, id)
	if err != nil {
		return View{}, err
	}
	return view(sess), nil
}

// Apply runs edits in order and stores the result. Either every edit is
// applied or none is.
func (s *Service) Apply(ctx context.Context, userID int64, id string, edits ...Edit) (View, error) {
	if len(edits) == 0 {
		return View{}, common.BadRequest("at least one edit is required", nil)
	}
	var out Session
	err := s.locked(ctx, userID, id, func(ctx context.Context) error {
		sess, err := s.load(ctx, userID, id)
		if err != nil {
			return err
		}
		d := sess.Draft
		for _, e := range edits {
			next, err := Apply(d, e)
			if err != nil {
				obs.Inc(obs.DraftEditsTotal, e.Op, "rejected")
				return editError(err)
			}
			d = next
		}
		sess.Draft = d
		sess.UpdatedAt = s.now()
		if err := s.store.Put(ctx, sess); err != nil {
			return err
		}
		for _, e := range edits {
			obs.Inc(obs.DraftEditsTotal, e.Op, "ok")
		}
		out = sess
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return view(out), nil
}

// Scan merges a receipt scan into the draft. The images are read before the
// draft is locked; the merge is applied to the latest stored version.
func (s *Service) Scan(ctx context.Context, userID int64, id string, images [][]byte) (View, error) {
	if _, err := s.load(ctx, userID, id); err != nil {
		return View{}, err
	}
	res, err := s.scan(ctx, userID, images)
	if err != nil {
		return View{}, err
	}
	var out Session
	err = s.locked(ctx, userID, id, func(ctx context.Context) error {
		sess, err := s.load(ctx, userID, id)
		if err != nil {
			return err
		}
		sess.Draft = composer.MergeScan(sess.Draft, res)
		sess.UpdatedAt = s.now()
		if err := s.store.Put(ctx, sess); err != nil {
			return err
		}
		obs.Inc(obs.DraftEditsTotal, "scan", "ok")
		out = sess
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return view(out), nil
}

// Submit finalizes the draft into a transaction and discards it. A draft that
// fails validation or persistence is kept so the user can fix and retry.
func (s *Service) Submit(ctx context.Context, userID int64, id string) (transaction.Transaction, bool, error) {
	var (
		txn     transaction.Transaction
		created bool
	)
	err := s.locked(ctx, userID, id, func(ctx context.Context) error {
		sess, err := s.load(ctx, userID, id)
		if err != nil {
			return err
		}
		final, err := composer.Finalize(sess.Draft)
		if err != nil {
			return transaction.ValidationProblem(err)
		}
		meta := transaction.Meta{Type: sess.Type}
		if sess.TransactionID != nil {
			txn, err = s.txns.Replace(ctx, userID, *sess.TransactionID, final, meta)
		} else {
			txn, err = s.txns.Record(ctx, userID, final, meta)
			created = true
		}
		if err != nil {
			return err
		}
		if err := s.store.Delete(ctx, userID, id); err != nil && !errors.Is(err, errMissing) {
			s.log.Warn().Err(err).Str("draft_id", id).Msg("submitted draft not removed")
		}
		return nil
	})
	if err != nil {
		obs.Inc(obs.DraftEditsTotal, "submit", "error")
		return transaction.Transaction{}, false, err
	}
	obs.Inc(obs.DraftEditsTotal, "submit", "ok")
	s.log.Info().Int64("user_id", userID).Str("draft_id", id).Int64("transaction_id", txn.ID).Msg("draft submitted")
	return txn, created, nil
}

func (s *Service) Discard(ctx context.Context, userID int64, id string) error {
	return s.locked(ctx, userID, id, func(ctx context.Context) error {
		if err := s.store.Delete(ctx, userID, id); err != nil {
			if errors.Is(err, errMissing) {
				return ErrNotFound
			}
			return err
		}
		return nil
	})
}

func (s *Service) scan(ctx context.Context, userID int64, images [][]byte) (composer.ScanResult, error) {
	if s.scanner == nil {
		return composer.ScanResult{}, common.NewAppError("OCR_UNAVAILABLE", "receipt scanning is not configured", http.StatusServiceUnavailable, nil)
	}
	return s.scanner.Scan(ctx, userID, images)
}

func (s *Service) load(ctx context.Context, userID int64, id string) (Session, error) {
	sess, err := s.store.Get(ctx, userID, id)
	if err != nil {
		if errors.Is(err, errMissing) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return sess, nil
}

func (s *Service) locked(ctx context.Context, userID int64, id string, fn func(context.Context) error) error {
	err := s.locker.WithLock(ctx, lockKey(userID, id), lockTTL, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return ErrBusy
	}
	return err
}
