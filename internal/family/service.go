// Package family manages households that share one transaction history.
package family

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/db"
	"github.com/noah-isme/backend-dompet/internal/repo"
	"github.com/noah-isme/backend-dompet/internal/storage"
)

const (
	inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	inviteLength   = 6
	inviteAttempts = 5
)

var (
	ErrAlreadyInFamily = common.Conflict("ALREADY_IN_FAMILY", "you already belong to a family", nil)
	ErrNoFamily        = common.NotFound("you do not belong to a family", nil)
	ErrNotAdmin        = common.Forbidden("only the family admin can do this")
	ErrInvalidInvite   = common.NotFound("invite code not found", nil)
	ErrKickSelf        = common.BadRequest("the admin cannot remove themselves", nil)
	ErrNotMember       = common.NotFound("member not found in your family", nil)
	ErrAdminLeave      = common.Conflict("ADMIN_HAS_MEMBERS", "remove the other members before leaving", nil)
)

// Querier is the subset of repo.Queries the family service needs.
type Querier interface {
	GetUserByID(ctx context.Context, id int64) (repo.User, error)
	SetUserFamily(ctx context.Context, userID int64, familyID *int64) error
	ListUsersByFamily(ctx context.Context, familyID int64) ([]repo.User, error)
	CreateFamily(ctx context.Context, arg repo.CreateFamilyParams) (repo.Family, error)
	GetFamilyByID(ctx context.Context, id int64) (repo.Family, error)
	GetFamilyByInviteCode(ctx context.Context, code string) (repo.Family, error)
	UpdateFamily(ctx context.Context, arg repo.UpdateFamilyParams) (repo.Family, error)
	DeleteFamily(ctx context.Context, id int64) error
	CountFamilyMembers(ctx context.Context, familyID int64) (int64, error)
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

// Family is the public view of a family.
type Family struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"inviteCode"`
	AdminID    int64     `json:"adminId"`
	AvatarURL  *string   `json:"avatarUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Member is a user listed on the family screen.
type Member struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	FamilyID  *int64  `json:"familyId,omitempty"`
	IsAdmin   bool    `json:"isAdmin"`
}

// Detail is the family together with its members.
type Detail struct {
	Family  Family   `json:"family"`
	Members []Member `json:"members"`
}

// UpdateInput renames the family and optionally replaces its avatar.
type UpdateInput struct {
	Name   string
	Avatar io.Reader
}

// Service implements family membership rules.
type Service struct {
	store   Store
	uploads storage.Uploader
	stats   StatsInvalidator
	log     zerolog.Logger
}

// Config configures the family service.
type Config struct {
	Store   Store
	Uploads storage.Uploader
	Stats   StatsInvalidator
	Logger  zerolog.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("family: store is required")
	}
	return &Service{store: cfg.Store, uploads: cfg.Uploads, stats: cfg.Stats, log: cfg.Logger}, nil
}

func fromRow(f repo.Family) Family {
	return Family{ID: f.ID, Name: f.Name, InviteCode: f.InviteCode, AdminID: f.AdminID, AvatarURL: f.AvatarURL, CreatedAt: f.CreatedAt}
}

// Create makes userID the admin of a new family.
func (s *Service) Create(ctx context.Context, userID int64, name string) (Family, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Family{}, common.Unprocessable("name is required", map[string]string{"name": "is required"})
	}
	var created repo.Family
	err := s.store.WithinTx(ctx, func(q Querier) error {
		user, err := q.GetUserByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if user.FamilyID != nil {
			return ErrAlreadyInFamily
		}
		code, err := s.freeInviteCode(ctx, q)
		if err != nil {
			return err
		}
		created, err = q.CreateFamily(ctx, repo.CreateFamilyParams{Name: name, InviteCode: code, AdminID: userID})
		if err != nil {
			return fmt.Errorf("create family: %w", err)
		}
		return q.SetUserFamily(ctx, userID, &created.ID)
	})
	if err != nil {
		return Family{}, err
	}
	s.log.Info().Int64("user_id", userID).Int64("family_id", created.ID).Msg("family created")
	s.invalidate(ctx, userID, &created.ID)
	return fromRow(created), nil
}

// Join adds userID to the family holding code.
func (s *Service) Join(ctx context.Context, userID int64, code string) (Family, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Family{}, common.Unprocessable("inviteCode is required", map[string]string{"inviteCode": "is required"})
	}
	var joined repo.Family
	err := s.store.WithinTx(ctx, func(q Querier) error {
		user, err := q.GetUserByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if user.FamilyID != nil {
			return ErrAlreadyInFamily
		}
		joined, err = q.GetFamilyByInviteCode(ctx, code)
		if err != nil {
			if db.IsNotFound(err) {
				return ErrInvalidInvite
			}
			return fmt.Errorf("get family: %w", err)
		}
		return q.SetUserFamily(ctx, userID, &joined.ID)
	})
	if err != nil {
		return Family{}, err
	}
	s.invalidate(ctx, userID, &joined.ID)
	return fromRow(joined), nil
}

// Members returns the caller's family and everyone in it.
func (s *Service) Members(ctx context.Context, userID int64) (Detail, error) {
	fam, err := s.familyOf(ctx, s.store, userID)
	if err != nil {
		return Detail{}, err
	}
	users, err := s.store.ListUsersByFamily(ctx, fam.ID)
	if err != nil {
		return Detail{}, fmt.Errorf("list members: %w", err)
	}
	members := make([]Member, 0, len(users))
	for _, u := range users {
		members = append(members, Member{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			AvatarURL: u.AvatarURL,
			FamilyID:  u.FamilyID,
			IsAdmin:   u.ID == fam.AdminID,
		})
	}
	return Detail{Family: fromRow(fam), Members: members}, nil
}

// Update renames the family. Only the admin may do so.
func (s *Service) Update(ctx context.Context, userID int64, in UpdateInput) (Family, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Family{}, common.Unprocessable("name is required", map[string]string{"name": "is required"})
	}
	fam, err := s.familyOf(ctx, s.store, userID)
	if err != nil {
		return Family{}, err
	}
	if fam.AdminID != userID {
		return Family{}, ErrNotAdmin
	}
	var avatar *string
	if in.Avatar != nil {
		if s.uploads == nil {
			return Family{}, errors.New("family: uploads not configured")
		}
		url, err := s.uploads.Save(ctx, "families", in.Avatar)
		if err != nil {
			if errors.Is(err, storage.ErrUnsupportedType) {
				return Family{}, common.BadRequest("avatar must be a JPEG, PNG or WebP image", err)
			}
			return Family{}, fmt.Errorf("save avatar: %w", err)
		}
		avatar = &url
	}
	updated, err := s.store.UpdateFamily(ctx, repo.UpdateFamilyParams{ID: fam.ID, Name: name, AvatarURL: avatar})
	if err != nil {
		return Family{}, fmt.Errorf("update family: %w", err)
	}
	return fromRow(updated), nil
}

// Kick removes memberID from the admin's family. Past transactions keep
// their family snapshot.
func (s *Service) Kick(ctx context.Context, userID, memberID int64) error {
	if userID == memberID {
		return ErrKickSelf
	}
	var familyID int64
	err := s.store.WithinTx(ctx, func(q Querier) error {
		fam, err := s.familyOf(ctx, q, userID)
		if err != nil {
			return err
		}
		if fam.AdminID != userID {
			return ErrNotAdmin
		}
		member, err := q.GetUserByID(ctx, memberID)
		if err != nil {
			if db.IsNotFound(err) {
				return ErrNotMember
			}
			return fmt.Errorf("get member: %w", err)
		}
		if member.FamilyID == nil || *member.FamilyID != fam.ID {
			return ErrNotMember
		}
		familyID = fam.ID
		return q.SetUserFamily(ctx, memberID, nil)
	})
	if err != nil {
		return err
	}
	s.log.Info().Int64("family_id", familyID).Int64("member_id", memberID).Msg("family member removed")
	s.invalidate(ctx, memberID, &familyID)
	return nil
}

// Leave removes the caller from their family. An admin may only leave once
// alone, which also deletes the family.
func (s *Service) Leave(ctx context.Context, userID int64) error {
	var familyID int64
	err := s.store.WithinTx(ctx, func(q Querier) error {
		fam, err := s.familyOf(ctx, q, userID)
		if err != nil {
			return err
		}
		familyID = fam.ID
		if fam.AdminID != userID {
			return q.SetUserFamily(ctx, userID, nil)
		}
		n, err := q.CountFamilyMembers(ctx, fam.ID)
		if err != nil {
			return fmt.Errorf("count members: %w", err)
		}
		if n > 1 {
			return ErrAdminLeave
		}
		if err := q.SetUserFamily(ctx, userID, nil); err != nil {
			return err
		}
		return q.DeleteFamily(ctx, fam.ID)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, userID, &familyID)
	return nil
}

func (s *Service) familyOf(ctx context.Context, q Querier, userID int64) (repo.Family, error) {
	user, err := q.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return repo.Family{}, common.Unauthorized("unauthorized")
		}
		return repo.Family{}, fmt.Errorf("get user: %w", err)
	}
	if user.FamilyID == nil {
		return repo.Family{}, ErrNoFamily
	}
	fam, err := q.GetFamilyByID(ctx, *user.FamilyID)
	if err != nil {
		if db.IsNotFound(err) {
			return repo.Family{}, ErrNoFamily
		}
		return repo.Family{}, fmt.Errorf("get family: %w", err)
	}
	return fam, nil
}

func (s *Service) invalidate(ctx context.Context, userID int64, familyID *int64) {
	if s.stats == nil {
		return
	}
	if err := s.stats.InvalidateStats(ctx, userID, familyID); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("stats invalidation failed")
	}
}

// freeInviteCode draws codes until one is unused. The unique index still
// guards against a concurrent insert of the same code.
func (s *Service) freeInviteCode(ctx context.Context, q Querier) (string, error) {
	for attempt := 0; attempt < inviteAttempts; attempt++ {
		code, err := newInviteCode()
		if err != nil {
			return "", err
		}
		_, err = q.GetFamilyByInviteCode(ctx, code)
		if db.IsNotFound(err) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("check invite code: %w", err)
		}
	}
	return "", errors.New("family: no free invite code")
}

func newInviteCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(inviteAlphabet)))
	for i := 0; i < inviteLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		b.WriteByte(inviteAlphabet[n.Int64()])
	}
	return b.String(), nil
}
