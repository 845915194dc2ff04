package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/alexedwards/argon2id"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/db"
	"github.com/noah-isme/backend-dompet/internal/repo"
	"github.com/noah-isme/backend-dompet/internal/storage"
)

const (
	defaultAccessTTL  = 24 * time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// Querier is the subset of repo.Queries the auth service needs.
type Querier interface {
	CreateUser(ctx context.Context, arg repo.CreateUserParams) (repo.User, error)
	GetUserByEmail(ctx context.Context, email string) (repo.User, error)
	GetUserByID(ctx context.Context, id int64) (repo.User, error)
	UpdateUserProfile(ctx context.Context, arg repo.UpdateUserProfileParams) (repo.User, error)
	CreateSession(ctx context.Context, arg repo.CreateSessionParams) (repo.Session, error)
	GetSessionByToken(ctx context.Context, tokenHash string) (repo.Session, error)
	RotateSessionToken(ctx context.Context, arg repo.RotateSessionTokenParams) error
	DeleteSessionByToken(ctx context.Context, tokenHash string) error
}

// Service coordinates registration, credentials and session persistence.
type Service struct {
	queries    Querier
	uploads    storage.Uploader
	tokens     accessTokens
	refreshTTL time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// Config configures the auth service.
type Config struct {
	Queries         Querier
	Uploads         storage.Uploader
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
	Audience        string
	ClockSkew       time.Duration
	Logger          zerolog.Logger
}

// User is the public view of an account.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL *string   `json:"avatarUrl,omitempty"`
	FamilyID  *int64    `json:"familyId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewUser converts a stored user to its public view.
func NewUser(u repo.User) User {
	return User{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		FamilyID:  u.FamilyID,
		CreatedAt: u.CreatedAt,
	}
}

// Session bundles the token material issued on register, login and refresh.
type Session struct {
	User             User      `json:"user"`
	Token            string    `json:"token"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// ProfileUpdate carries an edit-profile submission. Avatar is optional.
type ProfileUpdate struct {
	Name   string
	Avatar io.Reader
}

// NewService constructs a Service instance with sane defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("auth: queries is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "backend-dompet"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "dompet-mobile"
	}
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}

	return &Service{
		queries:    cfg.Queries,
		uploads:    cfg.Uploads,
		refreshTTL: refreshTTL,
		now:        time.Now,
		log:        cfg.Logger,
		tokens: accessTokens{
			secret:   []byte(secret),
			issuer:   issuer,
			audience: audience,
			ttl:      accessTTL,
			skew:     clockSkew,
		},
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Register creates an account and signs it in.
func (s *Service) Register(ctx context.Context, name, email, password, userAgent, ip string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, common.Unprocessable("name is required", map[string]string{"name": "is required"})
	}
	normalizedEmail := normalizeEmail(email)
	if normalizedEmail == "" {
		return Session{}, common.Unprocessable("email is required", map[string]string{"email": "is required"})
	}
	if err := checkPassword(password); err != nil {
		return Session{}, err
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	created, err := s.queries.CreateUser(ctx, repo.CreateUserParams{
		Name:         name,
		Email:        normalizedEmail,
		PasswordHash: hash,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Session{}, common.Conflict("EMAIL_ALREADY_USED", "email is already registered", err)
		}
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	s.log.Info().Int64("user_id", created.ID).Msg("user registered")
	return s.issue(ctx, created, userAgent, ip)
}

// Login verifies credentials and issues a new token pair.
func (s *Service) Login(ctx context.Context, email, password, userAgent, ip string) (Session, error) {
	invalid := common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized, nil)
	normalizedEmail := normalizeEmail(email)
	if normalizedEmail == "" || password == "" {
		return Session{}, invalid
	}
	user, err := s.queries.GetUserByEmail(ctx, normalizedEmail)
	if err != nil {
		if db.IsNotFound(err) {
			return Session{}, invalid
		}
		return Session{}, fmt.Errorf("get user: %w", err)
	}
	ok, err := argon2id.ComparePasswordAndHash(password, user.PasswordHash)
	if err != nil || !ok {
		return Session{}, invalid
	}
	return s.issue(ctx, user, userAgent, ip)
}

// Logout revokes the refresh token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return nil
	}
	return s.queries.DeleteSessionByToken(ctx, hashRefreshToken(token))
}

// Refresh validates and rotates a refresh token, issuing a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return Session{}, common.Unauthorized("invalid refresh token")
	}
	hashed := hashRefreshToken(token)
	session, err := s.queries.GetSessionByToken(ctx, hashed)
	if err != nil {
		return Session{}, common.Unauthorized("invalid refresh token")
	}
	if s.now().After(session.ExpiresAt) {
		_ = s.queries.DeleteSessionByToken(ctx, hashed)
		return Session{}, common.Unauthorized("invalid refresh token")
	}
	user, err := s.queries.GetUserByID(ctx, session.UserID)
	if err != nil {
		_ = s.queries.DeleteSessionByToken(ctx, hashed)
		return Session{}, common.Unauthorized("invalid refresh token")
	}

	access, accessExpiry, err := s.tokens.sign(user.ID, s.now())
	if err != nil {
		return Session{}, fmt.Errorf("sign access token: %w", err)
	}
	next, nextHash, refreshExpiry, err := s.newRefreshToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.queries.RotateSessionToken(ctx, repo.RotateSessionTokenParams{
		ID:               session.ID,
		RefreshTokenHash: nextHash,
		ExpiresAt:        refreshExpiry,
	}); err != nil {
		_ = s.queries.DeleteSessionByToken(ctx, hashed)
		return Session{}, fmt.Errorf("rotate session token: %w", err)
	}
	return Session{
		User:             NewUser(user),
		Token:            access,
		ExpiresAt:        accessExpiry,
		RefreshToken:     next,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

// Me fetches the current authenticated user.
func (s *Service) Me(ctx context.Context, userID int64) (User, error) {
	user, err := s.queries.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return User{}, common.Unauthorized("unauthorized")
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return NewUser(user), nil
}

// UpdateProfile renames the user and optionally replaces the avatar.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in ProfileUpdate) (User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return User{}, common.Unprocessable("name is required", map[string]string{"name": "is required"})
	}
	var avatar *string
	if in.Avatar != nil {
		if s.uploads == nil {
			return User{}, errors.New("auth: uploads not configured")
		}
		url, err := s.uploads.Save(ctx, "avatars", in.Avatar)
		if err != nil {
			if errors.Is(err, storage.ErrUnsupportedType) {
				return User{}, common.BadRequest("avatar must be a JPEG, PNG or WebP image", err)
			}
			return User{}, fmt.Errorf("save avatar: %w", err)
		}
		avatar = &url
	}
	updated, err := s.queries.UpdateUserProfile(ctx, repo.UpdateUserProfileParams{ID: userID, Name: name, AvatarURL: avatar})
	if err != nil {
		if db.IsNotFound(err) {
			return User{}, common.Unauthorized("unauthorized")
		}
		return User{}, fmt.Errorf("update profile: %w", err)
	}
	return NewUser(updated), nil
}

// ParseAccessToken validates an access token and returns the user id it was
// issued for.
func (s *Service) ParseAccessToken(token string) (int64, error) {
	if strings.TrimSpace(token) == "" {
		return 0, common.Unauthorized("missing token")
	}
	id, err := s.tokens.verify(token, s.now())
	if err != nil {
		return 0, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	return id, nil
}

func (s *Service) issue(ctx context.Context, user repo.User, userAgent, ip string) (Session, error) {
	access, accessExpiry, err := s.tokens.sign(user.ID, s.now())
	if err != nil {
		return Session{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, hashed, refreshExpiry, err := s.newRefreshToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if _, err := s.queries.CreateSession(ctx, repo.CreateSessionParams{
		UserID:           user.ID,
		RefreshTokenHash: hashed,
		UserAgent:        strings.TrimSpace(userAgent),
		IP:               strings.TrimSpace(ip),
		ExpiresAt:        refreshExpiry,
	}); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return Session{
		User:             NewUser(user),
		Token:            access,
		ExpiresAt:        accessExpiry,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

func (s *Service) newRefreshToken() (token, hash string, expiresAt time.Time, err error) {
	buf := make([]byte, 48)
	if _, err = rand.Read(buf); err != nil {
		return "", "", time.Time{}, err
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, hashRefreshToken(token), s.now().Add(s.refreshTTL), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// checkPassword mirrors the register screen: at least 8 characters with an
// upper case letter, a lower case letter and a digit.
func checkPassword(password string) error {
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if len(password) < 8 || !upper || !lower || !digit {
		return common.NewAppError("WEAK_PASSWORD",
			"password must be at least 8 characters and mix upper case, lower case and digits",
			http.StatusUnprocessableEntity, nil)
	}
	return nil
}
