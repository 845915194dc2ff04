package auth

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-dompet/internal/repo"
)

type fakeQueries struct {
	mu       sync.Mutex
	nextUser int64
	nextSess byte
	users    map[int64]repo.User
	sessions map[string]repo.Session
}

func newFakeQueries() *fakeQueries {
	return &fakeQueries{
		users:    make(map[int64]repo.User),
		sessions: make(map[string]repo.Session),
	}
}

func (f *fakeQueries) CreateUser(_ context.Context, arg repo.CreateUserParams) (repo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == arg.Email {
			return repo.User{}, &pgconn.PgError{Code: "23505"}
		}
	}
	f.nextUser++
	now := time.Now()
	u := repo.User{ID: f.nextUser, Name: arg.Name, Email: arg.Email, PasswordHash: arg.PasswordHash, CreatedAt: now, UpdatedAt: now}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeQueries) GetUserByEmail(_ context.Context, email string) (repo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return repo.User{}, pgx.ErrNoRows
}

func (f *fakeQueries) GetUserByID(_ context.Context, id int64) (repo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repo.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (f *fakeQueries) UpdateUserProfile(_ context.Context, arg repo.UpdateUserProfileParams) (repo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[arg.ID]
	if !ok {
		return repo.User{}, pgx.ErrNoRows
	}
	u.Name = arg.Name
	if arg.AvatarURL != nil {
		u.AvatarURL = arg.AvatarURL
	}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeQueries) CreateSession(_ context.Context, arg repo.CreateSessionParams) (repo.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSess++
	var id pgtype.UUID
	id.Bytes[15] = f.nextSess
	id.Valid = true
	s := repo.Session{ID: id, UserID: arg.UserID, ExpiresAt: arg.ExpiresAt}
	f.sessions[arg.RefreshTokenHash] = s
	return s, nil
}

func (f *fakeQueries) GetSessionByToken(_ context.Context, hash string) (repo.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[hash]
	if !ok {
		return repo.Session{}, pgx.ErrNoRows
	}
	return s, nil
}

func (f *fakeQueries) RotateSessionToken(_ context.Context, arg repo.RotateSessionTokenParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, s := range f.sessions {
		if s.ID == arg.ID {
			delete(f.sessions, hash)
			s.ExpiresAt = arg.ExpiresAt
			f.sessions[arg.RefreshTokenHash] = s
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (f *fakeQueries) DeleteSessionByToken(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, hash)
	return nil
}

func (f *fakeQueries) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type fakeUploads struct {
	folder string
	data   []byte
}

func (u *fakeUploads) Save(_ context.Context, folder string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	u.folder, u.data = folder, data
	return "http://files.test/uploads/" + folder + "/a.png", nil
}

func newTestService(t interface {
	Helper()
	Fatalf(string, ...any)
}) (*Service, *fakeQueries, *fakeUploads) {
	t.Helper()
	queries := newFakeQueries()
	uploads := &fakeUploads{}
	svc, err := NewService(Config{
		Queries:         queries,
		Uploads:         uploads,
		Secret:          "super-secret-key",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, queries, uploads
}
