package category

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/repo"
)

type fakeQueries struct {
	mu   sync.Mutex
	rows []repo.Category
}

func newFakeQueries() *fakeQueries {
	return &fakeQueries{rows: []repo.Category{
		{ID: 1, Name: "Makanan", Icon: "fast-food", Color: "#FF6B6B", IsDefault: true},
		{ID: 2, Name: "Transportasi", Icon: "car", Color: "#4ECDC4", IsDefault: true},
	}}
}

func (f *fakeQueries) ListCategories(_ context.Context, userID int64) ([]repo.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repo.Category
	for _, c := range f.rows {
		if c.UserID == nil || *c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeQueries) CreateCategory(_ context.Context, arg repo.CreateCategoryParams) (repo.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner := arg.UserID
	c := repo.Category{ID: int64(len(f.rows) + 1), Name: arg.Name, Icon: arg.Icon, Color: arg.Color, UserID: &owner}
	f.rows = append(f.rows, c)
	return c, nil
}

func (f *fakeQueries) CategoryNameTaken(_ context.Context, userID int64, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if (c.UserID == nil || *c.UserID == userID) && strings.EqualFold(c.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func TestCreateAndList(t *testing.T) {
	svc, err := NewService(newFakeQueries())
	require.NoError(t, err)
	ctx := context.Background()

	created, err := svc.Create(ctx, 7, CreateInput{Name: " Kopi ", Icon: "cafe", Color: "#6F4E37"})
	require.NoError(t, err)
	require.Equal(t, "Kopi", created.Name)
	require.False(t, created.IsDefault)

	mine, err := svc.List(ctx, 7)
	require.NoError(t, err)
	require.Len(t, mine, 3)

	theirs, err := svc.List(ctx, 8)
	require.NoError(t, err)
	require.Len(t, theirs, 2)

	// another user may reuse the name
	_, err = svc.Create(ctx, 8, CreateInput{Name: "kopi"})
	require.NoError(t, err)
}

func TestCreateRejectsDuplicates(t *testing.T) {
	svc, err := NewService(newFakeQueries())
	require.NoError(t, err)

	for _, name := range []string{"makanan", "MAKANAN"} {
		_, err = svc.Create(context.Background(), 7, CreateInput{Name: name})
		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, http.StatusConflict, appErr.HTTPStatus)
	}
}

func TestHandlerCreateValidates(t *testing.T) {
	svc, err := NewService(newFakeQueries())
	require.NoError(t, err)
	h := &Handler{Service: svc}

	req := httptest.NewRequest(http.MethodPost, "/categories", strings.NewReader(`{"name":"Pulsa","color":"merah"}`))
	req = req.WithContext(common.WithUserID(req.Context(), 7))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), `"color"`)

	req = httptest.NewRequest(http.MethodGet, "/categories", nil)
	req = req.WithContext(common.WithUserID(req.Context(), 7))
	rec = httptest.NewRecorder()
	h.List(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"results":2`)
}
