package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/composer"
	"github.com/noah-isme/backend-dompet/internal/lock"
	"github.com/noah-isme/backend-dompet/internal/transaction"
)

var fixedNow = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

type replaceCall struct {
	id    int64
	final composer.Final
}

type fakeTransactions struct {
	snapshot  composer.Final
	recorded  []composer.Final
	replaced  []replaceCall
	types     []string
	recordErr error
}

func (f *fakeTransactions) Snapshot(_ context.Context, userID, id int64) (composer.Final, string, error) {
	if id != 42 {
		return composer.Final{}, "", transaction.ErrNotFound
	}
	return f.snapshot, transaction.TypeQRIS, nil
}

func (f *fakeTransactions) Record(_ context.Context, userID int64, final composer.Final, meta transaction.Meta) (transaction.Transaction, error) {
	if f.recordErr != nil {
		return transaction.Transaction{}, f.recordErr
	}
	f.recorded = append(f.recorded, final)
	f.types = append(f.types, meta.Type)
	return transaction.Transaction{ID: 100, UserID: userID, TotalAmount: final.Breakdown.Total}, nil
}

func (f *fakeTransactions) Replace(_ context.Context, userID, id int64, final composer.Final, meta transaction.Meta) (transaction.Transaction, error) {
	f.replaced = append(f.replaced, replaceCall{id: id, final: final})
	f.types = append(f.types, meta.Type)
	return transaction.Transaction{ID: id, UserID: userID, TotalAmount: final.Breakdown.Total}, nil
}

type fakeScanner struct {
	res   composer.ScanResult
	calls int
}

func (f *fakeScanner) Scan(_ context.Context, _ int64, images [][]byte) (composer.ScanResult, error) {
	f.calls++
	if len(images) == 0 {
		return composer.ScanResult{}, common.Unprocessable("at least one image is required", nil)
	}
	return f.res, nil
}

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T) (*Service, *fakeTransactions, *fakeScanner, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	txns := &fakeTransactions{}
	scanner := &fakeScanner{}
	svc, err := NewService(Config{
		Store:        NewStore(client, time.Hour),
		Locker:       lock.Locker{R: client, RetryBackoff: time.Millisecond, Wait: 200 * time.Millisecond},
		Transactions: txns,
		Scanner:      scanner,
	})
	require.NoError(t, err)
	svc.WithNow(func() time.Time { return fixedNow })
	return svc, txns, scanner, mr
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s got %s", want, got)
}

func requireStatus(t *testing.T, err error, status int) *common.AppError {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, status, appErr.HTTPStatus)
	return appErr
}

func lunchEdits() []Edit {
	return []Edit{
		{Op: OpSetTitle, Value: "Makan siang"},
		{Op: OpUpdateItem, Index: 0, Field: "name", Value: "Nasi Padang"},
		{Op: OpUpdateItem, Index: 0, Field: "price", Value: "25000"},
		{Op: OpUpdateItem, Index: 0, Field: "qty", Value: "2"},
		{Op: OpAddFee, Name: "Parkir", Value: "2000"},
		{Op: OpAddTax, Name: "PPN", Kind: "percent", Value: "10"},
	}
}

func TestCreateEmptyDraft(t *testing.T) {
	svc, _, _, mr := newTestService(t)
	ctx := context.Background()

	v, err := svc.Create(ctx, 7, Seed{})
	require.NoError(t, err)
	require.NotEmpty(t, v.ID)
	require.Equal(t, transaction.TypeManual, v.Type)
	require.Len(t, v.Draft.Items, 1)
	require.Equal(t, composer.Field("1"), v.Draft.Items[0].Qty)
	require.Equal(t, fixedNow, v.Draft.Date)
	require.False(t, v.Submittable)
	require.NotEmpty(t, v.Problems)

	require.True(t, mr.Exists("draft:7:"+v.ID))
	require.Equal(t, time.Hour, mr.TTL("draft:7:"+v.ID))

	// drafts are private to their owner
	_, err = svc.Get(ctx, 8, v.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyRunsEditsInOrder(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	v, err := svc.Create(ctx, 7, Seed{})
	require.NoError(t, err)

	v, err = svc.Apply(ctx, 7, v.ID, lunchEdits()...)
	require.NoError(t, err)
	require.True(t, v.Submittable)
	require.Empty(t, v.Problems)
	requireDec(t, "50000", v.Breakdown.ItemsTotal)
	requireDec(t, "5200", v.Breakdown.TaxesTotal)
	requireDec(t, "57200", v.Breakdown.Total)

	// stored copy matches
	got, err := svc.Get(ctx, 7, v.ID)
	require.NoError(t, err)
	requireDec(t, "57200", got.Breakdown.Total)
	require.Equal(t, "Nasi Padang", got.Draft.Items[0].Name)
}

func TestApplyIsAllOrNothing(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	v, err := svc.Create(ctx, 7, Seed{})
	require.NoError(t, err)

	_, err = svc.Apply(ctx, 7, v.ID, Edit{Op: OpSetTitle, Value: "Baru"}, Edit{Op: OpRemoveFee, Index: 3})
	requireStatus(t, err, http.StatusBadRequest)
	require.ErrorIs(t, err, composer.ErrIndexOutOfRange)

	got, err := svc.Get(ctx, 7, v.ID)
	require.NoError(t, err)
	require.Empty(t, got.Draft.Title)

	_, err = svc.Apply(ctx, 7, v.ID, Edit{Op: "rename_everything"})
	requireStatus(t, err, http.StatusBadRequest)
	require.ErrorIs(t, err, ErrUnknownOp)

	_, err = svc.Apply(ctx, 7, v.ID, Edit{Op: OpUpdateItem, Field: "discountValue", Value: "10"})
	require.ErrorIs(t, err, composer.ErrNoItemDiscount)

	_, err = svc.Apply(ctx, 7, v.ID, Edit{Op: OpSetDate, Value: "besok"})
	requireStatus(t, err, http.StatusBadRequest)

	_, err = svc.Apply(ctx, 7, "missing", Edit{Op: OpAddItem})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyWaitsForBusyDraft(t *testing.T) {
	svc, _, _, mr := newTestService(t)
	ctx := context.Background()
	v, err := svc.Create(ctx, 7, Seed{})
	require.NoError(t, err)

	require.NoError(t, mr.Set(lockKey(7, v.ID), "other-editor"))
	_, err = svc.Apply(ctx, 7, v.ID, Edit{Op: OpAddItem})
	requireStatus(t, err, http.StatusConflict)
	require.ErrorIs(t, err, ErrBusy)
}

func TestSubmitRecordsAndDiscards(t *testing.T) {
	svc, txns, _, mr := newTestService(t)
	ctx := context.Background()
	v, err := svc.Create(ctx, 7, Seed{})
	require.NoError(t, err)

	_, _, err = svc.Submit(ctx, 7, v.ID)
	appErr := requireStatus(t, err, http.StatusUnprocessableEntity)
	require.Contains(t, appErr.Details, "title")
	require.True(t, mr.Exists("draft:7:"+v.ID))

	_, err = svc.Apply(ctx, 7, v.ID, lunchEdits()...)
	require.NoError(t, err)

	txns.recordErr = errors.New("db down")
	_, _, err = svc.Submit(ctx, 7, v.ID)
	require.Error(t, err)
	require.True(t, mr.Exists("draft:7:"+v.ID))

	txns.recordErr = nil
	txn, created, err := svc.Submit(ctx, 7, v.ID)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(100), txn.ID)
	require.Len(t, txns.recorded, 1)
	requireDec(t, "57200", txns.recorded[0].Breakdown.Total)
	require.Equal(t, "Makan siang", txns.recorded[0].Title)
	require.Equal(t, []string{transaction.TypeManual}, txns.types)

	require.False(t, mr.Exists("draft:7:"+v.ID))
	_, err = svc.Get(ctx, 7, v.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEditExistingTransaction(t *testing.T) {
	svc, txns, _, _ := newTestService(t)
	ctx := context.Background()
	final, err := composer.Finalize(composer.Draft{
		Title: "Belanja",
		Date:  fixedNow,
		Items: []composer.LineItem{{Name: "Beras", Price: "70000", Qty: "1"}},
	})
	require.NoError(t, err)
	txns.snapshot = final

	_, err = svc.Create(ctx, 7, Seed{TransactionID: ptr(int64(9))})
	require.ErrorIs(t, err, transaction.ErrNotFound)

	v, err := svc.Create(ctx, 7, Seed{TransactionID: ptr(int64(42))})
	require.NoError(t, err)
	require.Equal(t, transaction.TypeQRIS, v.Type)
	require.Equal(t, int64(42), *v.TransactionID)
	requireDec(t, "70000", v.Breakdown.Total)

	_, err = svc.Apply(ctx, 7, v.ID, Edit{Op: OpAddDiscount, Name: "Promo", Kind: "NOMINAL", Value: "5000"})
	require.NoError(t, err)

	txn, created, err := svc.Submit(ctx, 7, v.ID)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, int64(42), txn.ID)
	require.Len(t, txns.replaced, 1)
	require.Equal(t, int64(42), txns.replaced[0].id)
	requireDec(t, "65000", txns.replaced[0].final.Breakdown.Total)
	require.Empty(t, txns.recorded)
}

func TestCreateAndScanMergeReceipt(t *testing.T) {
	svc, _, scanner, _ := newTestService(t)
	ctx := context.Background()
	scanDate := time.Date(2026, 9, 28, 0, 0, 0, 0, time.UTC)
	scanner.res = composer.ScanResult{
		Title: ptr("Indomaret"),
		Date:  &scanDate,
		Items: []composer.ScanItem{{Name: ptr("Teh Botol"), Price: ptr(decimal.NewFromInt(5000)), Qty: ptr(decimal.NewFromInt(2))}},
	}

	v, err := svc.Create(ctx, 7, Seed{Images: [][]byte{{1}}})
	require.NoError(t, err)
	require.Equal(t, transaction.TypeReceipt, v.Type)
	require.Equal(t, "Indomaret", v.Draft.Title)
	require.Equal(t, scanDate, v.Draft.Date)
	require.Len(t, v.Draft.Items, 1)
	requireDec(t, "10000", v.Breakdown.Total)

	// a second receipt page appends
	scanner.res = composer.ScanResult{Items: []composer.ScanItem{{Name: ptr("Roti"), Price: ptr(decimal.NewFromInt(12000))}}}
	v, err = svc.Scan(ctx, 7, v.ID, [][]byte{{2}})
	require.NoError(t, err)
	require.Len(t, v.Draft.Items, 2)
	require.Equal(t, "Indomaret", v.Draft.Title)
	requireDec(t, "22000", v.Breakdown.Total)

	_, err = svc.Scan(ctx, 7, "missing", [][]byte{{3}})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 2, scanner.calls)
}

func TestDiscard(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	v, err := svc.Create(ctx, 7, Seed{})
	require.NoError(t, err)

	require.NoError(t, svc.Discard(ctx, 7, v.ID))
	require.ErrorIs(t, svc.Discard(ctx, 7, v.ID), ErrNotFound)
}

func newRouter(svc *Service) http.Handler {
	return routerFor(&Handler{Service: svc}, nil)
}

func routerFor(h *Handler, scanLimit Middleware) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(common.WithUserID(r.Context(), 7)))
		})
	})
	r.Mount("/drafts", h.Routes(scanLimit, nil))
	r.Post("/compose", h.Compose)
	return r
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlersDraftLifecycle(t *testing.T) {
	svc, txns, _, _ := newTestService(t)
	router := newRouter(svc)

	rec := do(t, router, http.MethodPost, "/drafts", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var created View
	require.NoError(t, json.Unmarshal(env.Data, &created))

	rec = do(t, router, http.MethodPatch, "/drafts/"+created.ID, lunchEdits())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Data struct {
			Submittable bool `json:"submittable"`
			Breakdown   struct {
				Total float64 `json:"total"`
			} `json:"breakdown"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Data.Submittable)
	require.Equal(t, float64(57200), body.Data.Breakdown.Total)

	rec = do(t, router, http.MethodPatch, "/drafts/"+created.ID, map[string]any{"op": "update_item", "index": 0, "field": "price", "value": 30000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPatch, "/drafts/"+created.ID, map[string]any{"op": "explode"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/drafts/"+created.ID+"/scan", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/drafts/"+created.ID+"/submit", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, txns.recorded, 1)
	// the tax snapshot stays at 5200 after the price edit
	requireDec(t, "67200", txns.recorded[0].Breakdown.Total)

	rec = do(t, router, http.MethodGet, "/drafts/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestComposeEndpoint(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	router := newRouter(svc)

	d := composer.Draft{
		Title: "Warung",
		Items: []composer.LineItem{{Name: "Kopi", Price: "20000", Qty: "2"}},
		Taxes: []composer.Adjustment{{Name: "PPN", Kind: composer.Percent, Value: "10", Amount: decimal.NewFromInt(4000)}},
	}
	rec := do(t, router, http.MethodPost, "/compose", d)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Data Evaluation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Data.Submittable)
	requireDec(t, "44000", body.Data.Breakdown.Total)

	rec = do(t, router, http.MethodPost, "/compose", composer.NewDraft())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Data.Submittable)
	require.NotEmpty(t, body.Data.Problems)
}
