package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/repo"
)

type fakeQueries struct {
	users   map[int64]repo.User
	sums    atomic.Int32
	members atomic.Int32
}

func (f *fakeQueries) GetUserByID(_ context.Context, id int64) (repo.User, error) {
	u, ok := f.users[id]
	if !ok {
		return repo.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (f *fakeQueries) SumTransactions(_ context.Context, scope repo.StatsScope) (decimal.Decimal, int64, error) {
	f.sums.Add(1)
	if scope.FamilyID != nil {
		return decimal.NewFromInt(250000), 4, nil
	}
	return decimal.NewFromInt(120000), 2, nil
}

func (f *fakeQueries) DailyTotals(_ context.Context, scope repo.StatsScope) ([]repo.DailyTotal, error) {
	return []repo.DailyTotal{
		{Date: scope.Start, Total: decimal.NewFromInt(20000)},
		{Date: scope.Start.AddDate(0, 0, 4), Total: decimal.NewFromInt(100000)},
	}, nil
}

func (f *fakeQueries) CategoryTotals(_ context.Context, _ repo.StatsScope) ([]repo.CategoryTotal, error) {
	id := int64(1)
	return []repo.CategoryTotal{
		{CategoryID: &id, Name: "Makanan", Icon: "utensils", Color: "#FF6384", Total: decimal.NewFromInt(90000)},
		{Total: decimal.NewFromInt(10000)},
	}, nil
}

func (f *fakeQueries) MemberTotals(_ context.Context, _ int64, _, _ time.Time) ([]repo.MemberTotal, error) {
	f.members.Add(1)
	return []repo.MemberTotal{
		{UserID: 1, Name: "Ayah", Total: decimal.NewFromInt(200000)},
		{UserID: 2, Name: "Ibu", Total: decimal.NewFromInt(50000)},
	}, nil
}

func newTestService(t *testing.T) (*Service, *fakeQueries, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fam := int64(9)
	q := &fakeQueries{users: map[int64]repo.User{
		1: {ID: 1, FamilyID: &fam},
		3: {ID: 3},
	}}
	svc, err := NewService(Config{Queries: q, Cache: NewCache(client, time.Minute)})
	require.NoError(t, err)
	svc.WithNow(func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC) })
	return svc, q, mr
}

func TestDashboard(t *testing.T) {
	svc, q, mr := newTestService(t)

	d, err := svc.Dashboard(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "2026-10", d.Month)
	require.True(t, d.TotalExpense.Equal(decimal.NewFromInt(120000)))
	require.Equal(t, []string{"2026-10-01", "2026-10-05"}, []string{d.LineChart[0].Date, d.LineChart[1].Date})
	require.Len(t, d.PieChart, 2)
	require.Equal(t, "Makanan", d.PieChart[0].CategoryName)
	require.Equal(t, "Lainnya", d.PieChart[1].CategoryName)
	require.Equal(t, "#808080", d.PieChart[1].Color)
	require.True(t, mr.Exists("stats:user:1:dashboard:2026-10"))

	again, err := svc.Dashboard(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), q.sums.Load())
	require.True(t, again.TotalExpense.Equal(d.TotalExpense))
}

func TestReportScopes(t *testing.T) {
	svc, q, _ := newTestService(t)
	ctx := context.Background()
	rq := ReportQuery{
		Start:  time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Family: true,
	}

	rep, err := svc.Report(ctx, 1, rq)
	require.NoError(t, err)
	require.True(t, rep.Family)
	require.True(t, rep.TotalExpense.Equal(decimal.NewFromInt(250000)))
	require.Len(t, rep.MemberStats, 2)
	require.Equal(t, "Ayah", rep.MemberStats[0].UserName)

	// no family: falls back to the caller's own spending
	rep, err = svc.Report(ctx, 3, rq)
	require.NoError(t, err)
	require.False(t, rep.Family)
	require.Empty(t, rep.MemberStats)
	require.NotNil(t, rep.MemberStats)
	require.Equal(t, int32(1), q.members.Load())

	_, err = svc.Report(ctx, 1, ReportQuery{Start: rq.End, End: rq.Start})
	require.Error(t, err)
	require.True(t, common.IsAppError(err))
}

func TestInvalidateDropsScopeKeys(t *testing.T) {
	svc, q, mr := newTestService(t)
	ctx := context.Background()
	rq := ReportQuery{Start: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), Family: true}

	_, err := svc.Dashboard(ctx, 1)
	require.NoError(t, err)
	_, err = svc.Report(ctx, 1, rq)
	require.NoError(t, err)
	_, err = svc.Dashboard(ctx, 3)
	require.NoError(t, err)
	require.Len(t, mr.Keys(), 3)

	fam := int64(9)
	require.NoError(t, svc.InvalidateStats(ctx, 1, &fam))
	require.Equal(t, []string{"stats:user:3:dashboard:2026-10"}, mr.Keys())

	_, err = svc.Dashboard(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int32(4), q.sums.Load())
}

func TestServiceWithoutCache(t *testing.T) {
	q := &fakeQueries{users: map[int64]repo.User{}}
	svc, err := NewService(Config{Queries: q})
	require.NoError(t, err)
	_, err = svc.Dashboard(context.Background(), 1)
	require.NoError(t, err)
	_, err = svc.Dashboard(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int32(2), q.sums.Load())
	require.NoError(t, svc.InvalidateStats(context.Background(), 1, nil))
}

func TestReportHandler(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := &Handler{Service: svc}

	req := httptest.NewRequest(http.MethodGet, "/stats/report?startDate=2026-09-01&endDate=2026-09-30&family=true", nil)
	req = req.WithContext(common.WithUserID(req.Context(), 1))
	rec := httptest.NewRecorder()
	h.Report(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data struct {
			EndDate      time.Time `json:"endDate"`
			TotalExpense float64   `json:"totalExpense"`
			MemberStats  []struct {
				UserName string `json:"userName"`
			} `json:"memberStats"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), resp.Data.EndDate.UTC())
	require.Equal(t, float64(250000), resp.Data.TotalExpense)
	require.Len(t, resp.Data.MemberStats, 2)

	req = httptest.NewRequest(http.MethodGet, "/stats/report?startDate=2026-09-01", nil)
	req = req.WithContext(common.WithUserID(req.Context(), 1))
	rec = httptest.NewRecorder()
	h.Report(rec, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
