// Package stats aggregates spending for the dashboard and the period report.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/db"
	"github.com/noah-isme/backend-dompet/internal/obs"
	"github.com/noah-isme/backend-dompet/internal/repo"
)

const (
	monthLayout       = "2006-01"
	uncategorizedName = "Lainnya"
	uncategorizedHex  = "#808080"
)

// Querier is the subset of repo.Queries the stats service needs.
type Querier interface {
	GetUserByID(ctx context.Context, id int64) (repo.User, error)
	SumTransactions(ctx context.Context, scope repo.StatsScope) (decimal.Decimal, int64, error)
	DailyTotals(ctx context.Context, scope repo.StatsScope) ([]repo.DailyTotal, error)
	CategoryTotals(ctx context.Context, scope repo.StatsScope) ([]repo.CategoryTotal, error)
	MemberTotals(ctx context.Context, familyID int64, start, end time.Time) ([]repo.MemberTotal, error)
}

type DailyPoint struct {
	Date  string          `json:"date"`
	Total decimal.Decimal `json:"total"`
}

type CategorySlice struct {
	CategoryID   *int64          `json:"categoryId,omitempty"`
	CategoryName string          `json:"categoryName"`
	Total        decimal.Decimal `json:"total"`
	Color        string          `json:"color"`
	Icon         string          `json:"icon"`
}

type MemberSlice struct {
	UserID    int64           `json:"userId"`
	UserName  string          `json:"userName"`
	AvatarURL *string         `json:"avatarUrl"`
	Total     decimal.Decimal `json:"total"`
}

// Dashboard is the current month summary of the caller's own spending.
type Dashboard struct {
	Month        string          `json:"month"`
	TotalExpense decimal.Decimal `json:"totalExpense"`
	LineChart    []DailyPoint    `json:"lineChart"`
	PieChart     []CategorySlice `json:"pieChart"`
}

// Report summarises a period for the caller or their family.
type Report struct {
	StartDate     time.Time       `json:"startDate"`
	EndDate       time.Time       `json:"endDate"`
	Family        bool            `json:"family"`
	TotalExpense  decimal.Decimal `json:"totalExpense"`
	Transactions  int64           `json:"transactions"`
	CategoryStats []CategorySlice `json:"categoryStats"`
	MemberStats   []MemberSlice   `json:"memberStats"`
}

// ReportQuery selects a half-open period [Start, End).
type ReportQuery struct {
	Start  time.Time
	End    time.Time
	Family bool
}

// Service computes and caches statistics.
type Service struct {
	queries Querier
	cache   *Cache
	now     func() time.Time
	log     zerolog.Logger
}

type Config struct {
	Queries Querier
	Cache   *Cache
	Logger  zerolog.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("stats: queries are required")
	}
	return &Service{queries: cfg.Queries, cache: cfg.Cache, now: time.Now, log: cfg.Logger}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Dashboard returns the current UTC month for userID.
func (s *Service) Dashboard(ctx context.Context, userID int64) (Dashboard, error) {
	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	month := start.Format(monthLayout)
	key := keyDashboard(userID, month)

	var out Dashboard
	if s.cached(ctx, key, &out) {
		return out, nil
	}

	scope := repo.StatsScope{UserID: userID, Start: start, End: start.AddDate(0, 1, 0)}
	var (
		total decimal.Decimal
		days  []repo.DailyTotal
		cats  []repo.CategoryTotal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		total, _, err = s.queries.SumTransactions(gctx, scope)
		return err
	})
	g.Go(func() (err error) {
		days, err = s.queries.DailyTotals(gctx, scope)
		return err
	})
	g.Go(func() (err error) {
		cats, err = s.queries.CategoryTotals(gctx, scope)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, fmt.Errorf("dashboard: %w", err)
	}

	out = Dashboard{
		Month:        month,
		TotalExpense: total,
		LineChart:    make([]DailyPoint, 0, len(days)),
		PieChart:     categorySlices(cats),
	}
	for _, d := range days {
		out.LineChart = append(out.LineChart, DailyPoint{Date: d.Date.Format(common.DateLayout), Total: d.Total})
	}
	s.store(ctx, key, out)
	return out, nil
}

// Report aggregates a period. With Family set and a family to report on, the
// family's transactions are used and members are broken down; otherwise the
// caller's own.
func (s *Service) Report(ctx context.Context, userID int64, rq ReportQuery) (Report, error) {
	if !rq.End.After(rq.Start) {
		return Report{}, common.BadRequest("endDate must be after startDate", nil)
	}
	scope := repo.StatsScope{UserID: userID, Start: rq.Start, End: rq.End}
	if rq.Family {
		user, err := s.queries.GetUserByID(ctx, userID)
		if err != nil {
			if db.IsNotFound(err) {
				return Report{}, common.Unauthorized("unauthorized")
			}
			return Report{}, fmt.Errorf("get user: %w", err)
		}
		scope.FamilyID = user.FamilyID
	}
	key := keyReport(userID, scope.FamilyID, rq.Start, rq.End)

	var out Report
	if s.cached(ctx, key, &out) {
		return out, nil
	}

	var (
		total   decimal.Decimal
		count   int64
		cats    []repo.CategoryTotal
		members []repo.MemberTotal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		total, count, err = s.queries.SumTransactions(gctx, scope)
		return err
	})
	g.Go(func() (err error) {
		cats, err = s.queries.CategoryTotals(gctx, scope)
		return err
	})
	if scope.FamilyID != nil {
		g.Go(func() (err error) {
			members, err = s.queries.MemberTotals(gctx, *scope.FamilyID, rq.Start, rq.End)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("report: %w", err)
	}

	out = Report{
		StartDate:     rq.Start,
		EndDate:       rq.End,
		Family:        scope.FamilyID != nil,
		TotalExpense:  total,
		Transactions:  count,
		CategoryStats: categorySlices(cats),
		MemberStats:   make([]MemberSlice, 0, len(members)),
	}
	for _, m := range members {
		out.MemberStats = append(out.MemberStats, MemberSlice{UserID: m.UserID, UserName: m.Name, AvatarURL: m.AvatarURL, Total: m.Total})
	}
	s.store(ctx, key, out)
	return out, nil
}

// InvalidateStats drops every cached payload of the user's scope and, when
// set, the family's.
func (s *Service) InvalidateStats(ctx context.Context, userID int64, familyID *int64) error {
	prefixes := []string{scopePrefix(userID, nil)}
	if familyID != nil {
		prefixes = append(prefixes, scopePrefix(userID, familyID))
	}
	for _, p := range prefixes {
		n, err := s.cache.DeletePrefix(ctx, p)
		if err != nil {
			return fmt.Errorf("invalidate %s: %w", p, err)
		}
		s.log.Debug().Str("prefix", p).Int("keys", n).Msg("stats cache invalidated")
	}
	return nil
}

func (s *Service) cached(ctx context.Context, key string, dst any) bool {
	if !s.cache.enabled() {
		return false
	}
	ok, err := s.cache.GetJSON(ctx, key, dst)
	switch {
	case err != nil:
		obs.Inc(obs.StatsCacheTotal, "error")
		s.log.Warn().Err(err).Str("key", key).Msg("stats cache read failed")
		return false
	case ok:
		obs.Inc(obs.StatsCacheTotal, "hit")
		return true
	default:
		obs.Inc(obs.StatsCacheTotal, "miss")
		return false
	}
}

func (s *Service) store(ctx context.Context, key string, v any) {
	if err := s.cache.SetJSON(ctx, key, v); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("stats cache write failed")
	}
}

func categorySlices(in []repo.CategoryTotal) []CategorySlice {
	out := make([]CategorySlice, 0, len(in))
	for _, c := range in {
		slice := CategorySlice{CategoryID: c.CategoryID, CategoryName: c.Name, Total: c.Total, Color: c.Color, Icon: c.Icon}
		if c.CategoryID == nil {
			slice.CategoryName = uncategorizedName
		}
		if slice.Color == "" {
			slice.Color = uncategorizedHex
		}
		out = append(out, slice)
	}
	return out
}
