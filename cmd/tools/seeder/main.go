package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-dompet/internal/app"
	"github.com/noah-isme/backend-dompet/internal/auth"
	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/composer"
	"github.com/noah-isme/backend-dompet/internal/config"
	"github.com/noah-isme/backend-dompet/internal/obs"
	"github.com/noah-isme/backend-dompet/internal/transaction"
)

const demoPassword = "rahasia123"

type demoUser struct {
	Name  string
	Email string
}

var demoUsers = []demoUser{
	{"Budi Santoso", "budi@dompet.local"},
	{"Siti Aminah", "siti@dompet.local"},
}

// Seeds a demo family with two members and a handful of transactions so the
// mobile client has data to render. Safe to run more than once.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	cfg.MigrateOnStart = true
	logger := obs.NewLogger("console", "info")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deps, err := app.Open(ctx, cfg, logger, "dompet-seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	users := make([]auth.User, 0, len(demoUsers))
	for _, u := range demoUsers {
		user, err := ensureUser(ctx, deps.Auth, u)
		if err != nil {
			logger.Fatal().Err(err).Str("email", u.Email).Msg("seed user")
		}
		users = append(users, user)
	}

	admin := users[0]
	if admin.FamilyID == nil {
		fam, err := deps.Families.Create(ctx, admin.ID, "Keluarga Santoso")
		if err != nil {
			logger.Fatal().Err(err).Msg("create family")
		}
		for _, member := range users[1:] {
			if _, err := deps.Families.Join(ctx, member.ID, fam.InviteCode); err != nil {
				logger.Fatal().Err(err).Int64("user_id", member.ID).Msg("join family")
			}
		}
		logger.Info().Str("invite_code", fam.InviteCode).Msg("family created")
	}

	recent, err := deps.Transactions.Recent(ctx, admin.ID)
	if err != nil {
		logger.Fatal().Err(err).Msg("list transactions")
	}
	if len(recent) > 0 {
		logger.Info().Msg("transactions already seeded")
		return
	}
	seedTransactions(ctx, deps.Transactions, users, logger)
	logger.Info().Msg("seeding completed")
}

func ensureUser(ctx context.Context, svc *auth.Service, u demoUser) (auth.User, error) {
	session, err := svc.Register(ctx, u.Name, u.Email, demoPassword, "seeder", "127.0.0.1")
	var appErr *common.AppError
	if errors.As(err, &appErr) && appErr.Code == "EMAIL_ALREADY_USED" {
		session, err = svc.Login(ctx, u.Email, demoPassword, "seeder", "127.0.0.1")
	}
	return session.User, err
}

func seedTransactions(ctx context.Context, svc *transaction.Service, users []auth.User, logger zerolog.Logger) {
	now := time.Now().UTC()
	drafts := []struct {
		owner int
		kind  string
		draft composer.Draft
	}{
		{0, "RECEIPT", composer.Draft{
			Title: "Belanja mingguan",
			Date:  now.AddDate(0, 0, -3),
			Items: []composer.LineItem{
				{Name: "Beras 5kg", Price: "72000", Qty: "1"},
				{Name: "Minyak goreng", Price: "18000", Qty: "2"},
			},
		}.AddTax("PPN", composer.Percent, "11").AddDiscount("Member", composer.Nominal, "5000")},
		{1, "QRIS", composer.Draft{
			Title: "Makan siang",
			Date:  now.AddDate(0, 0, -1),
			Items: []composer.LineItem{{Name: "Nasi Padang", Price: "25000", Qty: "2"}},
		}.AddFee("Parkir", "2000")},
		{0, "MANUAL", composer.Draft{
			Title: "Bensin",
			Date:  now,
			Items: []composer.LineItem{{Name: "Pertalite", Price: "10000", Qty: "3"}},
		}},
	}
	for _, d := range drafts {
		final, err := composer.Finalize(d.draft)
		if err != nil {
			logger.Fatal().Err(err).Str("title", d.draft.Title).Msg("finalize demo draft")
		}
		txn, err := svc.Record(ctx, users[d.owner].ID, final, transaction.Meta{Type: d.kind})
		if err != nil {
			logger.Fatal().Err(err).Str("title", d.draft.Title).Msg("record demo transaction")
		}
		logger.Info().Int64("id", txn.ID).Str("total", final.Breakdown.Total.String()).Msg("transaction seeded")
	}
}
