package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/noah-isme/backend-dompet/internal/config"
	"github.com/noah-isme/backend-dompet/internal/db"
	"github.com/noah-isme/backend-dompet/internal/obs"
)

// Usage: migrate [-down N]
func main() {
	down := flag.Int("down", 0, "roll back N migrations instead of applying pending ones")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := obs.NewLogger("console", "info")

	if *down > 0 {
		if err := db.MigrateDown(cfg.DatabaseURL, *down); err != nil {
			logger.Fatal().Err(err).Int("steps", *down).Msg("roll back migrations")
		}
		logger.Info().Int("steps", *down).Msg("migrations rolled back")
		return
	}
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}
	logger.Info().Msg("migrations applied")
}
