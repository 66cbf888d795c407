// Command recalc wipes hero_stats, hero_matchups, and hero_synergy and
// repopulates them from the matches table, applying the configured mode and
// duration gates. No match rows are deleted. Exits 1 on failure so it can
// be wired into an operator runbook or a cron job.
package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dotastats/matchcore/config"
	"github.com/dotastats/matchcore/store"
)

func main() {
	out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log := zerolog.New(out).With().Timestamp().Str("cmd", "recalc").Logger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("config load failed")
		os.Exit(1)
	}

	sqlDB, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("open store failed")
		os.Exit(1)
	}
	defer sqlDB.Close()

	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, sqlDB, cfg.MigrationsDir); err != nil {
		log.Error().Err(err).Msg("migrations failed")
		os.Exit(1)
	}

	st := store.NewSQLiteStore(sqlDB)
	policy := store.Policy{IsAllowed: cfg.IsAllowed, MinMatchDuration: cfg.MinMatchDuration}

	log.Info().Msg("starting full aggregate recalculation")
	if err := st.RecalculateAll(ctx, policy); err != nil {
		log.Error().Err(err).Msg("recalculation failed")
		os.Exit(1)
	}
	log.Info().Msg("recalculation finished successfully")
}
