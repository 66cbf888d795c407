package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dotastats/matchcore/config"
	"github.com/dotastats/matchcore/ingest"
	"github.com/dotastats/matchcore/oppcache"
	"github.com/dotastats/matchcore/provider"
	"github.com/dotastats/matchcore/ratelimit"
	"github.com/dotastats/matchcore/statusapi"
	"github.com/dotastats/matchcore/store"
)

func newLogger() zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return zerolog.New(out).With().Timestamp().Str("service", "matchcore").Logger()
}

func main() {
	log := newLogger()

	// Best-effort .env load; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	log.Info().
		Int("poll_interval_minutes", cfg.PollIntervalMinutes).
		Int("max_requests_per_minute", cfg.MaxRequestsPerMinute).
		Int("max_matches", cfg.MaxMatches).
		Int("days_to_keep", cfg.DaysToKeep).
		Bool("bootstrap_mode", cfg.BootstrapMode).
		Msg("configuration loaded")

	sqlDB, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store failed")
	}
	defer sqlDB.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelMigrate()
	if err := store.ApplyMigrations(migrateCtx, sqlDB, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	app := &Application{
		Cfg:      cfg,
		DB:       sqlDB,
		Store:    store.NewSQLiteStore(sqlDB),
		Provider: provider.New(cfg.ApiKey),
		Governor: ratelimit.NewGovernor(cfg.MaxRequestsPerMinute),
		Tracker:  statusapi.NewTracker(),
		Log:      log,
	}
	app.Ingest = &ingest.Loop{
		Provider:     app.Provider,
		Store:        app.Store,
		Governor:     app.Governor,
		Policy:       app.savePolicy(),
		MaxPerCycle:  cfg.MaxMatchesPerCycle,
		FetchDetails: cfg.FetchMatchDetails,
		Logger:       log,
	}
	app.OppCache = oppcache.New(app.Store, app.Provider, time.Duration(cfg.CacheTTLHours)*time.Hour)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	statusSrv := statusapi.New(app.Store, app.Tracker)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		app.runListingLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := statusSrv.Start(ctx, cfg.StatusAddr); err != nil {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()
	if cfg.UseExplorer {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.runQueryLoop(ctx)
		}()
	}

	log.Info().Str("status_addr", cfg.StatusAddr).Msg("matchcore ingestion worker started")
	<-ctx.Done()
	log.Info().Msg("shutdown signal received, waiting for loops to drain")
	wg.Wait()
	log.Info().Msg("matchcore stopped cleanly")
}
