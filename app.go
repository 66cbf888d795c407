package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/dotastats/matchcore/config"
	"github.com/dotastats/matchcore/ingest"
	"github.com/dotastats/matchcore/oppcache"
	"github.com/dotastats/matchcore/provider"
	"github.com/dotastats/matchcore/ratelimit"
	"github.com/dotastats/matchcore/retention"
	"github.com/dotastats/matchcore/statusapi"
	"github.com/dotastats/matchcore/store"
)

// Application holds the fully-wired dependency graph for the ingestion
// process: one database handle, one store, one provider client, one rate
// governor shared by everything that calls the provider.
type Application struct {
	Cfg      config.Config
	DB       *sql.DB
	Store    store.Store
	Provider *provider.Client
	Governor *ratelimit.Governor
	Ingest   *ingest.Loop
	OppCache *oppcache.Cache
	Tracker  *statusapi.Tracker
	Log      zerolog.Logger
}

// savePolicy builds the store.Policy derived from the current config,
// threaded through save_match and every rebuild path.
func (a *Application) savePolicy() store.Policy {
	return store.Policy{
		IsAllowed:        a.Cfg.IsAllowed,
		MinMatchDuration: a.Cfg.MinMatchDuration,
	}
}

// runCleanup executes one retention pass: age eviction first, then the size
// cap. Called from the listing loop's tick, never concurrently with the
// listing loop's own save_match calls.
func (a *Application) runCleanup(ctx context.Context) {
	agedOut, trimmed, err := retention.Run(ctx, a.Store, retention.Policy{
		MaxMatches: a.Cfg.MaxMatches,
		DaysToKeep: a.Cfg.DaysToKeep,
		SavePolicy: a.savePolicy(),
	})
	if err != nil {
		a.Log.Error().Err(err).Msg("retention run failed")
		return
	}
	a.Tracker.RecordCleanup()
	a.Log.Info().Int("aged_out", agedOut).Int("trimmed", trimmed).Msg("retention run complete")
}

// runQueryLoop runs the optional explorer-backed query loop once per
// a.Cfg.ExplorerIntervalSeconds until ctx is canceled. One cycle queries
// every configured (game_mode, lobby_type) pair in turn.
func (a *Application) runQueryLoop(ctx context.Context) {
	interval := time.Duration(a.Cfg.ExplorerIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, m := range a.Cfg.AllowedModes {
			if ctx.Err() != nil {
				return
			}
			stats, err := a.Ingest.RunQueryCycle(ctx, m.GameMode, m.LobbyType, 100)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				a.Log.Error().Err(err).Int("game_mode", m.GameMode).Int("lobby_type", m.LobbyType).
					Msg("query cycle failed")
				continue
			}
			a.Tracker.RecordQueryCycle(stats.Saved, stats.Rejected, stats.Errored)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runListingLoop runs the listing-loop ingestion cycle once per
// a.Cfg.PollIntervalMinutes until ctx is canceled, sleeping out the portion
// of the interval the cycle itself didn't use. The retention job piggybacks
// on this loop's tick: once every a.Cfg.CleanupIntervalHours, a cycle is
// followed by a cleanup pass, so eviction shares the main cadence instead of
// racing it from a second writer goroutine.
func (a *Application) runListingLoop(ctx context.Context) {
	interval := time.Duration(a.Cfg.PollIntervalMinutes) * time.Minute
	cleanupEvery := time.Duration(a.Cfg.CleanupIntervalHours) * time.Hour
	lastCleanup := time.Now()

	for {
		cycleStart := time.Now()

		stats, err := a.Ingest.RunListingCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.Log.Error().Err(err).Msg("listing cycle failed")
		} else {
			a.Tracker.RecordListingCycle(stats.Saved, stats.Rejected, stats.Errored)
		}

		if time.Since(lastCleanup) >= cleanupEvery {
			a.runCleanup(ctx)
			if ctx.Err() != nil {
				return
			}
			lastCleanup = time.Now()
		}

		elapsed := time.Since(cycleStart)
		sleepFor := interval - elapsed
		if sleepFor < 0 {
			sleepFor = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepFor):
		}
	}
}
