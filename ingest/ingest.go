// Package ingest runs the two match-collection loops: the listing loop,
// which walks the provider's recent-matches feed, and the optional query
// loop, which backfills specific (game_mode, lobby_type) pairs through the
// explorer endpoint. Both loops acquire the shared rate governor before
// every provider call and run strictly sequentially within themselves.
package ingest

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dotastats/matchcore/match"
	"github.com/dotastats/matchcore/provider"
	"github.com/dotastats/matchcore/ratelimit"
	"github.com/dotastats/matchcore/store"
)

// Provider is the subset of provider.Client the ingestion loops call.
type Provider interface {
	ListRecentMatches(ctx context.Context, lessThanID *int64) ([]provider.MatchSummary, error)
	QueryRecentMatchIDs(ctx context.Context, gameMode, lobbyType, limit int) ([]int64, error)
	FetchMatchDetail(ctx context.Context, matchID int64) (*provider.MatchDetail, error)
}

// CycleStats summarizes one listing-loop cycle, mirroring the fields of the
// "listing cycle complete" summary line RunListingCycle logs after each pass.
type CycleStats struct {
	Fetched      int
	Saved        int
	AlreadySaved int
	Rejected     int
	Errored      int
}

// Loop drives both ingestion paths against one provider/store/governor
// triple. JunkItems, when nil, falls back to match.JunkItems.
type Loop struct {
	Provider     Provider
	Store        store.Store
	Governor     *ratelimit.Governor
	Policy       store.Policy
	JunkItems    map[int]struct{}
	MaxPerCycle  int
	FetchDetails bool
	Logger       zerolog.Logger
}

// RunListingCycle fetches one page of recent matches and saves every one
// that is new, valid, and within policy. Matches are processed in the
// order the provider returned them; nothing in this loop runs concurrently
// with itself, so save_match's idempotency guarantee is never raced.
func (l *Loop) RunListingCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	cycleID := uuid.NewString()
	log := l.Logger.With().Str("cycle_id", cycleID).Logger()

	if err := l.Governor.Acquire(ctx); err != nil {
		return stats, err
	}
	summaries, err := l.Provider.ListRecentMatches(ctx, nil)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(summaries)

	limit := l.MaxPerCycle
	if limit <= 0 || limit > len(summaries) {
		limit = len(summaries)
	}

	for _, sum := range summaries[:limit] {
		exists, err := l.Store.MatchExists(ctx, sum.MatchID)
		if err != nil {
			log.Error().Err(err).Int64("match_id", sum.MatchID).Msg("match_exists check failed")
			stats.Errored++
			continue
		}
		if exists {
			stats.AlreadySaved++
			continue
		}

		if !l.FetchDetails {
			log.Warn().Msg("detail fetch disabled; hero data unavailable for remaining matches this cycle")
			break
		}

		if err := l.Governor.Acquire(ctx); err != nil {
			return stats, err
		}
		detail, err := l.Provider.FetchMatchDetail(ctx, sum.MatchID)
		if err != nil {
			log.Warn().Err(err).Int64("match_id", sum.MatchID).Msg("fetch_match_detail failed")
			stats.Errored++
			continue
		}

		rec, err := match.Parse(detail, l.JunkItems)
		if err != nil {
			var rejected *match.RejectedError
			if errors.As(err, &rejected) {
				log.Info().Int64("match_id", sum.MatchID).Err(err).Msg("incomplete")
				stats.Rejected++
				continue
			}
			stats.Errored++
			continue
		}
		rec.WithHintRankTier(sum.AvgRankTier)

		if l.Policy.IsAllowed != nil && !l.Policy.IsAllowed(rec.GameMode, rec.LobbyType) {
			log.Info().Int64("match_id", sum.MatchID).Int("game_mode", rec.GameMode).
				Int("lobby_type", rec.LobbyType).Msg("mode-rejected")
			stats.Rejected++
			continue
		}

		if err := l.Store.SaveMatch(ctx, rec, l.Policy); err != nil {
			if errors.Is(err, store.ErrPolicyRejected) {
				log.Error().Int64("match_id", sum.MatchID).Int("game_mode", rec.GameMode).
					Int("lobby_type", rec.LobbyType).Msg("game-mode hard-blocked at store gate")
				stats.Rejected++
				continue
			}
			log.Error().Err(err).Int64("match_id", sum.MatchID).Msg("save_match failed")
			stats.Errored++
			continue
		}
		stats.Saved++
	}

	log.Info().
		Int("fetched", stats.Fetched).
		Int("saved", stats.Saved).
		Int("already_saved", stats.AlreadySaved).
		Int("rejected", stats.Rejected).
		Int("errored", stats.Errored).
		Msg("listing cycle complete")
	return stats, nil
}

// RunQueryCycle backfills up to limit matches for one (game_mode,
// lobby_type) pair via the explorer endpoint. Intended for filling gaps the
// listing loop's significant-matches feed skips over.
func (l *Loop) RunQueryCycle(ctx context.Context, gameMode, lobbyType, limit int) (CycleStats, error) {
	var stats CycleStats

	if err := l.Governor.Acquire(ctx); err != nil {
		return stats, err
	}
	ids, err := l.Provider.QueryRecentMatchIDs(ctx, gameMode, lobbyType, limit)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(ids)

	for _, id := range ids {
		exists, err := l.Store.MatchExists(ctx, id)
		if err != nil {
			stats.Errored++
			continue
		}
		if exists {
			stats.AlreadySaved++
			continue
		}

		if err := l.Governor.Acquire(ctx); err != nil {
			return stats, err
		}
		detail, err := l.Provider.FetchMatchDetail(ctx, id)
		if err != nil {
			l.Logger.Warn().Err(err).Int64("match_id", id).Msg("fetch_match_detail failed")
			stats.Errored++
			continue
		}

		rec, err := match.Parse(detail, l.JunkItems)
		if err != nil {
			var rejected *match.RejectedError
			if errors.As(err, &rejected) {
				l.Logger.Info().Int64("match_id", id).Err(err).Msg("incomplete")
				stats.Rejected++
				continue
			}
			stats.Errored++
			continue
		}

		if l.Policy.IsAllowed != nil && !l.Policy.IsAllowed(rec.GameMode, rec.LobbyType) {
			l.Logger.Info().Int64("match_id", id).Int("game_mode", rec.GameMode).
				Int("lobby_type", rec.LobbyType).Msg("mode-rejected")
			stats.Rejected++
			continue
		}

		if err := l.Store.SaveMatch(ctx, rec, l.Policy); err != nil {
			if errors.Is(err, store.ErrPolicyRejected) {
				l.Logger.Error().Int64("match_id", id).Int("game_mode", rec.GameMode).
					Int("lobby_type", rec.LobbyType).Msg("game-mode hard-blocked at store gate")
				stats.Rejected++
				continue
			}
			stats.Errored++
			continue
		}
		stats.Saved++
	}

	l.Logger.Info().
		Int("game_mode", gameMode).
		Int("lobby_type", lobbyType).
		Int("fetched", stats.Fetched).
		Int("saved", stats.Saved).
		Msg("query cycle complete")
	return stats, nil
}
