// Package store owns the relational datastore: transactional persistence of
// match records and incremental maintenance of the three aggregate tables,
// plus the opponent-cache and token tables that live alongside them.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/dotastats/matchcore/match"
)

// ErrNoRows re-exports sql.ErrNoRows so callers don't need a database/sql
// import just to check for "no row found".
var ErrNoRows = sql.ErrNoRows

// Policy carries the mode allow-list and duration gate that save_match and
// the rebuild operations enforce. It is supplied by the caller (normally
// derived from config.Config) rather than owned by the Store, so the Store
// has no dependency on the config package.
type Policy struct {
	IsAllowed        func(gameMode, lobbyType int) bool
	MinMatchDuration int
}

// eligible reports whether a match with the given duration counts toward
// the aggregates: duration >= MinMatchDuration, or duration is null.
func (p Policy) eligible(duration *int) bool {
	if duration == nil {
		return true
	}
	return *duration >= p.MinMatchDuration
}

// HeroStat is a hero's running totals (games, wins) across retained matches.
type HeroStat struct {
	HeroID int
	Games  int
	Wins   int
}

// MatchupRow is one opponent's cross-team matchup record from the
// hero's point of view.
type MatchupRow struct {
	OpponentID int
	Games      int
	Wins       int
	WinrateVs  float64
}

// SynergyRow is one ally's same-team synergy record from the hero's point
// of view.
type SynergyRow struct {
	AllyID    int
	Games     int
	Wins      int
	WinrateVs float64
}

// OpponentCacheEntry is one (hero_id, opponent_hero_id) row fetched from
// the external aggregator.
type OpponentCacheEntry struct {
	HeroID         int
	OpponentHeroID int
	Games          int
	Wins           int
	Winrate        float64
	UpdatedAt      time.Time
}

// Store is the single typed interface the rest of the system uses to read
// and write the datastore. Implementations must support the portable SQL
// conflict-resolution syntax on both embedded (SQLite >= 3.24) and networked
// (PostgreSQL >= 9.5) engines.
type Store interface {
	// MatchExists is a cheap primary-key existence probe.
	MatchExists(ctx context.Context, matchID int64) (bool, error)

	// SaveMatch is idempotent on match_id: the Match row, all MatchPlayer
	// rows, and every aggregate-delta application commit atomically, or
	// none do.
	SaveMatch(ctx context.Context, rec *match.Record, policy Policy) error

	// MatchupRows scans hero_matchups for rows touching heroID with
	// games >= minGames.
	MatchupRows(ctx context.Context, heroID, minGames int) ([]MatchupRow, error)
	// SynergyRows is the same-team analogue of MatchupRows.
	SynergyRows(ctx context.Context, heroID, minGames int) ([]SynergyRow, error)
	// BaseWinrate returns the hero's overall winrate, or nil if it has no
	// retained games.
	BaseWinrate(ctx context.Context, heroID int) (*float64, error)
	// TotalGames returns the hero's total retained-game count.
	TotalGames(ctx context.Context, heroID int) (int, error)

	// MatchesCount returns the total number of retained matches.
	MatchesCount(ctx context.Context) (int, error)
	// OldMatchIDs returns match_ids with start_time before cutoffUnix.
	OldMatchIDs(ctx context.Context, cutoffUnix int64) ([]int64, error)
	// OldestMatchIDs returns the n oldest match_ids by start_time.
	OldestMatchIDs(ctx context.Context, n int) ([]int64, error)
	// EvictAndRebuild deletes the given matches (and their players), then
	// rebuilds all three aggregate tables from the matches that remain.
	EvictAndRebuild(ctx context.Context, matchIDs []int64, policy Policy) error
	// RecalculateAll rebuilds all three aggregate tables from every
	// retained match, without deleting any match row.
	RecalculateAll(ctx context.Context, policy Policy) error

	// GetOpponentCache returns all cached opponent rows for heroID and the
	// most recent updated_at among them (zero time if none exist).
	GetOpponentCache(ctx context.Context, heroID int) ([]OpponentCacheEntry, time.Time, error)
	// ReplaceOpponentCache atomically replaces every cached row for heroID
	// (delete-then-insert in one transaction).
	ReplaceOpponentCache(ctx context.Context, heroID int, entries []OpponentCacheEntry) error

	// CreateToken generates a new bearer token for userID with a 24h
	// expiry and persists it.
	CreateToken(ctx context.Context, userID int64) (string, error)
	// ResolveToken returns the user id for a live token, or nil if the
	// token is absent or expired (expired rows are deleted inline).
	ResolveToken(ctx context.Context, token string) (*int64, error)

	// Close releases the underlying connection(s).
	Close() error
}
