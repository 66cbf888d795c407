package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dotastats/matchcore/match"
)

// SQLiteStore is the modernc.org/sqlite-backed Store implementation. It
// assumes a single *sql.DB connection (db.SetMaxOpenConns(1), set by Open),
// so every multi-statement operation below runs in an ordinary transaction
// without worrying about a second writer interleaving.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-opened, already-migrated *sql.DB.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) MatchExists(ctx context.Context, matchID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM matches WHERE match_id = ?", matchID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ErrPolicyRejected is returned by SaveMatch when the match's (game_mode,
// lobby_type) fails the configured allow-list. No row is written in this
// case. A too-short duration is not an error (see SaveMatch).
var ErrPolicyRejected = errors.New("store: match rejected by policy gate")

// pair is a canonical (a, b) hero id with a < b, used as a map key for both
// hero_matchups and hero_synergy rebuild accumulation.
type pair struct{ a, b int }

func canonicalPair(x, y int) pair {
	if x < y {
		return pair{x, y}
	}
	return pair{y, x}
}

// SaveMatch persists rec and folds it into the three aggregate tables in
// one transaction. Re-saving an already-present match_id is a no-op: the
// ON CONFLICT DO NOTHING insert affects zero rows and the aggregate updates are skipped
// entirely, so replaying the same match never double-counts it. A mode
// outside policy.IsAllowed is a hard abort before any row is written; a
// duration below policy.MinMatchDuration still writes the match row (kept
// for audit) but skips every aggregate mutation.
func (s *SQLiteStore) SaveMatch(ctx context.Context, rec *match.Record, policy Policy) error {
	if policy.IsAllowed != nil && !policy.IsAllowed(rec.GameMode, rec.LobbyType) {
		return ErrPolicyRejected
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save_match: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO matches
			(match_id, start_time, duration, patch, avg_rank_tier, rank_bucket,
			 game_mode, lobby_type, radiant_win, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(match_id) DO NOTHING`,
		rec.MatchID, rec.StartTime, rec.Duration, rec.Patch, rec.AvgRankTier, string(rec.RankBucket),
		rec.GameMode, rec.LobbyType, boolToInt(rec.RadiantWin), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save_match: insert match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save_match: rows affected: %w", err)
	}
	if n == 0 {
		// Already ingested; nothing to do. Rolling back is harmless since
		// nothing was changed, but it releases the transaction promptly.
		return nil
	}

	for _, p := range rec.Players {
		if err := insertPlayer(ctx, tx, rec.MatchID, p); err != nil {
			return fmt.Errorf("save_match: insert player %d: %w", p.HeroID, err)
		}
	}

	if !policy.eligible(rec.Duration) {
		// Retained for audit, but too short to count toward the aggregates.
		return tx.Commit()
	}

	for _, h := range rec.RadiantHeroes {
		if err := upsertHeroStat(ctx, tx, h, rec.RadiantWin); err != nil {
			return fmt.Errorf("save_match: hero_stats radiant: %w", err)
		}
	}
	for _, h := range rec.DireHeroes {
		if err := upsertHeroStat(ctx, tx, h, !rec.RadiantWin); err != nil {
			return fmt.Errorf("save_match: hero_stats dire: %w", err)
		}
	}

	for _, rHero := range rec.RadiantHeroes {
		for _, dHero := range rec.DireHeroes {
			if rHero == dHero {
				continue
			}
			a, b := rHero, dHero
			if a > b {
				a, b = b, a
			}
			aWins := (rHero < dHero) == rec.RadiantWin
			if err := upsertMatchup(ctx, tx, a, b, aWins); err != nil {
				return fmt.Errorf("save_match: hero_matchups: %w", err)
			}
		}
	}

	if err := upsertSynergyTeam(ctx, tx, rec.RadiantHeroes[:], rec.RadiantWin); err != nil {
		return fmt.Errorf("save_match: hero_synergy radiant: %w", err)
	}
	if err := upsertSynergyTeam(ctx, tx, rec.DireHeroes[:], !rec.RadiantWin); err != nil {
		return fmt.Errorf("save_match: hero_synergy dire: %w", err)
	}

	return tx.Commit()
}

func insertPlayer(ctx context.Context, tx *sql.Tx, matchID int64, p match.Player) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO match_players
			(match_id, player_slot, hero_id, is_radiant, lane, lane_role, gpm, xpm,
			 kills, deaths, assists, hero_damage, tower_damage, obs_placed, sen_placed,
			 last_hits, denies, hero_healing, net_worth,
			 core_item_0, core_item_1, core_item_2, core_item_3, core_item_4, core_item_5)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(match_id, player_slot) DO NOTHING`,
		matchID, p.PlayerSlot, p.HeroID, boolToInt(p.IsRadiant), p.Lane, p.LaneRole, p.GPM, p.XPM,
		p.Kills, p.Deaths, p.Assists, p.HeroDamage, p.TowerDamage, p.ObsPlaced, p.SenPlaced,
		p.LastHits, p.Denies, p.HeroHealing, p.NetWorth,
		p.CoreItems[0], p.CoreItems[1], p.CoreItems[2], p.CoreItems[3], p.CoreItems[4], p.CoreItems[5],
	)
	return err
}

func upsertHeroStat(ctx context.Context, tx *sql.Tx, heroID int, won bool) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO hero_stats (hero_id, games, wins) VALUES (?, 1, ?)
		 ON CONFLICT(hero_id) DO UPDATE SET
			games = games + 1,
			wins  = wins  + excluded.wins`,
		heroID, boolToInt(won),
	)
	return err
}

func upsertMatchup(ctx context.Context, tx *sql.Tx, a, b int, aWins bool) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO hero_matchups (hero_a, hero_b, games, a_wins) VALUES (?, ?, 1, ?)
		 ON CONFLICT(hero_a, hero_b) DO UPDATE SET
			games  = games  + 1,
			a_wins = a_wins + excluded.a_wins`,
		a, b, boolToInt(aWins),
	)
	return err
}

func upsertSynergyTeam(ctx context.Context, tx *sql.Tx, heroes []int, teamWon bool) error {
	for i := 0; i < len(heroes); i++ {
		for j := i + 1; j < len(heroes); j++ {
			a, b := heroes[i], heroes[j]
			if a > b {
				a, b = b, a
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO hero_synergy (hero_a, hero_b, games, wins) VALUES (?, ?, 1, ?)
				 ON CONFLICT(hero_a, hero_b) DO UPDATE SET
					games = games + 1,
					wins  = wins  + excluded.wins`,
				a, b, boolToInt(teamWon),
			); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SQLiteStore) MatchupRows(ctx context.Context, heroID, minGames int) ([]MatchupRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hero_a, hero_b, games, a_wins FROM hero_matchups
		 WHERE (hero_a = ? OR hero_b = ?) AND games >= ?`,
		heroID, heroID, minGames,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchupRow
	for rows.Next() {
		var a, b, games, aWins int
		if err := rows.Scan(&a, &b, &games, &aWins); err != nil {
			return nil, err
		}
		var opponent, heroWins int
		if a == heroID {
			opponent, heroWins = b, aWins
		} else {
			opponent, heroWins = a, games-aWins
		}
		out = append(out, MatchupRow{
			OpponentID: opponent,
			Games:      games,
			Wins:       heroWins,
			WinrateVs:  winrate(heroWins, games),
		})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SynergyRows(ctx context.Context, heroID, minGames int) ([]SynergyRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hero_a, hero_b, games, wins FROM hero_synergy
		 WHERE (hero_a = ? OR hero_b = ?) AND games >= ?`,
		heroID, heroID, minGames,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SynergyRow
	for rows.Next() {
		var a, b, games, wins int
		if err := rows.Scan(&a, &b, &games, &wins); err != nil {
			return nil, err
		}
		ally := b
		if a != heroID {
			ally = a
		}
		out = append(out, SynergyRow{
			AllyID:    ally,
			Games:     games,
			Wins:      wins,
			WinrateVs: winrate(wins, games),
		})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) BaseWinrate(ctx context.Context, heroID int) (*float64, error) {
	var games, wins int
	err := s.db.QueryRowContext(ctx, "SELECT games, wins FROM hero_stats WHERE hero_id = ?", heroID).
		Scan(&games, &wins)
	if errors.Is(err, sql.ErrNoRows) || games == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wr := winrate(wins, games)
	return &wr, nil
}

func (s *SQLiteStore) TotalGames(ctx context.Context, heroID int) (int, error) {
	var games int
	err := s.db.QueryRowContext(ctx, "SELECT games FROM hero_stats WHERE hero_id = ?", heroID).Scan(&games)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return games, err
}

func (s *SQLiteStore) MatchesCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM matches").Scan(&count)
	return count, err
}

func (s *SQLiteStore) OldMatchIDs(ctx context.Context, cutoffUnix int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT match_id FROM matches WHERE start_time < ? ORDER BY start_time ASC", cutoffUnix)
	if err != nil {
		return nil, err
	}
	return scanInt64s(rows)
}

func (s *SQLiteStore) OldestMatchIDs(ctx context.Context, n int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT match_id FROM matches ORDER BY start_time ASC LIMIT ?", n)
	if err != nil {
		return nil, err
	}
	return scanInt64s(rows)
}

func scanInt64s(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// EvictAndRebuild deletes matchIDs (cascading to their match_players rows)
// then rebuilds every aggregate table from scratch against the matches that
// remain, accumulating totals in Go maps rather than per-row upserts. This
// mirrors the bulk-recalculation approach used for large deletions, where
// replaying thousands of incremental upserts would be far slower than one
// full scan plus bulk insert.
func (s *SQLiteStore) EvictAndRebuild(ctx context.Context, matchIDs []int64, policy Policy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("evict_and_rebuild: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range matchIDs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM matches WHERE match_id = ?", id); err != nil {
			return fmt.Errorf("evict_and_rebuild: delete %d: %w", id, err)
		}
	}

	if err := rebuildAggregates(ctx, tx, policy); err != nil {
		return err
	}
	return tx.Commit()
}

// RecalculateAll rebuilds every aggregate table from every retained match,
// without deleting anything. Used by the standalone recalculation tool and
// after a manual schema repair.
func (s *SQLiteStore) RecalculateAll(ctx context.Context, policy Policy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recalculate_all: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := rebuildAggregates(ctx, tx, policy); err != nil {
		return err
	}
	return tx.Commit()
}

func rebuildAggregates(ctx context.Context, tx *sql.Tx, policy Policy) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM hero_matchups"); err != nil {
		return fmt.Errorf("rebuild: wipe hero_matchups: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM hero_synergy"); err != nil {
		return fmt.Errorf("rebuild: wipe hero_synergy: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM hero_stats"); err != nil {
		return fmt.Errorf("rebuild: wipe hero_stats: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT match_id, duration, game_mode, lobby_type, radiant_win FROM matches")
	if err != nil {
		return fmt.Errorf("rebuild: scan matches: %w", err)
	}
	type matchHead struct {
		id         int64
		duration   *int
		gameMode   int
		lobbyType  int
		radiantWin bool
	}
	var heads []matchHead
	for rows.Next() {
		var h matchHead
		var radiantWinInt int
		if err := rows.Scan(&h.id, &h.duration, &h.gameMode, &h.lobbyType, &radiantWinInt); err != nil {
			rows.Close()
			return fmt.Errorf("rebuild: scan match row: %w", err)
		}
		h.radiantWin = radiantWinInt != 0
		heads = append(heads, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	matchups := map[pair][2]int{} // games, a_wins
	synergy := map[pair][2]int{}  // games, wins
	stats := map[int][2]int{}     // games, wins

	for _, h := range heads {
		if policy.IsAllowed != nil && !policy.IsAllowed(h.gameMode, h.lobbyType) {
			continue
		}
		if !policy.eligible(h.duration) {
			continue
		}

		radiant, dire, err := loadTeams(ctx, tx, h.id)
		if err != nil {
			return fmt.Errorf("rebuild: load teams for %d: %w", h.id, err)
		}

		for _, hero := range radiant {
			v := stats[hero]
			v[0]++
			if h.radiantWin {
				v[1]++
			}
			stats[hero] = v
		}
		for _, hero := range dire {
			v := stats[hero]
			v[0]++
			if !h.radiantWin {
				v[1]++
			}
			stats[hero] = v
		}

		for _, r := range radiant {
			for _, d := range dire {
				if r == d {
					continue
				}
				key := canonicalPair(r, d)
				aWins := (r < d) == h.radiantWin
				v := matchups[key]
				v[0]++
				if aWins {
					v[1]++
				}
				matchups[key] = v
			}
		}

		accumulateSynergy(synergy, radiant, h.radiantWin)
		accumulateSynergy(synergy, dire, !h.radiantWin)
	}

	if err := bulkInsertMatchups(ctx, tx, matchups); err != nil {
		return err
	}
	if err := bulkInsertSynergy(ctx, tx, synergy); err != nil {
		return err
	}
	if err := bulkInsertStats(ctx, tx, stats); err != nil {
		return err
	}
	return nil
}

func accumulateSynergy(synergy map[pair][2]int, heroes []int, teamWon bool) {
	for i := 0; i < len(heroes); i++ {
		for j := i + 1; j < len(heroes); j++ {
			key := canonicalPair(heroes[i], heroes[j])
			v := synergy[key]
			v[0]++
			if teamWon {
				v[1]++
			}
			synergy[key] = v
		}
	}
}

func loadTeams(ctx context.Context, tx *sql.Tx, matchID int64) (radiant, dire []int, err error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT hero_id, is_radiant FROM match_players WHERE match_id = ? ORDER BY player_slot ASC", matchID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var heroID, isRadiant int
		if err := rows.Scan(&heroID, &isRadiant); err != nil {
			return nil, nil, err
		}
		if isRadiant != 0 {
			radiant = append(radiant, heroID)
		} else {
			dire = append(dire, heroID)
		}
	}
	return radiant, dire, rows.Err()
}

func bulkInsertMatchups(ctx context.Context, tx *sql.Tx, m map[pair][2]int) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO hero_matchups (hero_a, hero_b, games, a_wins) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for k, v := range m {
		if _, err := stmt.ExecContext(ctx, k.a, k.b, v[0], v[1]); err != nil {
			return err
		}
	}
	return nil
}

func bulkInsertSynergy(ctx context.Context, tx *sql.Tx, m map[pair][2]int) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO hero_synergy (hero_a, hero_b, games, wins) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for k, v := range m {
		if _, err := stmt.ExecContext(ctx, k.a, k.b, v[0], v[1]); err != nil {
			return err
		}
	}
	return nil
}

func bulkInsertStats(ctx context.Context, tx *sql.Tx, stats map[int][2]int) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO hero_stats (hero_id, games, wins) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	ids := make([]int, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		v := stats[id]
		if _, err := stmt.ExecContext(ctx, id, v[0], v[1]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetOpponentCache(ctx context.Context, heroID int) ([]OpponentCacheEntry, time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT opponent_hero_id, games, wins, winrate, updated_at
		 FROM opponent_cache WHERE hero_id = ?`, heroID)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	var out []OpponentCacheEntry
	var latest time.Time
	for rows.Next() {
		var e OpponentCacheEntry
		var updatedUnix int64
		e.HeroID = heroID
		if err := rows.Scan(&e.OpponentHeroID, &e.Games, &e.Wins, &e.Winrate, &updatedUnix); err != nil {
			return nil, time.Time{}, err
		}
		e.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
		if e.UpdatedAt.After(latest) {
			latest = e.UpdatedAt
		}
		out = append(out, e)
	}
	return out, latest, rows.Err()
}

// ReplaceOpponentCache deletes every cached row for heroID and inserts
// entries in one transaction, so a concurrent reader never observes a
// partially-refreshed hero.
func (s *SQLiteStore) ReplaceOpponentCache(ctx context.Context, heroID int, entries []OpponentCacheEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace_opponent_cache: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM opponent_cache WHERE hero_id = ?", heroID); err != nil {
		return fmt.Errorf("replace_opponent_cache: delete: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO opponent_cache (hero_id, opponent_hero_id, games, wins, winrate, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("replace_opponent_cache: prepare: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, heroID, e.OpponentHeroID, e.Games, e.Wins, e.Winrate, e.UpdatedAt.Unix()); err != nil {
			return fmt.Errorf("replace_opponent_cache: insert: %w", err)
		}
	}
	return tx.Commit()
}

const tokenTTL = 24 * time.Hour

func (s *SQLiteStore) CreateToken(ctx context.Context, userID int64) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("create_token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	expiresAt := time.Now().Add(tokenTTL).Unix()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tokens (token, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expiresAt,
	)
	if err != nil {
		return "", fmt.Errorf("create_token: insert: %w", err)
	}
	return token, nil
}

// ResolveToken returns the live token's owning user, deleting it inline if
// it has expired rather than waiting for a separate sweep.
func (s *SQLiteStore) ResolveToken(ctx context.Context, token string) (*int64, error) {
	var userID, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, expires_at FROM tokens WHERE token = ?", token,
	).Scan(&userID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() >= expiresAt {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM tokens WHERE token = ?", token)
		return nil, nil
	}
	return &userID, nil
}

// winrate computes wins/games rounded to 4 decimal places, per the store's
// wr_vs contract.
func winrate(wins, games int) float64 {
	if games == 0 {
		return 0
	}
	return math.Round(float64(wins)/float64(games)*10000) / 10000
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
