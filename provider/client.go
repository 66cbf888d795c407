// Package provider talks to the upstream match-data provider: recent-match
// listing, the SQL-style explorer endpoint, full match detail, and per-hero
// opponent aggregates. It carries no state beyond an optional API key.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNetwork wraps a transport-level failure reaching the provider.
var ErrNetwork = errors.New("provider: network error")

// HTTPError wraps a non-2xx HTTP response from the provider.
type HTTPError struct {
	Status int
	Op     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider: %s returned HTTP %d", e.Op, e.Status)
}

const baseURL = "https://api.opendota.com/api"

// Client is a stateless (apart from the API key) client for the four
// provider operations. Safe for concurrent use.
type Client struct {
	apiKey string
	http   *http.Client
}

// New builds a Client with conservative transport timeouts and connection
// pooling limits suited to a long-running background worker.
func New(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				IdleConnTimeout:       30 * time.Second,
				MaxIdleConns:          100,
				MaxConnsPerHost:       10,
			},
		},
	}
}

// MatchSummary is one entry from list_recent_matches. Team-composition
// fields are deliberately absent: the endpoint's own hero data is
// untrustworthy (empirically zeroed) and must never be consumed.
type MatchSummary struct {
	MatchID     int64
	StartTime   int64
	RadiantWin  bool
	AvgRankTier *int
}

type publicMatchRow struct {
	MatchID     int64  `json:"match_id"`
	StartTime   int64  `json:"start_time"`
	RadiantWin  bool   `json:"radiant_win"`
	AvgRankTier *int   `json:"avg_rank_tier"`
	RadiantTeam string `json:"radiant_team"`
	DireTeam    string `json:"dire_team"`
}

// ListRecentMatches fetches up to 100 recent match summaries. lessThanID,
// when non-nil, paginates backwards from that match ID.
func (c *Client) ListRecentMatches(ctx context.Context, lessThanID *int64) ([]MatchSummary, error) {
	q := url.Values{}
	c.withKey(q)
	q.Set("significant", "1")
	q.Set("mmr_descending", "1")
	if lessThanID != nil {
		q.Set("less_than_match_id", strconv.FormatInt(*lessThanID, 10))
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var rows []publicMatchRow
	if err := c.doJSON(ctx, "list_recent_matches", baseURL+"/publicMatches", q, &rows); err != nil {
		return nil, err
	}
	out := make([]MatchSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, MatchSummary{
			MatchID:     r.MatchID,
			StartTime:   r.StartTime,
			RadiantWin:  r.RadiantWin,
			AvgRankTier: r.AvgRankTier,
		})
	}
	return out, nil
}

// QueryRecentMatchIDs runs the SQL-style explorer query for one (game_mode,
// lobby_type) pair, newest first, up to limit rows.
func (c *Client) QueryRecentMatchIDs(ctx context.Context, gameMode, lobbyType, limit int) ([]int64, error) {
	sql := fmt.Sprintf(
		"SELECT match_id FROM public_matches WHERE game_mode=%d AND lobby_type=%d ORDER BY start_time DESC LIMIT %d",
		gameMode, lobbyType, limit,
	)
	q := url.Values{}
	c.withKey(q)
	q.Set("sql", sql)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var resp struct {
		Rows []struct {
			MatchID int64 `json:"match_id"`
		} `json:"rows"`
	}
	if err := c.doJSON(ctx, "query_recent_match_ids", baseURL+"/explorer", q, &resp); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		ids = append(ids, r.MatchID)
	}
	return ids, nil
}

// MatchDetail is the full match record: the only source of truth for
// teams, heroes, and per-player stats.
type MatchDetail struct {
	MatchID     int64          `json:"match_id"`
	StartTime   int64          `json:"start_time"`
	Duration    *int           `json:"duration"`
	Patch       *string        `json:"patch"`
	AvgRankTier *int           `json:"avg_rank_tier"`
	GameMode    int            `json:"game_mode"`
	LobbyType   int            `json:"lobby_type"`
	RadiantWin  bool           `json:"radiant_win"`
	Players     []PlayerDetail `json:"players"`
}

// PlayerDetail is one player's raw payload from a full match detail fetch.
type PlayerDetail struct {
	HeroID      int  `json:"hero_id"`
	PlayerSlot  int  `json:"player_slot"`
	Lane        *int `json:"lane"`
	LaneRole    *int `json:"lane_role"`
	GPM         *int `json:"gold_per_min"`
	XPM         *int `json:"xp_per_min"`
	Kills       *int `json:"kills"`
	Deaths      *int `json:"deaths"`
	Assists     *int `json:"assists"`
	HeroDamage  *int `json:"hero_damage"`
	TowerDamage *int `json:"tower_damage"`
	ObsPlaced   *int `json:"obs_placed"`
	SenPlaced   *int `json:"sen_placed"`
	LastHits    *int `json:"last_hits"`
	Denies      *int `json:"denies"`
	HeroHealing *int `json:"hero_healing"`
	NetWorth    *int `json:"net_worth"`
	Item0       *int `json:"item_0"`
	Item1       *int `json:"item_1"`
	Item2       *int `json:"item_2"`
	Item3       *int `json:"item_3"`
	Item4       *int `json:"item_4"`
	Item5       *int `json:"item_5"`
}

// FetchMatchDetail fetches the full detail record for one match.
func (c *Client) FetchMatchDetail(ctx context.Context, matchID int64) (*MatchDetail, error) {
	q := url.Values{}
	c.withKey(q)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var detail MatchDetail
	url := fmt.Sprintf("%s/matches/%d", baseURL, matchID)
	if err := c.doJSON(ctx, "fetch_match_detail", url, q, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// OpponentAggregate is one row from fetch_hero_opponent_aggregates.
type OpponentAggregate struct {
	OpponentHeroID int
	GamesPlayed    int
	Wins           int
}

type opponentRow struct {
	HeroID      int `json:"hero_id"`
	GamesPlayed int `json:"games_played"`
	Wins        int `json:"wins"`
}

// FetchHeroOpponentAggregates fetches the external aggregator's per-hero
// opponent stats, fed into the opponent cache.
func (c *Client) FetchHeroOpponentAggregates(ctx context.Context, heroID int) ([]OpponentAggregate, error) {
	q := url.Values{}
	c.withKey(q)

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var rows []opponentRow
	url := fmt.Sprintf("%s/heroes/%d/matchups", baseURL, heroID)
	if err := c.doJSON(ctx, "fetch_hero_opponent_aggregates", url, q, &rows); err != nil {
		return nil, err
	}
	out := make([]OpponentAggregate, 0, len(rows))
	for _, r := range rows {
		out = append(out, OpponentAggregate{
			OpponentHeroID: r.HeroID,
			GamesPlayed:    r.GamesPlayed,
			Wins:           r.Wins,
		})
	}
	return out, nil
}

func (c *Client) withKey(q url.Values) {
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
}

func (c *Client) doJSON(ctx context.Context, op, rawURL string, q url.Values, v any) error {
	full := rawURL
	if enc := q.Encode(); enc != "" {
		full += "?" + enc
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, Op: op}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
