// Package match normalizes a full match payload from the provider into a
// canonical record the Aggregate Store can persist, or rejects it with a
// diagnostic reason.
package match

import (
	"fmt"

	"github.com/dotastats/matchcore/provider"
)

// RankBucket is the coarse skill bracket derived from avg_rank_tier.
type RankBucket string

const (
	RankUnknown  RankBucket = "unknown"
	RankLow      RankBucket = "low"
	RankMid      RankBucket = "mid"
	RankHigh     RankBucket = "high"
	RankVeryHigh RankBucket = "very_high"
	RankImmortal RankBucket = "immortal"
)

// RejectReason enumerates why a payload failed validation, so callers can
// keep per-reason-code counters.
type RejectReason string

const (
	RejectPlayerCount  RejectReason = "player_count"
	RejectMissingHero  RejectReason = "missing_hero"
	RejectTeamSplit    RejectReason = "team_split"
	RejectTeamsOverlap RejectReason = "teams_overlap"
)

// RejectedError wraps a validation failure with its reason code.
type RejectedError struct {
	Reason RejectReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("match: rejected (%s)", e.Reason)
}

// Record is the canonical, validated match plus its ten per-player rows.
type Record struct {
	MatchID       int64
	StartTime     int64
	Duration      *int
	Patch         *string
	AvgRankTier   *int
	RankBucket    RankBucket
	GameMode      int
	LobbyType     int
	RadiantWin    bool
	RadiantHeroes [5]int
	DireHeroes    [5]int
	Players       []Player
}

// Player is one canonical per-player row.
type Player struct {
	PlayerSlot  int
	HeroID      int
	IsRadiant   bool
	Lane        *int
	LaneRole    *int
	GPM         *int
	XPM         *int
	Kills       *int
	Deaths      *int
	Assists     *int
	HeroDamage  *int
	TowerDamage *int
	ObsPlaced   *int
	SenPlaced   *int
	LastHits    *int
	Denies      *int
	HeroHealing *int
	NetWorth    *int
	// CoreItems holds up to six "core" item IDs (junk filtered), in
	// original slot order, padded with nil to exactly six entries.
	CoreItems [6]*int
}

// JunkItems is the default set of item IDs dropped during core-item
// extraction: empty slot, consumables, wards, smoke, TP scrolls, wind lace.
// Configuration may extend this set with future additions.
var JunkItems = map[int]struct{}{
	0:   {}, // empty slot
	38:  {}, // tango
	44:  {}, // tango (shared)
	39:  {}, // clarity
	40:  {}, // flask (healing salve)
	42:  {}, // ward observer
	43:  {}, // ward sentry
	188: {}, // smoke of deceit
	41:  {}, // town portal scroll
	250: {}, // wind lace
}

// Parse validates and normalizes a full match payload into a Record, or
// returns a *RejectedError describing why it was rejected. junkItems, when
// non-nil, overrides JunkItems (configuration-driven additions).
func Parse(detail *provider.MatchDetail, junkItems map[int]struct{}) (*Record, error) {
	if junkItems == nil {
		junkItems = JunkItems
	}

	if len(detail.Players) != 10 {
		return nil, &RejectedError{Reason: RejectPlayerCount}
	}

	for _, p := range detail.Players {
		if p.HeroID == 0 {
			return nil, &RejectedError{Reason: RejectMissingHero}
		}
	}

	var radiant, dire []provider.PlayerDetail
	for _, p := range detail.Players {
		if p.PlayerSlot < 128 {
			radiant = append(radiant, p)
		} else {
			dire = append(dire, p)
		}
	}
	if len(radiant) != 5 || len(dire) != 5 {
		return nil, &RejectedError{Reason: RejectTeamSplit}
	}

	seen := make(map[int]struct{}, 10)
	for _, p := range detail.Players {
		if _, dup := seen[p.HeroID]; dup {
			return nil, &RejectedError{Reason: RejectTeamsOverlap}
		}
		seen[p.HeroID] = struct{}{}
	}

	rec := &Record{
		MatchID:     detail.MatchID,
		StartTime:   detail.StartTime,
		Duration:    detail.Duration,
		Patch:       detail.Patch,
		AvgRankTier: detail.AvgRankTier,
		GameMode:    detail.GameMode,
		LobbyType:   detail.LobbyType,
		RadiantWin:  detail.RadiantWin,
	}
	rec.RankBucket = deriveRankBucket(detail.AvgRankTier)

	for i, p := range radiant {
		rec.RadiantHeroes[i] = p.HeroID
	}
	for i, p := range dire {
		rec.DireHeroes[i] = p.HeroID
	}

	rec.Players = make([]Player, 0, 10)
	for _, p := range detail.Players {
		rec.Players = append(rec.Players, buildPlayer(p, junkItems))
	}

	return rec, nil
}

// WithHintRankTier substitutes the summary hint's avg_rank_tier when the
// detail payload lacked one, and recomputes RankBucket accordingly.
func (r *Record) WithHintRankTier(hint *int) {
	if r.AvgRankTier != nil || hint == nil {
		return
	}
	r.AvgRankTier = hint
	r.RankBucket = deriveRankBucket(hint)
}

func deriveRankBucket(tier *int) RankBucket {
	if tier == nil || *tier == 0 {
		return RankUnknown
	}
	switch t := *tier; {
	case t >= 1 && t <= 20:
		return RankLow
	case t >= 21 && t <= 35:
		return RankMid
	case t >= 36 && t <= 50:
		return RankHigh
	case t >= 51 && t <= 60:
		return RankVeryHigh
	default: // >= 61
		return RankImmortal
	}
}

func buildPlayer(p provider.PlayerDetail, junk map[int]struct{}) Player {
	player := Player{
		PlayerSlot:  p.PlayerSlot,
		HeroID:      p.HeroID,
		IsRadiant:   p.PlayerSlot < 128,
		Lane:        p.Lane,
		LaneRole:    p.LaneRole,
		GPM:         p.GPM,
		XPM:         p.XPM,
		Kills:       p.Kills,
		Deaths:      p.Deaths,
		Assists:     p.Assists,
		HeroDamage:  p.HeroDamage,
		TowerDamage: p.TowerDamage,
		ObsPlaced:   p.ObsPlaced,
		SenPlaced:   p.SenPlaced,
		LastHits:    p.LastHits,
		Denies:      p.Denies,
		HeroHealing: p.HeroHealing,
		NetWorth:    p.NetWorth,
	}

	raw := []*int{p.Item0, p.Item1, p.Item2, p.Item3, p.Item4, p.Item5}
	slot := 0
	for _, item := range raw {
		if item == nil {
			continue
		}
		if _, isJunk := junk[*item]; isJunk {
			continue
		}
		if slot >= len(player.CoreItems) {
			break
		}
		v := *item
		player.CoreItems[slot] = &v
		slot++
	}

	return player
}
