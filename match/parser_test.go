package match

import (
	"errors"
	"testing"

	"github.com/dotastats/matchcore/provider"
)

func intp(v int) *int { return &v }

func fullMatchDetail() *provider.MatchDetail {
	players := make([]provider.PlayerDetail, 0, 10)
	heroes := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	for i, h := range heroes {
		slot := i
		if i >= 5 {
			slot = 128 + (i - 5)
		}
		players = append(players, provider.PlayerDetail{
			HeroID:     h,
			PlayerSlot: slot,
			Item0:      intp(1),
		})
	}
	return &provider.MatchDetail{
		MatchID:    123,
		StartTime:  1000,
		GameMode:   22,
		LobbyType:  7,
		RadiantWin: true,
		Players:    players,
	}
}

func TestParseValidMatch(t *testing.T) {
	rec, err := Parse(fullMatchDetail(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Players) != 10 {
		t.Fatalf("expected 10 players, got %d", len(rec.Players))
	}
	for _, h := range rec.RadiantHeroes {
		if h < 1 || h > 5 {
			t.Errorf("expected radiant hero in [1,5], got %d", h)
		}
	}
	for _, h := range rec.DireHeroes {
		if h < 6 || h > 10 {
			t.Errorf("expected dire hero in [6,10], got %d", h)
		}
	}
}

func TestParseRejectsWrongPlayerCount(t *testing.T) {
	detail := fullMatchDetail()
	detail.Players = detail.Players[:9]

	_, err := Parse(detail, nil)
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Reason != RejectPlayerCount {
		t.Fatalf("expected RejectPlayerCount, got %v", err)
	}
}

func TestParseRejectsMissingHero(t *testing.T) {
	detail := fullMatchDetail()
	detail.Players[0].HeroID = 0

	_, err := Parse(detail, nil)
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Reason != RejectMissingHero {
		t.Fatalf("expected RejectMissingHero, got %v", err)
	}
}

func TestParseRejectsBadTeamSplit(t *testing.T) {
	detail := fullMatchDetail()
	// Move one dire player's slot into the radiant range.
	detail.Players[5].PlayerSlot = 4

	_, err := Parse(detail, nil)
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Reason != RejectTeamSplit {
		t.Fatalf("expected RejectTeamSplit, got %v", err)
	}
}

func TestParseRejectsDuplicateHero(t *testing.T) {
	detail := fullMatchDetail()
	detail.Players[5].HeroID = detail.Players[0].HeroID

	_, err := Parse(detail, nil)
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Reason != RejectTeamsOverlap {
		t.Fatalf("expected RejectTeamsOverlap, got %v", err)
	}
}

func TestDeriveRankBucket(t *testing.T) {
	tests := []struct {
		name string
		tier *int
		want RankBucket
	}{
		{"nil", nil, RankUnknown},
		{"zero", intp(0), RankUnknown},
		{"low floor", intp(1), RankLow},
		{"low ceiling", intp(20), RankLow},
		{"mid floor", intp(21), RankMid},
		{"mid ceiling", intp(35), RankMid},
		{"high floor", intp(36), RankHigh},
		{"high ceiling", intp(50), RankHigh},
		{"very high floor", intp(51), RankVeryHigh},
		{"very high ceiling", intp(60), RankVeryHigh},
		{"immortal", intp(61), RankImmortal},
		{"immortal high", intp(90), RankImmortal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := deriveRankBucket(tc.tier); got != tc.want {
				t.Errorf("deriveRankBucket(%v) = %v, want %v", tc.tier, got, tc.want)
			}
		})
	}
}

func TestWithHintRankTierOnlyFillsMissing(t *testing.T) {
	rec := &Record{}
	rec.WithHintRankTier(intp(25))
	if rec.AvgRankTier == nil || *rec.AvgRankTier != 25 {
		t.Fatalf("expected hint to be applied, got %v", rec.AvgRankTier)
	}
	if rec.RankBucket != RankMid {
		t.Errorf("expected RankMid, got %v", rec.RankBucket)
	}

	// A second hint must not overwrite an already-populated tier.
	rec.WithHintRankTier(intp(90))
	if *rec.AvgRankTier != 25 {
		t.Errorf("expected existing tier to survive, got %v", *rec.AvgRankTier)
	}
}

func TestBuildPlayerDropsJunkAndPadsToSix(t *testing.T) {
	junk := map[int]struct{}{99: {}}
	p := provider.PlayerDetail{
		HeroID: 1, PlayerSlot: 0,
		Item0: intp(99), Item1: intp(10), Item2: intp(11),
		Item3: intp(12), Item4: intp(13), Item5: intp(14),
	}
	player := buildPlayer(p, junk)

	want := []int{10, 11, 12, 13, 14}
	for i, w := range want {
		if player.CoreItems[i] == nil || *player.CoreItems[i] != w {
			t.Fatalf("CoreItems[%d] = %v, want %d", i, player.CoreItems[i], w)
		}
	}
	if player.CoreItems[5] != nil {
		t.Errorf("expected CoreItems[5] to be nil padding, got %v", *player.CoreItems[5])
	}
}
