package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dotastats/matchcore/provider"
	"github.com/dotastats/matchcore/ratelimit"
	"github.com/dotastats/matchcore/store"
)

type fakeProvider struct {
	summaries []provider.MatchSummary
	details   map[int64]*provider.MatchDetail
	failOn    map[int64]bool
}

func (f *fakeProvider) ListRecentMatches(context.Context, *int64) ([]provider.MatchSummary, error) {
	return f.summaries, nil
}

func (f *fakeProvider) QueryRecentMatchIDs(context.Context, int, int, int) ([]int64, error) {
	var ids []int64
	for id := range f.details {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeProvider) FetchMatchDetail(_ context.Context, matchID int64) (*provider.MatchDetail, error) {
	if f.failOn[matchID] {
		return nil, errors.New("boom")
	}
	d, ok := f.details[matchID]
	if !ok {
		return nil, errors.New("not found")
	}
	return d, nil
}

func fullDetail(matchID int64) *provider.MatchDetail {
	players := make([]provider.PlayerDetail, 0, 10)
	for i := 0; i < 10; i++ {
		slot := i
		if i >= 5 {
			slot = 128 + (i - 5)
		}
		players = append(players, provider.PlayerDetail{HeroID: i + 1, PlayerSlot: slot})
	}
	return &provider.MatchDetail{
		MatchID:    matchID,
		StartTime:  1000,
		GameMode:   22,
		LobbyType:  7,
		RadiantWin: true,
		Players:    players,
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, "../store/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store.NewSQLiteStore(db)
}

func newLoop(t *testing.T, p Provider) *Loop {
	return &Loop{
		Provider:     p,
		Store:        newTestStore(t),
		Governor:     ratelimit.NewGovernor(100000),
		Policy:       store.Policy{IsAllowed: func(int, int) bool { return true }},
		MaxPerCycle:  10,
		FetchDetails: true,
		Logger:       zerolog.Nop(),
	}
}

func TestRunListingCycleSavesNewMatches(t *testing.T) {
	fp := &fakeProvider{
		summaries: []provider.MatchSummary{{MatchID: 1}, {MatchID: 2}},
		details:   map[int64]*provider.MatchDetail{1: fullDetail(1), 2: fullDetail(2)},
	}
	loop := newLoop(t, fp)

	stats, err := loop.RunListingCycle(context.Background())
	if err != nil {
		t.Fatalf("run_listing_cycle: %v", err)
	}
	if stats.Saved != 2 {
		t.Errorf("expected 2 saved, got %d", stats.Saved)
	}
	if stats.AlreadySaved != 0 {
		t.Errorf("expected 0 already saved, got %d", stats.AlreadySaved)
	}
}

func TestRunListingCycleSkipsExistingMatches(t *testing.T) {
	fp := &fakeProvider{
		summaries: []provider.MatchSummary{{MatchID: 1}},
		details:   map[int64]*provider.MatchDetail{1: fullDetail(1)},
	}
	loop := newLoop(t, fp)
	ctx := context.Background()

	if _, err := loop.RunListingCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	stats, err := loop.RunListingCycle(ctx)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if stats.AlreadySaved != 1 || stats.Saved != 0 {
		t.Errorf("expected the replayed match to be skipped, got %+v", stats)
	}
}

func TestRunListingCycleCountsFetchFailuresAsErrored(t *testing.T) {
	fp := &fakeProvider{
		summaries: []provider.MatchSummary{{MatchID: 1}},
		details:   map[int64]*provider.MatchDetail{},
		failOn:    map[int64]bool{1: true},
	}
	loop := newLoop(t, fp)

	stats, err := loop.RunListingCycle(context.Background())
	if err != nil {
		t.Fatalf("run_listing_cycle: %v", err)
	}
	if stats.Errored != 1 {
		t.Errorf("expected 1 errored match, got %d", stats.Errored)
	}
}

func TestRunListingCycleBreaksWhenFetchDetailsDisabled(t *testing.T) {
	fp := &fakeProvider{
		summaries: []provider.MatchSummary{{MatchID: 1}, {MatchID: 2}},
		details:   map[int64]*provider.MatchDetail{1: fullDetail(1), 2: fullDetail(2)},
	}
	loop := newLoop(t, fp)
	loop.FetchDetails = false

	stats, err := loop.RunListingCycle(context.Background())
	if err != nil {
		t.Fatalf("run_listing_cycle: %v", err)
	}
	if stats.Saved != 0 {
		t.Errorf("expected no matches saved with detail fetch disabled, got %d", stats.Saved)
	}
}

func TestRunListingCycleRespectsMaxPerCycle(t *testing.T) {
	fp := &fakeProvider{
		summaries: []provider.MatchSummary{{MatchID: 1}, {MatchID: 2}, {MatchID: 3}},
		details:   map[int64]*provider.MatchDetail{1: fullDetail(1), 2: fullDetail(2), 3: fullDetail(3)},
	}
	loop := newLoop(t, fp)
	loop.MaxPerCycle = 2

	stats, err := loop.RunListingCycle(context.Background())
	if err != nil {
		t.Fatalf("run_listing_cycle: %v", err)
	}
	if stats.Saved != 2 {
		t.Errorf("expected MaxPerCycle to cap saves at 2, got %d", stats.Saved)
	}
}
