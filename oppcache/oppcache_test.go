package oppcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dotastats/matchcore/provider"
	"github.com/dotastats/matchcore/store"
)

type fakeFetcher struct {
	calls int
	rows  []provider.OpponentAggregate
	err   error
}

func (f *fakeFetcher) FetchHeroOpponentAggregates(context.Context, int) ([]provider.OpponentAggregate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
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

func TestGetFetchesOnFirstCall(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{rows: []provider.OpponentAggregate{
		{OpponentHeroID: 2, GamesPlayed: 100, Wins: 60},
	}}
	cache := New(st, fetcher, time.Hour)

	entries, err := cache.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", fetcher.calls)
	}
	if len(entries) != 1 || entries[0].OpponentHeroID != 2 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].Winrate != 0.6 {
		t.Errorf("expected winrate 0.6, got %v", entries[0].Winrate)
	}
}

func TestGetServesFreshCacheWithoutRefetching(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{rows: []provider.OpponentAggregate{
		{OpponentHeroID: 2, GamesPlayed: 100, Wins: 60},
	}}
	cache := New(st, fetcher, time.Hour)
	ctx := context.Background()

	if _, err := cache.Get(ctx, 1); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if _, err := cache.Get(ctx, 1); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected the second call to be served from cache, got %d fetches", fetcher.calls)
	}
}

func TestGetRefetchesAfterTTLExpires(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{rows: []provider.OpponentAggregate{
		{OpponentHeroID: 2, GamesPlayed: 100, Wins: 60},
	}}
	cache := New(st, fetcher, -time.Second) // already expired
	ctx := context.Background()

	if _, err := cache.Get(ctx, 1); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if _, err := cache.Get(ctx, 1); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected a refetch once the ttl elapsed, got %d fetches", fetcher.calls)
	}
}

func TestGetFallsBackToStaleCacheOnFetchError(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{rows: []provider.OpponentAggregate{
		{OpponentHeroID: 2, GamesPlayed: 100, Wins: 60},
	}}
	cache := New(st, fetcher, -time.Second)
	ctx := context.Background()

	if _, err := cache.Get(ctx, 1); err != nil {
		t.Fatalf("first get: %v", err)
	}

	fetcher.err = errors.New("aggregator unreachable")
	entries, err := cache.Get(ctx, 1)
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if len(entries) != 1 || entries[0].OpponentHeroID != 2 {
		t.Fatalf("expected stale cached entries returned, got %+v", entries)
	}
}

func TestGetReturnsErrNoCacheWhenNothingCachedAndFetchFails(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{err: errors.New("aggregator unreachable")}
	cache := New(st, fetcher, time.Hour)

	_, err := cache.Get(context.Background(), 1)
	if !errors.Is(err, ErrNoCache) {
		t.Fatalf("expected ErrNoCache, got %v", err)
	}
}

func TestGetSortsByWinrateDescending(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{rows: []provider.OpponentAggregate{
		{OpponentHeroID: 2, GamesPlayed: 100, Wins: 40},
		{OpponentHeroID: 3, GamesPlayed: 100, Wins: 70},
		{OpponentHeroID: 4, GamesPlayed: 100, Wins: 55},
	}}
	cache := New(st, fetcher, time.Hour)

	entries, err := cache.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %+v", entries)
	}
	if entries[0].OpponentHeroID != 3 || entries[1].OpponentHeroID != 4 || entries[2].OpponentHeroID != 2 {
		t.Fatalf("expected entries sorted by winrate descending, got %+v", entries)
	}

	// A fresh-cache read on the next call must stay sorted too.
	entries2, err := cache.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if entries2[0].OpponentHeroID != 3 {
		t.Fatalf("expected cached read to remain sorted, got %+v", entries2)
	}
}

func TestGetFiltersZeroGameRows(t *testing.T) {
	st := newTestStore(t)
	fetcher := &fakeFetcher{rows: []provider.OpponentAggregate{
		{OpponentHeroID: 2, GamesPlayed: 100, Wins: 60},
		{OpponentHeroID: 3, GamesPlayed: 0, Wins: 0},
	}}
	cache := New(st, fetcher, time.Hour)

	entries, err := cache.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the zero-game row to be filtered out, got %+v", entries)
	}
}
