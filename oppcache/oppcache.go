// Package oppcache maintains the per-hero opponent-aggregate cache: a TTL
// window over data fetched from the external aggregator, with a stale-cache
// fallback when that aggregator is unreachable.
package oppcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dotastats/matchcore/provider"
	"github.com/dotastats/matchcore/store"
)

// ErrNoCache is returned when the aggregator call failed and no cached rows
// exist yet for the requested hero, so there is nothing to fall back to.
var ErrNoCache = errors.New("oppcache: aggregator unavailable and no cached rows")

// Fetcher is the subset of provider.Client this package depends on.
type Fetcher interface {
	FetchHeroOpponentAggregates(ctx context.Context, heroID int) ([]provider.OpponentAggregate, error)
}

// Cache serves opponent-aggregate rows for a hero, refreshing from the
// aggregator when the cached copy has aged past ttl.
type Cache struct {
	store store.Store
	fetch Fetcher
	ttl   time.Duration
}

// New builds a Cache backed by st and reading through fetch when the cache
// entry is missing or stale.
func New(st store.Store, fetch Fetcher, ttl time.Duration) *Cache {
	return &Cache{store: st, fetch: fetch, ttl: ttl}
}

// Get returns heroID's opponent rows, refreshing from the aggregator first
// if the cached copy is stale or absent. If the aggregator call fails, a
// stale cached copy (if any) is returned instead of the error; only an
// empty cache with a failed fetch surfaces an error.
func (c *Cache) Get(ctx context.Context, heroID int) ([]store.OpponentCacheEntry, error) {
	cached, updatedAt, err := c.store.GetOpponentCache(ctx, heroID)
	if err != nil {
		return nil, fmt.Errorf("oppcache: read cache: %w", err)
	}

	fresh := !updatedAt.IsZero() && time.Since(updatedAt) < c.ttl
	if fresh && len(cached) > 0 {
		sortByWinrateDesc(cached)
		return cached, nil
	}

	rows, fetchErr := c.fetch.FetchHeroOpponentAggregates(ctx, heroID)
	if fetchErr != nil {
		if len(cached) > 0 {
			sortByWinrateDesc(cached)
			return cached, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNoCache, fetchErr)
	}

	now := time.Now().UTC()
	entries := make([]store.OpponentCacheEntry, 0, len(rows))
	for _, r := range rows {
		if r.OpponentHeroID == 0 || r.GamesPlayed == 0 {
			continue
		}
		entries = append(entries, store.OpponentCacheEntry{
			HeroID:         heroID,
			OpponentHeroID: r.OpponentHeroID,
			Games:          r.GamesPlayed,
			Wins:           r.Wins,
			Winrate:        float64(r.Wins) / float64(r.GamesPlayed),
			UpdatedAt:      now,
		})
	}

	if err := c.store.ReplaceOpponentCache(ctx, heroID, entries); err != nil {
		return nil, fmt.Errorf("oppcache: replace cache: %w", err)
	}
	sortByWinrateDesc(entries)
	return entries, nil
}

func sortByWinrateDesc(entries []store.OpponentCacheEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Winrate > entries[j].Winrate })
}
