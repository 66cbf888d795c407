// Package retention implements the periodic eviction job: age-based
// deletion followed by a size cap, both triggering a full aggregate rebuild
// of whatever remains.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/dotastats/matchcore/store"
)

// Policy bounds how much history the store keeps.
type Policy struct {
	MaxMatches int
	DaysToKeep int
	SavePolicy store.Policy
}

// Run executes one cleanup pass: delete matches older than p.DaysToKeep,
// then if the remaining count still exceeds p.MaxMatches, trim the oldest
// excess. Either step, if it deletes anything, rebuilds every aggregate
// table from what remains. Returns the number of matches removed by each
// step for logging.
func Run(ctx context.Context, st store.Store, p Policy) (agedOut, trimmed int, err error) {
	cutoff := time.Now().AddDate(0, 0, -p.DaysToKeep).Unix()
	oldIDs, err := st.OldMatchIDs(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("retention: list old matches: %w", err)
	}
	if len(oldIDs) > 0 {
		if err := st.EvictAndRebuild(ctx, oldIDs, p.SavePolicy); err != nil {
			return 0, 0, fmt.Errorf("retention: evict aged matches: %w", err)
		}
		agedOut = len(oldIDs)
	}

	count, err := st.MatchesCount(ctx)
	if err != nil {
		return agedOut, 0, fmt.Errorf("retention: count matches: %w", err)
	}
	if count <= p.MaxMatches {
		return agedOut, 0, nil
	}

	excess := count - p.MaxMatches
	excessIDs, err := st.OldestMatchIDs(ctx, excess)
	if err != nil {
		return agedOut, 0, fmt.Errorf("retention: list oldest matches: %w", err)
	}
	if len(excessIDs) > 0 {
		if err := st.EvictAndRebuild(ctx, excessIDs, p.SavePolicy); err != nil {
			return agedOut, 0, fmt.Errorf("retention: evict excess matches: %w", err)
		}
		trimmed = len(excessIDs)
	}
	return agedOut, trimmed, nil
}
