// Package ranker turns raw matchup and synergy rows into the ranked
// counters/victims and best/worst-ally groupings the rest of the system
// reports on. Every function here is pure: no I/O, no database handle.
package ranker

import (
	"math"
	"sort"
)

// MatchupInput is one opponent's raw record, as read from the store. The
// store's min_games bound has already been applied by the query; the ranker
// applies no sample-size filter of its own.
type MatchupInput struct {
	OpponentID int
	Games      int
	Wins       int
	Winrate    float64
}

// SynergyInput is one ally's raw record, as read from the store.
type SynergyInput struct {
	AllyID  int
	Games   int
	Wins    int
	Winrate float64
}

// RankedMatchup is one matchup enriched with its advantage over the hero's
// own base winrate, suitable for direct display.
type RankedMatchup struct {
	OpponentID int
	Games      int
	Winrate    float64
	Advantage  float64
}

// RankedSynergy is the synergy analogue of RankedMatchup.
type RankedSynergy struct {
	AllyID    int
	Games     int
	Winrate   float64
	Advantage float64
}

// MatchupGroups splits a hero's matchup rows into the heroes that counter it
// (negative advantage) and the heroes it victimizes (non-negative advantage).
type MatchupGroups struct {
	Counters []RankedMatchup // advantage < 0, worst (most negative) first
	Victims  []RankedMatchup // advantage >= 0, best (most positive) first
}

// SynergyGroups is the same split for allies.
type SynergyGroups struct {
	BestAllies  []RankedSynergy // delta >= 0, best first
	WorstAllies []RankedSynergy // delta < 0, worst first
}

// round4 rounds to 4 decimal places, matching the store's wr_vs rounding
// contract so advantage arithmetic never accumulates float noise beyond it.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// RankMatchups attaches each matchup's advantage over baseWinrate (0.5 when
// the hero has no base rate yet) and splits the set into Counters/Victims by
// the sign of that advantage. Every input row lands in exactly one group;
// sample-size filtering is the store query's job. When limit > 0, each group
// is then truncated to its first limit rows.
func RankMatchups(matchups []MatchupInput, baseWinrate *float64, limit int) MatchupGroups {
	base := 0.5
	if baseWinrate != nil {
		base = *baseWinrate
	}

	var counters, victims []RankedMatchup
	for _, m := range matchups {
		advantage := round4(m.Winrate - base)
		row := RankedMatchup{
			OpponentID: m.OpponentID,
			Games:      m.Games,
			Winrate:    m.Winrate,
			Advantage:  advantage,
		}
		if advantage < 0 {
			counters = append(counters, row)
		} else {
			victims = append(victims, row)
		}
	}

	sort.SliceStable(counters, func(i, j int) bool { return counters[i].Advantage < counters[j].Advantage })
	sort.SliceStable(victims, func(i, j int) bool { return victims[i].Advantage > victims[j].Advantage })

	return MatchupGroups{
		Counters: capGroup(counters, limit),
		Victims:  capGroup(victims, limit),
	}
}

// RankSynergy is the ally analogue of RankMatchups, using winrate-with
// rather than winrate-vs.
func RankSynergy(allies []SynergyInput, baseWinrate *float64, limit int) SynergyGroups {
	base := 0.5
	if baseWinrate != nil {
		base = *baseWinrate
	}

	var best, worst []RankedSynergy
	for _, a := range allies {
		delta := round4(a.Winrate - base)
		row := RankedSynergy{
			AllyID:    a.AllyID,
			Games:     a.Games,
			Winrate:   a.Winrate,
			Advantage: delta,
		}
		if delta < 0 {
			worst = append(worst, row)
		} else {
			best = append(best, row)
		}
	}

	sort.SliceStable(best, func(i, j int) bool { return best[i].Advantage > best[j].Advantage })
	sort.SliceStable(worst, func(i, j int) bool { return worst[i].Advantage < worst[j].Advantage })

	return SynergyGroups{
		BestAllies:  capGroup(best, limit),
		WorstAllies: capGroup(worst, limit),
	}
}

func capGroup[T any](xs []T, limit int) []T {
	if limit > 0 && len(xs) > limit {
		return xs[:limit]
	}
	return xs
}
