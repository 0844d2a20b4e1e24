package report

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/quiver/internal/domain/model"
)

// Summary describes a set of scores. Std is the sample standard deviation
// and is NaN for fewer than two scores.
type Summary struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Max   float64 `json:"max"`
	Min   float64 `json:"min"`
	Count int     `json:"count"`
}

// Summarize computes a Summary of xs.
func Summarize(xs []float64) Summary {
	s := Summary{Count: len(xs), Mean: math.NaN(), Std: math.NaN(), Max: math.NaN(), Min: math.NaN()}
	if len(xs) == 0 {
		return s
	}
	s.Max, s.Min = slices.Max(xs), slices.Min(xs)
	if len(xs) == 1 {
		s.Mean = xs[0]
		return s
	}
	var v float64
	s.Mean, v = stat.MeanVariance(xs, nil)
	s.Std = math.Sqrt(v)
	return s
}

// GroupKey names a group of a report. Band is empty when bands are not used.
type GroupKey struct {
	EventID  string         `json:"event_id"`
	Division model.Division `json:"division"`
	Band     string         `json:"band,omitempty"`
	Class    model.Class    `json:"gender_class,omitempty"`
}

// GroupSummary is the score summary of one group.
type GroupSummary struct {
	GroupKey
	Summary
}

type group struct {
	key    GroupKey
	band   int
	scores []float64
}

// groupScores collects scores per (event, division[, band][, class]) in
// report order: event, division display order, band, class.
func groupScores(ranked []model.Ranked, bands []Band, byClass bool) []group {
	idx := make(map[GroupKey]int)
	var groups []group
	for i := range ranked {
		r := &ranked[i]
		k := GroupKey{EventID: r.EventID, Division: r.Division}
		band := -1
		if bands != nil {
			b, ok := BandOf(bands, r.Separate.Rank)
			if !ok {
				continue
			}
			band, k.Band = b, bands[b].Label
		}
		if byClass {
			k.Class = r.Class
		}
		gi, ok := idx[k]
		if !ok {
			gi = len(groups)
			idx[k] = gi
			groups = append(groups, group{key: k, band: band})
		}
		groups[gi].scores = append(groups[gi].scores, float64(r.Score))
	}

	slices.SortFunc(groups, func(a, b group) int {
		if c := cmp.Compare(a.key.EventID, b.key.EventID); c != 0 {
			return c
		}
		if a.key.Division != b.key.Division {
			if model.DivisionLess(a.key.Division, b.key.Division) {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.band, b.band); c != 0 {
			return c
		}
		return cmp.Compare(a.key.Class, b.key.Class)
	})
	return groups
}

// Summaries returns score statistics per (event, division, class). With
// bands, groups are also split by the band of the separate rank.
func Summaries(ranked []model.Ranked, bands []Band) []GroupSummary {
	groups := groupScores(ranked, bands, true)
	out := make([]GroupSummary, len(groups))
	for i, g := range groups {
		out[i] = GroupSummary{GroupKey: g.key, Summary: Summarize(g.scores)}
	}
	return out
}

// RunStats gathers every statistic of a ranked table.
type RunStats struct {
	Summaries     []GroupSummary `json:"summaries"`
	BandSummaries []GroupSummary `json:"band_summaries"`
	TTests        []TTest        `json:"t_tests"`
	BandTTests    []TTest        `json:"band_t_tests"`
}

// Analyze computes summaries and Welch t-tests of ranked, overall and per
// rank band.
func Analyze(ranked []model.Ranked, bands []Band) RunStats {
	return RunStats{
		Summaries:     Summaries(ranked, nil),
		BandSummaries: Summaries(ranked, bands),
		TTests:        WelchTests(ranked, nil),
		BandTTests:    WelchTests(ranked, bands),
	}
}
