// Package ranking computes separate, mixed and delta rankings over archery
// result tables.
//
// Within a group, rows are ranked by score descending with competition
// ("min") ranking; rows sharing a score are refined by their average rank on
// tens descending:
//
//	rank = minRank(score) + avgRank(tens | same score) - 1
//
// Percentile is 100*(rank-1)/(n-1) over the n rows of the group and is not
// applicable when n == 1. Every function here is pure: inputs are never
// modified and output order equals input order.
package ranking

import (
	"cmp"
	"slices"
	"strings"

	"github.com/okian/quiver/internal/domain/model"
)

// DefaultTopN is the podium size used by TopMovers when topN <= 0.
const DefaultTopN = 3

// Validate checks the engine's input contract and returns the first
// violation as a *RecordError.
func Validate(records []model.Record) error {
	for i := range records {
		r := &records[i]
		var (
			kind   error
			reason string
		)
		switch {
		case strings.TrimSpace(r.EventID) == "":
			kind, reason = ErrMalformedRecord, "missing event id"
		case strings.TrimSpace(string(r.Division)) == "":
			kind, reason = ErrMalformedRecord, "missing division"
		case !r.Class.Valid():
			kind, reason = ErrMalformedRecord, "unknown gender class"
		case r.Score < 0:
			kind, reason = ErrMalformedRecord, "negative score"
		case r.Score == 0:
			kind = ErrZeroScore
		case r.Tens < 0 || r.Nines < 0:
			kind, reason = ErrMalformedRecord, "negative hit count"
		default:
			continue
		}
		return &RecordError{Index: i, Record: *r, Reason: reason, Err: kind}
	}
	return nil
}

// Separate ranks every record within its (event, division, class) group.
func Separate(records []model.Record) ([]model.Separated, error) {
	out, _, err := separate(records)
	return out, err
}

func separate(records []model.Record) ([]model.Separated, groupStats, error) {
	if err := Validate(records); err != nil {
		return nil, groupStats{}, err
	}
	placings, st := place(records, true)
	out := make([]model.Separated, len(records))
	for i := range records {
		out[i] = model.Separated{Record: records[i], Separate: placings[i]}
	}
	return out, st, nil
}

// MixedFrom ranks already separated records within their (event, division)
// group, ignoring gender class.
func MixedFrom(sep []model.Separated) []model.MixedRanked {
	out, _ := mixedFrom(sep)
	return out
}

func mixedFrom(sep []model.Separated) ([]model.MixedRanked, groupStats) {
	records := make([]model.Record, len(sep))
	for i := range sep {
		records[i] = sep[i].Record
	}
	placings, st := place(records, false)
	out := make([]model.MixedRanked, len(sep))
	for i := range sep {
		out[i] = model.MixedRanked{Separated: sep[i], Mixed: placings[i]}
	}
	return out, st
}

// Mixed runs Separate and then MixedFrom.
func Mixed(records []model.Record) ([]model.MixedRanked, error) {
	sep, err := Separate(records)
	if err != nil {
		return nil, err
	}
	return MixedFrom(sep), nil
}

// DeltaFrom attaches sep-minus-mixed rank and percentile deltas.
func DeltaFrom(mixed []model.MixedRanked) []model.Ranked {
	out := make([]model.Ranked, len(mixed))
	for i := range mixed {
		m := mixed[i]
		out[i] = model.Ranked{
			MixedRanked:     m,
			DeltaRank:       m.Separate.Rank - m.Mixed.Rank,
			DeltaPercentile: m.Separate.Percentile.Sub(m.Mixed.Percentile),
		}
	}
	return out
}

// Delta runs every stage: Separate, MixedFrom and DeltaFrom.
func Delta(records []model.Record) ([]model.Ranked, error) {
	mixed, err := Mixed(records)
	if err != nil {
		return nil, err
	}
	return DeltaFrom(mixed), nil
}

// Rank is Delta under the name callers usually reach for.
func Rank(records []model.Record) ([]model.Ranked, error) {
	return Delta(records)
}

type groupKey struct {
	event    string
	division model.Division
	class    model.Class
}

type groupStats struct {
	groups     int
	degenerate int
}

// place computes placings for records grouped by (event, division) and, when
// byClass is set, by class as well.
func place(records []model.Record, byClass bool) ([]model.Placing, groupStats) {
	groups := make(map[groupKey][]int)
	var order []groupKey
	for i := range records {
		k := groupKey{event: records[i].EventID, division: records[i].Division}
		if byClass {
			k.class = records[i].Class
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	out := make([]model.Placing, len(records))
	st := groupStats{groups: len(order)}
	for _, k := range order {
		idx := groups[k]
		if len(idx) == 1 {
			st.degenerate++
		}
		rankGroup(records, idx, out)
	}
	return out, st
}

// rankGroup fills out[i] for every i in idx.
func rankGroup(records []model.Record, idx []int, out []model.Placing) {
	sorted := slices.Clone(idx)
	slices.SortStableFunc(sorted, func(a, b int) int {
		if c := cmp.Compare(records[b].Score, records[a].Score); c != 0 {
			return c
		}
		return cmp.Compare(records[b].Tens, records[a].Tens)
	})

	n := len(sorted)
	for i := 0; i < n; {
		j := i
		for j < n && records[sorted[j]].Score == records[sorted[i]].Score {
			j++
		}
		minRank := float64(i + 1)
		for k := i; k < j; {
			m := k
			for m < j && records[sorted[m]].Tens == records[sorted[k]].Tens {
				m++
			}
			// Positions k-i+1 .. m-i within the score tie share their mean.
			avg := float64((k-i+1)+(m-i)) / 2
			rank := minRank + avg - 1
			for _, id := range sorted[k:m] {
				out[id] = model.Placing{Rank: rank, Percentile: percentile(rank, n)}
			}
			k = m
		}
		i = j
	}
}

func percentile(rank float64, n int) model.Percentile {
	if n < 2 {
		return model.NA
	}
	return model.Pct(100 * (rank - 1) / float64(n-1))
}
