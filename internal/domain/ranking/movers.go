package ranking

import (
	"cmp"
	"slices"

	"github.com/okian/quiver/internal/domain/model"
)

// TopMovers returns the first topN finishers of every (event, division,
// class) group with their separate rank, mixed rank and delta. Rows are
// ordered by event, division and class ascending, then score and tens
// descending; ties keep input order. topN <= 0 means DefaultTopN.
func TopMovers(ranked []model.Ranked, topN int) []model.Mover {
	if topN <= 0 {
		topN = DefaultTopN
	}
	idx := make([]int, len(ranked))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		ra, rb := &ranked[a], &ranked[b]
		if c := cmp.Compare(ra.EventID, rb.EventID); c != 0 {
			return c
		}
		if c := cmp.Compare(ra.Division, rb.Division); c != 0 {
			return c
		}
		if c := cmp.Compare(ra.Class, rb.Class); c != 0 {
			return c
		}
		if c := cmp.Compare(rb.Score, ra.Score); c != 0 {
			return c
		}
		return cmp.Compare(rb.Tens, ra.Tens)
	})

	var (
		out   []model.Mover
		prev  groupKey
		taken int
	)
	for n, i := range idx {
		r := &ranked[i]
		k := groupKey{event: r.EventID, division: r.Division, class: r.Class}
		if n == 0 || k != prev {
			prev, taken = k, 0
		}
		if taken >= topN {
			continue
		}
		taken++
		out = append(out, model.Mover{
			EventID:   r.EventID,
			Division:  r.Division,
			Class:     r.Class,
			Athlete:   r.Athlete,
			Score:     r.Score,
			Tens:      r.Tens,
			SepRank:   r.Separate.Rank,
			MixedRank: r.Mixed.Rank,
			DeltaRank: r.DeltaRank,
		})
	}
	return out
}
