// Package report builds the text reports of a ranked dataset: the raw table,
// top movers, per-group score statistics, rank bands and Welch t-tests
// between gender classes.
package report

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// DefaultBandEdges are the lower edges of the default rank bands:
// 1-5, 6-10, 11-20, 21-50 and >50.
var DefaultBandEdges = []float64{1, 6, 11, 21, 51}

// ErrBadEdges is returned for empty, unsorted or sub-1 band edges.
var ErrBadEdges = errors.New("invalid rank band edges")

// Band is a range of separate ranks. A rank r belongs to the band when
// Lo < r <= Hi; the bounds sit half way between integer ranks so averaged
// tie ranks such as 5.5 fall into the lower band.
type Band struct {
	Label string
	Lo    float64
	Hi    float64
}

// RankBands builds bands from ascending lower edges. The last band is open
// ended.
func RankBands(edges []float64) ([]Band, error) {
	if len(edges) == 0 || !slices.IsSorted(edges) || edges[0] < 1 {
		return nil, fmt.Errorf("%w: %v", ErrBadEdges, edges)
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] == edges[i-1] {
			return nil, fmt.Errorf("%w: duplicate edge %v", ErrBadEdges, edges[i])
		}
	}

	bands := make([]Band, len(edges))
	for i, lo := range edges {
		b := Band{Lo: lo - 0.5, Hi: math.Inf(1)}
		if i+1 < len(edges) {
			b.Hi = edges[i+1] - 0.5
			b.Label = fmt.Sprintf("%g-%g", lo, edges[i+1]-1)
		} else {
			b.Label = fmt.Sprintf(">%g", lo-1)
		}
		bands[i] = b
	}
	return bands, nil
}

// BandOf returns the index of the band holding rank.
func BandOf(bands []Band, rank float64) (int, bool) {
	for i, b := range bands {
		if rank > b.Lo && rank <= b.Hi {
			return i, true
		}
	}
	return -1, false
}
