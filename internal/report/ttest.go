package report

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/okian/quiver/internal/domain/model"
)

// TTest is a two-sided Welch t-test between men's and women's scores. P is
// NaN when either side has fewer than two scores or both have no variance.
type TTest struct {
	GroupKey
	T     float64 `json:"t"`
	DF    float64 `json:"df"`
	P     float64 `json:"p"`
	Men   int     `json:"men"`
	Women int     `json:"women"`
}

// Welch runs an unequal-variance t-test of a against b.
func Welch(a, b []float64) (t, df, p float64) {
	nan := math.NaN()
	if len(a) < 2 || len(b) < 2 {
		return nan, nan, nan
	}
	ma, va := stat.MeanVariance(a, nil)
	mb, vb := stat.MeanVariance(b, nil)
	sa, sb := va/float64(len(a)), vb/float64(len(b))
	se := sa + sb
	if se == 0 {
		return nan, nan, nan
	}
	t = (ma - mb) / math.Sqrt(se)
	df = se * se / (sa*sa/float64(len(a)-1) + sb*sb/float64(len(b)-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p = 2 * dist.Survival(math.Abs(t))
	return t, df, p
}

// WelchTests compares men and women per (event, division), or per (event,
// division, band) when bands is not nil.
func WelchTests(ranked []model.Ranked, bands []Band) []TTest {
	var (
		out    []TTest
		pos    = make(map[GroupKey]int)
		scores = make(map[GroupKey]map[model.Class][]float64)
	)
	for _, g := range groupScores(ranked, bands, true) {
		k := g.key
		k.Class = ""
		if _, ok := pos[k]; !ok {
			pos[k] = len(out)
			out = append(out, TTest{GroupKey: k})
			scores[k] = make(map[model.Class][]float64)
		}
		scores[k][g.key.Class] = g.scores
	}
	for i := range out {
		s := scores[out[i].GroupKey]
		out[i].Men, out[i].Women = len(s[model.Men]), len(s[model.Women])
		out[i].T, out[i].DF, out[i].P = Welch(s[model.Men], s[model.Women])
	}
	return out
}
