// Package charts renders PNG charts of ranked results.
package charts

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/okian/quiver/internal/domain/model"
)

const (
	width  = 800
	height = 500
)

var (
	menColor    = drawing.Color{R: 0, G: 170, B: 190, A: 255}
	womenColor  = drawing.Color{R: 220, G: 50, B: 47, A: 255}
	guideColor  = drawing.Color{R: 40, G: 40, B: 40, A: 255}
	podiumColor = []drawing.Color{
		{R: 212, G: 175, B: 55, A: 255},
		{R: 160, G: 160, B: 160, A: 255},
		{R: 139, G: 69, B: 19, A: 255},
	}
	classColor = map[model.Class]drawing.Color{model.Men: menColor, model.Women: womenColor}
)

type point struct{ x, y float64 }

func scatter(name string, c drawing.Color, pts []point) chart.ContinuousSeries {
	s := chart.ContinuousSeries{
		Name: name,
		Style: chart.Style{
			StrokeWidth: chart.Disabled,
			DotWidth:    3,
			DotColor:    c,
		},
	}
	for _, p := range pts {
		s.XValues = append(s.XValues, p.x)
		s.YValues = append(s.YValues, p.y)
	}
	return s
}

func line(c drawing.Color, w float64, x0, y0, x1, y1 float64) chart.ContinuousSeries {
	return chart.ContinuousSeries{
		XValues: []float64{x0, x1},
		YValues: []float64{y0, y1},
		Style:   chart.Style{StrokeColor: c, StrokeWidth: w},
	}
}

// classScatter plots one series per class, skipping classes with no points.
func classScatter(ranked []model.Ranked, xy func(*model.Ranked) (point, bool)) []chart.Series {
	var series []chart.Series
	for _, class := range []model.Class{model.Men, model.Women} {
		var pts []point
		for i := range ranked {
			if ranked[i].Class != class {
				continue
			}
			if p, ok := xy(&ranked[i]); ok {
				pts = append(pts, p)
			}
		}
		if len(pts) > 0 {
			series = append(series, scatter(fmt.Sprintf("%s (%d)", class.Name(), len(pts)), classColor[class], pts))
		}
	}
	return series
}

func scoreRange(ranked []model.Ranked) *chart.ContinuousRange {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range ranked {
		s := float64(ranked[i].Score)
		lo, hi = min(lo, s), max(hi, s)
	}
	if lo == hi {
		lo, hi = lo-5, hi+5
	}
	return &chart.ContinuousRange{Min: lo - 5, Max: hi + 5}
}

func render(graph chart.Chart) ([]byte, error) {
	if len(graph.Series) == 0 {
		return renderNoDataPlaceholder(graph.Title)
	}
	graph.Width, graph.Height = width, height
	if named(graph.Series) {
		graph.Elements = append(graph.Elements, chart.Legend(&graph))
	}
	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("rendering %q: %w", graph.Title, err)
	}
	return buf.Bytes(), nil
}

// named reports whether every series has a legend label.
func named(series []chart.Series) bool {
	for _, s := range series {
		if s.GetName() == "" {
			return false
		}
	}
	return true
}

func renderNoDataPlaceholder(title string) ([]byte, error) {
	const (
		w = 400
		h = 200
	)
	msg := "No results"
	if title != "" {
		msg = "No results for " + title
	}

	r, err := chart.PNG(w, h)
	if err != nil {
		return nil, err
	}
	font, err := chart.GetDefaultFont()
	if err != nil {
		return nil, err
	}
	r.SetFillColor(drawing.ColorWhite)
	r.MoveTo(0, 0)
	r.LineTo(w, 0)
	r.LineTo(w, h)
	r.LineTo(0, h)
	r.Close()
	r.Fill()

	r.SetFont(font)
	r.SetFontColor(guideColor)
	r.SetFontSize(12.0)
	tb := r.MeasureText(msg)
	r.Text(msg, (w-tb.Width())/2, (h+tb.Height())/2)

	var buf bytes.Buffer
	if err := r.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ScoresChart plots score against separate percentile for one event and
// division. Single-athlete classes have no percentile and are left out.
func ScoresChart(ranked []model.Ranked, event string, div model.Division) ([]byte, error) {
	rows := filter(ranked, event, div)
	return render(chart.Chart{
		Title:  fmt.Sprintf("%s %s", event, div.Name()),
		XAxis:  chart.XAxis{Name: "Split Ranking Percentile", Range: &chart.ContinuousRange{Min: -5, Max: 105}},
		YAxis:  chart.YAxis{Name: "Score", Range: scoreRange(rows)},
		Series: classScatter(rows, func(r *model.Ranked) (point, bool) {
			p := r.Separate.Percentile
			return point{p.Value, float64(r.Score)}, p.Valid
		}),
	})
}

// MixedScoresChart plots score against mixed rank for one event and
// division, coloured by class.
func MixedScoresChart(ranked []model.Ranked, event string, div model.Division) ([]byte, error) {
	rows := filter(ranked, event, div)
	return render(chart.Chart{
		Title:  fmt.Sprintf("%s %s mixed", event, div.Name()),
		XAxis:  chart.XAxis{Name: "Mixed Ranking Position", Range: &chart.ContinuousRange{Min: 0, Max: float64(len(rows) + 1)}},
		YAxis:  chart.YAxis{Name: "Score", Range: scoreRange(rows)},
		Series: classScatter(rows, func(r *model.Ranked) (point, bool) { return point{r.Mixed.Rank, float64(r.Score)}, true }),
	})
}

// PercentileChart plots mixed percentile against separate percentile with
// the no-change diagonal.
func PercentileChart(ranked []model.Ranked, event string, div model.Division) ([]byte, error) {
	rows := filter(ranked, event, div)
	series := classScatter(rows, func(r *model.Ranked) (point, bool) {
		s, m := r.Separate.Percentile, r.Mixed.Percentile
		return point{s.Value, m.Value}, s.Valid && m.Valid
	})
	if len(series) > 0 {
		guide := line(guideColor, 1, -10, -10, 110, 110)
		guide.Name = "No change"
		series = append(series, guide)
	}
	return render(chart.Chart{
		Title:  fmt.Sprintf("%s %s percentiles", event, div.Name()),
		XAxis:  chart.XAxis{Name: "Split Qualification Percentile", Range: &chart.ContinuousRange{Min: -5, Max: 105}},
		YAxis:  chart.YAxis{Name: "Mixed Qualification Percentile", Range: &chart.ContinuousRange{Min: -5, Max: 105}},
		Series: series,
	})
}

// PositionChangesChart shows, for each podium place and class of a
// division, the median change in rank with a bar from the smallest to the
// largest change across events. Rows from the top: gold men, gold women,
// silver men and so on.
func PositionChangesChart(movers []model.Mover, div model.Division) ([]byte, error) {
	var (
		series []chart.Series
		xmin   = 0.0
	)
	for pos := 1; pos <= 3; pos++ {
		for i, class := range []model.Class{model.Men, model.Women} {
			var deltas []float64
			for _, m := range movers {
				if m.Division == div && m.Class == class && m.SepRank == float64(pos) {
					deltas = append(deltas, m.DeltaRank)
				}
			}
			if len(deltas) == 0 {
				continue
			}
			y := float64(3*(4-pos) - i - 1)
			lo, hi := slices.Min(deltas), slices.Max(deltas)
			xmin = min(xmin, lo)
			series = append(series,
				line(podiumColor[pos-1], 2, lo, y, hi, y),
				scatter("", classColor[class], []point{{median(deltas), y}}),
			)
		}
	}
	if len(series) > 0 {
		series = append(series, line(guideColor, 0.5, 0, 0, 0, 9))
	}

	ticks := []chart.Tick{{Value: 1.5, Label: "Bronze"}, {Value: 4.5, Label: "Silver"}, {Value: 7.5, Label: "Gold"}}
	return render(chart.Chart{
		Title:  fmt.Sprintf("Position changes %s", div.Name()),
		XAxis:  chart.XAxis{Name: "Change in position, split -> mixed", Range: &chart.ContinuousRange{Min: math.Floor(xmin/5)*5 - 1, Max: 1}},
		YAxis:  chart.YAxis{Range: &chart.ContinuousRange{Min: 0, Max: 9}, Ticks: ticks},
		Series: series,
	})
}

func median(xs []float64) float64 {
	s := slices.Clone(xs)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func filter(ranked []model.Ranked, event string, div model.Division) []model.Ranked {
	var out []model.Ranked
	for i := range ranked {
		if ranked[i].EventID == event && ranked[i].Division == div {
			out = append(out, ranked[i])
		}
	}
	return out
}

// EventDivisions lists the (event, division) pairs in ranked, events
// ascending and divisions in display order.
func EventDivisions(ranked []model.Ranked) map[string][]model.Division {
	out := make(map[string][]model.Division)
	for i := range ranked {
		e, d := ranked[i].EventID, ranked[i].Division
		if !slices.Contains(out[e], d) {
			out[e] = append(out[e], d)
		}
	}
	for _, divs := range out {
		sort.Slice(divs, func(i, j int) bool { return model.DivisionLess(divs[i], divs[j]) })
	}
	return out
}

// WriteAll renders every chart into dir and returns the written paths.
// Per-event files are {event}_{division}_{kind}.png; position changes are
// {prefix}{division}_position_changes.png.
func WriteAll(dir, prefix string, ranked []model.Ranked, movers []model.Mover) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating charts dir: %w", err)
	}
	var written []string
	save := func(name string, png []byte, err error) error {
		if err != nil {
			return err
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, png, 0o644); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	byEvent := EventDivisions(ranked)
	events := make([]string, 0, len(byEvent))
	for e := range byEvent {
		events = append(events, e)
	}
	sort.Strings(events)

	divSet := make(map[model.Division]bool)
	for _, e := range events {
		for _, d := range byEvent[e] {
			divSet[d] = true
			base := fmt.Sprintf("%s_%s_", e, d)
			png, err := ScoresChart(ranked, e, d)
			if err := save(base+"scores.png", png, err); err != nil {
				return written, err
			}
			png, err = MixedScoresChart(ranked, e, d)
			if err := save(base+"scores_mixed.png", png, err); err != nil {
				return written, err
			}
			png, err = PercentileChart(ranked, e, d)
			if err := save(base+"percentile_scatter.png", png, err); err != nil {
				return written, err
			}
		}
	}

	divs := make([]model.Division, 0, len(divSet))
	for d := range divSet {
		divs = append(divs, d)
	}
	sort.Slice(divs, func(i, j int) bool { return model.DivisionLess(divs[i], divs[j]) })
	for _, d := range divs {
		png, err := PositionChangesChart(movers, d)
		if err := save(fmt.Sprintf("%s%s_position_changes.png", prefix, d), png, err); err != nil {
			return written, err
		}
	}
	return written, nil
}
