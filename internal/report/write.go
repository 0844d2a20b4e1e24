package report

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/okian/quiver/internal/domain/model"
)

// Report file names, each prefixed with the dataset id.
const (
	RawDataFile    = "raw_data.txt"
	MoversFile     = "delta_pos.txt"
	StatsFile      = "all_stats.txt"
	BandStatsFile  = "score_band_stats.txt"
	TTestAllFile   = "t_test_results_all.txt"
	TTestBandsFile = "t_test_results_bands.txt"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
}

// SortForDisplay orders a ranked table by event, division and class
// ascending, then score and tens descending. The input is not modified.
func SortForDisplay(ranked []model.Ranked) []model.Ranked {
	out := slices.Clone(ranked)
	slices.SortStableFunc(out, func(a, b model.Ranked) int {
		if c := cmp.Compare(a.EventID, b.EventID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Division, b.Division); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Class, b.Class); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(b.Tens, a.Tens)
	})
	return out
}

// WriteRawData writes the sorted ranked table.
func WriteRawData(w io.Writer, ranked []model.Ranked) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "Event\tDivision\tClass\tScore\t10\t9\tSep rank\tMixed rank\t")
	for _, r := range SortForDisplay(ranked) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t\n",
			r.EventID, r.Division, r.Class, r.Score, r.Tens, r.Nines,
			num(r.Separate.Rank), num(r.Mixed.Rank))
	}
	return tw.Flush()
}

// WriteMovers writes the top movers table.
func WriteMovers(w io.Writer, movers []model.Mover) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "Event\tDivision\tClass\tScore\tSep rank\tMixed rank\tDelta rank\t")
	for _, m := range movers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t\n",
			m.EventID, m.Division, m.Class, m.Score,
			num(m.SepRank), num(m.MixedRank), num(m.DeltaRank))
	}
	return tw.Flush()
}

// WriteSummaries writes per-group score statistics.
func WriteSummaries(w io.Writer, sums []GroupSummary, withBand bool) error {
	tw := newTable(w)
	if withBand {
		fmt.Fprintln(tw, "Event\tDivision\tRank band\tClass\tmean\tstd\tmax\tmin\tcount\t")
	} else {
		fmt.Fprintln(tw, "Event\tDivision\tClass\tmean\tstd\tmax\tmin\tcount\t")
	}
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t", s.EventID, s.Division)
		if withBand {
			fmt.Fprintf(tw, "%s\t", s.Band)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t\n",
			s.Class, stat6(s.Mean), stat6(s.Std), num(s.Max), num(s.Min), s.Count)
	}
	return tw.Flush()
}

// WriteTTests writes Welch test results.
func WriteTTests(w io.Writer, tests []TTest, withBand bool) error {
	tw := newTable(w)
	if withBand {
		fmt.Fprintln(tw, "Event\tDivision\tRank band\tmen\twomen\tt\tp\t")
	} else {
		fmt.Fprintln(tw, "Event\tDivision\tmen\twomen\tt\tp\t")
	}
	for _, t := range tests {
		fmt.Fprintf(tw, "%s\t%s\t", t.EventID, t.Division)
		if withBand {
			fmt.Fprintf(tw, "%s\t", t.Band)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t\n", t.Men, t.Women, stat6(t.T), stat6(t.P))
	}
	return tw.Flush()
}

// WriteAll writes every report file into dir, naming each {prefix}{file}.
// dir is created if needed.
func WriteAll(dir, prefix string, ranked []model.Ranked, movers []model.Mover, bands []Band) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating results dir: %w", err)
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{RawDataFile, func(w io.Writer) error { return WriteRawData(w, ranked) }},
		{MoversFile, func(w io.Writer) error { return WriteMovers(w, movers) }},
		{StatsFile, func(w io.Writer) error { return WriteSummaries(w, Summaries(ranked, nil), false) }},
		{BandStatsFile, func(w io.Writer) error { return WriteSummaries(w, Summaries(ranked, bands), true) }},
		{TTestAllFile, func(w io.Writer) error { return WriteTTests(w, WelchTests(ranked, nil), false) }},
		{TTestBandsFile, func(w io.Writer) error { return WriteTTests(w, WelchTests(ranked, bands), true) }},
	}
	for _, f := range files {
		if err := writeFile(filepath.Join(dir, prefix+f.name), f.write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, f.Close()) }()
	if err := write(f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// num prints ranks and scores without trailing zeros.
func num(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func stat6(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}
