// Package ingest reads archery result tables from CSV and XLSX files and
// from IANSEO result pages.
package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/quiver/internal/domain/model"
)

// Column headers of a result table. Matching ignores case and surrounding
// space.
const (
	ColDivision     = "Division"
	ColClass        = "Class"
	ColScore        = "Score"
	ColTens         = "10"
	ColNines        = "9"
	ColCategoryRank = "Category Rank"
	ColAthlete      = "Athlete"
)

// athleteAliases are accepted in place of ColAthlete.
var athleteAliases = []string{"name", "archer"}

// Stats counts rows seen while reading a table.
type Stats struct {
	Read    int
	Dropped int
}

type columns struct {
	division, class, score, tens, nines int
	categoryRank, athlete               int
}

func findColumns(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	need := func(name string) (int, error) {
		i, ok := idx[strings.ToLower(name)]
		if !ok {
			return -1, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
		return i, nil
	}
	opt := func(names ...string) int {
		for _, n := range names {
			if i, ok := idx[strings.ToLower(n)]; ok {
				return i
			}
		}
		return -1
	}

	var (
		c   columns
		err error
	)
	for _, f := range []struct {
		dst  *int
		name string
	}{
		{&c.division, ColDivision},
		{&c.class, ColClass},
		{&c.score, ColScore},
		{&c.tens, ColTens},
		{&c.nines, ColNines},
	} {
		if *f.dst, err = need(f.name); err != nil {
			return c, err
		}
	}
	c.categoryRank = opt(ColCategoryRank)
	c.athlete = opt(append([]string{ColAthlete}, athleteAliases...)...)
	return c, nil
}

// parseTable turns rows (header first) into records of eventID. Rows with a
// zero, disqualified or missing score are dropped. Blank lines are skipped.
func parseTable(rows [][]string, eventID string) ([]model.Record, Stats, error) {
	var st Stats
	rows = trimBlank(rows)
	if len(rows) == 0 {
		return nil, st, ErrEmptyTable
	}
	cols, err := findColumns(rows[0])
	if err != nil {
		return nil, st, err
	}

	out := make([]model.Record, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		if isBlank(row) {
			continue
		}
		st.Read++

		score, keep, err := parseScore(cell(row, cols.score))
		if err != nil {
			return nil, st, fmt.Errorf("%w: line %d: %w", ErrMalformedRow, line, err)
		}
		if !keep {
			st.Dropped++
			continue
		}

		r := model.Record{EventID: eventID, Score: score}
		if r.Division, err = model.ParseDivision(cell(row, cols.division)); err != nil {
			return nil, st, fmt.Errorf("%w: line %d: %w", ErrMalformedRow, line, err)
		}
		if r.Class, err = model.ParseClass(cell(row, cols.class)); err != nil {
			return nil, st, fmt.Errorf("%w: line %d: %w", ErrMalformedRow, line, err)
		}
		if r.Tens, err = parseCount(cell(row, cols.tens)); err != nil {
			return nil, st, fmt.Errorf("%w: line %d: column %q: %w", ErrMalformedRow, line, ColTens, err)
		}
		if r.Nines, err = parseCount(cell(row, cols.nines)); err != nil {
			return nil, st, fmt.Errorf("%w: line %d: column %q: %w", ErrMalformedRow, line, ColNines, err)
		}
		if cols.categoryRank >= 0 {
			// Tied places are published as "3T"; a bad value is not fatal.
			v := strings.TrimRight(cell(row, cols.categoryRank), "Tt=")
			r.CategoryRank, _ = parseCount(v)
		}
		if cols.athlete >= 0 {
			r.Athlete = cell(row, cols.athlete)
		}
		out = append(out, r)
	}
	return out, st, nil
}

// parseScore reports keep=false for zero, DSQ, DNS and empty scores.
func parseScore(s string) (score int, keep bool, err error) {
	switch strings.ToUpper(s) {
	case "", "DSQ", "DNS", "DNF", "DQ":
		return 0, false, nil
	}
	v, err := parseNumber(s)
	if err != nil {
		return 0, false, fmt.Errorf("score %q: %w", s, err)
	}
	if v < 0 {
		return 0, false, fmt.Errorf("negative score %d", v)
	}
	return v, v > 0, nil
}

// parseCount reads a hit count. Empty cells count as zero.
func parseCount(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := parseNumber(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative count %d", v)
	}
	return v, nil
}

// parseNumber accepts integers and integral floats such as "612.0", which
// spreadsheet exports produce.
func parseNumber(s string) (int, error) {
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimBlank(rows [][]string) [][]string {
	for len(rows) > 0 && isBlank(rows[0]) {
		rows = rows[1:]
	}
	return rows
}
