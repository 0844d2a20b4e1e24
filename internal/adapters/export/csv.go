// Package export writes ranked result tables as CSV and XLSX.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/okian/quiver/internal/domain/model"
)

// ErrBadHeader is returned when a CSV does not start with Header.
var ErrBadHeader = errors.New("unexpected ranked table header")

// Header is the column layout of an exported ranked table.
var Header = []string{
	"event_id", "division", "gender_class", "athlete", "score", "tens", "nines",
	"category_rank", "sep_rank", "sep_percentile", "mixed_rank", "mixed_percentile",
	"delta_rank", "delta_percentile",
}

// WriteCSV writes ranked rows in input order. Not-applicable percentiles are
// written as NA and floats use the shortest exact form, so ReadCSV returns
// the same values.
func WriteCSV(w io.Writer, ranked []model.Ranked) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for i := range ranked {
		if err := cw.Write(rowStrings(ranked[i].Row())); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a table written by WriteCSV.
func ReadCSV(r io.Reader) ([]model.Ranked, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty input", ErrBadHeader)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	for i := range Header {
		if head[i] != Header[i] {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i+1, head[i], Header[i])
		}
	}

	var out []model.Ranked
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, row.Ranked())
	}
	return out, nil
}

func rowStrings(r model.Row) []string {
	rank := ""
	if r.CategoryRank > 0 {
		rank = strconv.Itoa(r.CategoryRank)
	}
	return []string{
		r.EventID, string(r.Division), string(r.Class), r.Athlete,
		strconv.Itoa(r.Score), strconv.Itoa(r.Tens), strconv.Itoa(r.Nines), rank,
		formatFloat(r.SepRank), r.SepPercentile.String(),
		formatFloat(r.MixedRank), r.MixedPercentile.String(),
		formatFloat(r.DeltaRank), r.DeltaPercentile.String(),
	}
}

func parseRow(rec []string) (model.Row, error) {
	r := model.Row{
		EventID:  rec[0],
		Division: model.Division(rec[1]),
		Class:    model.Class(rec[2]),
		Athlete:  rec[3],
	}
	var err error
	ints := []struct {
		dst *int
		src string
		opt bool
	}{
		{&r.Score, rec[4], false},
		{&r.Tens, rec[5], false},
		{&r.Nines, rec[6], false},
		{&r.CategoryRank, rec[7], true},
	}
	for _, f := range ints {
		if f.opt && f.src == "" {
			continue
		}
		if *f.dst, err = strconv.Atoi(f.src); err != nil {
			return r, err
		}
	}
	floats := []struct {
		dst *float64
		src string
	}{
		{&r.SepRank, rec[8]},
		{&r.MixedRank, rec[10]},
		{&r.DeltaRank, rec[12]},
	}
	for _, f := range floats {
		if *f.dst, err = strconv.ParseFloat(f.src, 64); err != nil {
			return r, err
		}
	}
	pcts := []struct {
		dst *model.Percentile
		src string
	}{
		{&r.SepPercentile, rec[9]},
		{&r.MixedPercentile, rec[11]},
		{&r.DeltaPercentile, rec[13]},
	}
	for _, f := range pcts {
		if *f.dst, err = model.ParsePercentile(f.src); err != nil {
			return r, err
		}
	}
	return r, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
