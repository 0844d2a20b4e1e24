package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/okian/quiver/internal/domain/model"
)

// Sheet names written by WriteXLSX.
const (
	ResultsSheet = "Results"
	MoversSheet  = "Movers"
)

// MoversHeader is the column layout of the Movers sheet.
var MoversHeader = []string{
	"event_id", "division", "gender_class", "athlete", "score", "tens",
	"sep_rank", "mixed_rank", "delta_rank",
}

// WriteXLSX writes a workbook with the ranked table on Results and, when
// movers is not empty, the top movers on Movers. Not-applicable percentiles
// are left blank.
func WriteXLSX(w io.Writer, ranked []model.Ranked, movers []model.Mover) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ResultsSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := writeRow(f, ResultsSheet, 1, toAny(Header)); err != nil {
		return err
	}
	for i := range ranked {
		r := ranked[i].Row()
		row := []any{
			r.EventID, string(r.Division), string(r.Class), r.Athlete,
			r.Score, r.Tens, r.Nines, blankIfZero(r.CategoryRank),
			r.SepRank, pctCell(r.SepPercentile),
			r.MixedRank, pctCell(r.MixedPercentile),
			r.DeltaRank, pctCell(r.DeltaPercentile),
		}
		if err := writeRow(f, ResultsSheet, i+2, row); err != nil {
			return err
		}
	}

	if len(movers) > 0 {
		if _, err := f.NewSheet(MoversSheet); err != nil {
			return fmt.Errorf("failed to add sheet: %w", err)
		}
		if err := writeRow(f, MoversSheet, 1, toAny(MoversHeader)); err != nil {
			return err
		}
		for i, m := range movers {
			row := []any{
				m.EventID, string(m.Division), string(m.Class), m.Athlete,
				m.Score, m.Tens, m.SepRank, m.MixedRank, m.DeltaRank,
			}
			if err := writeRow(f, MoversSheet, i+2, row); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(ResultsSheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	return f.Write(w)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func pctCell(p model.Percentile) any {
	if !p.Valid {
		return nil
	}
	return p.Value
}

func blankIfZero(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
