package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/pkg/metrics"
)

// ReadXLSX reads the first sheet of a workbook as a result table for eventID.
func ReadXLSX(r io.Reader, eventID string) ([]model.Record, error) {
	records, _, err := readXLSX(r, eventID)
	return records, err
}

func readXLSX(r io.Reader, eventID string) ([]model.Record, Stats, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		if strings.Contains(err.Error(), "zip: not a valid zip file") {
			return nil, Stats{}, fmt.Errorf("failed to open XLSX file: %w. (Hint: CSV files need a .csv extension)", err)
		}
		return nil, Stats{}, fmt.Errorf("failed to open XLSX file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, Stats{}, fmt.Errorf("XLSX file has no sheets: %w", ErrEmptyTable)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	records, st, err := parseTable(rows, eventID)
	if err != nil {
		return nil, st, err
	}
	metrics.RecordIngest("xlsx", st.Read, st.Dropped)
	return records, st, nil
}
