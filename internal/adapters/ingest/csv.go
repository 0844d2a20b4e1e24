package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/pkg/metrics"
)

// ReadCSV reads a result table for eventID.
func ReadCSV(r io.Reader, eventID string) ([]model.Record, error) {
	records, _, err := readCSV(r, eventID)
	return records, err
}

func readCSV(r io.Reader, eventID string) ([]model.Record, Stats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, Stats{}, fmt.Errorf("failed to read CSV: %w", err)
		}
		rows = append(rows, row)
	}

	records, st, err := parseTable(rows, eventID)
	if err != nil {
		return nil, st, err
	}
	metrics.RecordIngest("csv", st.Read, st.Dropped)
	return records, st, nil
}
