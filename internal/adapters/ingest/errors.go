package ingest

import "errors"

// Sentinel kinds for ingestion errors.
var (
	ErrEmptyTable    = errors.New("table is empty")
	ErrMissingColumn = errors.New("missing column")
	ErrMalformedRow  = errors.New("malformed row")
)
