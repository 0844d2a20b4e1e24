package ranking

import (
	"errors"
	"fmt"

	"github.com/okian/quiver/internal/domain/model"
)

// Sentinel kinds for ranking input errors. Use errors.Is to match them.
var (
	// ErrMalformedRecord marks a row with a missing required field, an
	// unknown gender class or a negative count.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrZeroScore marks a zero-score row reaching the engine. Disqualified
	// and no-show rows must be removed at ingestion; the whole batch is
	// rejected.
	ErrZeroScore = errors.New("zero score")
)

// RecordError reports which row of a batch broke the input contract.
type RecordError struct {
	Index  int
	Record model.Record
	Reason string
	Err    error
}

func (e *RecordError) Error() string {
	msg := fmt.Sprintf("record %d (event %q, %s %s): %v", e.Index, e.Record.EventID, e.Record.Division, e.Record.Class, e.Err)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *RecordError) Unwrap() error { return e.Err }
