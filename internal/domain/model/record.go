// Package model contains the archery result types passed between layers.
//
// A result table moves through typed states: Record (raw), Separated (ranked
// within its gender class), MixedRanked (also ranked across classes) and
// Ranked (with deltas). Each state embeds the previous one, so a stage can
// only be called with the fields it needs already present.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Division is a bow-style category.
type Division string

// Known division codes, as published by IANSEO result pages.
const (
	Recurve  Division = "R"
	Compound Division = "C"
	Barebow  Division = "B"
	Longbow  Division = "L"
)

// divisionOrder is the display order used by reports and charts.
var divisionOrder = map[Division]int{Recurve: 0, Compound: 1, Barebow: 2, Longbow: 3}

// DivisionLess orders divisions R, C, B, L first and anything else after,
// alphabetically.
func DivisionLess(a, b Division) bool {
	ia, oka := divisionOrder[a]
	ib, okb := divisionOrder[b]
	switch {
	case oka && okb:
		return ia < ib
	case oka:
		return true
	case okb:
		return false
	}
	return a < b
}

// Name returns the long name of a known division, or the code itself.
func (d Division) Name() string {
	switch d {
	case Recurve:
		return "Recurve"
	case Compound:
		return "Compound"
	case Barebow:
		return "Barebow"
	case Longbow:
		return "Longbow"
	}
	return string(d)
}

// ParseDivision normalizes a division tag. Long names map to their code.
func ParseDivision(s string) (Division, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return "", fmt.Errorf("empty division")
	case "r", "recurve":
		return Recurve, nil
	case "c", "compound":
		return Compound, nil
	case "b", "barebow":
		return Barebow, nil
	case "l", "longbow":
		return Longbow, nil
	}
	return Division(s), nil
}

// UnmarshalJSON accepts codes and long names, so "Recurve" and "R" decode
// to the same division.
func (d *Division) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*d = ""
		return nil
	}
	parsed, err := ParseDivision(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Class is the gender category an athlete competes in before merging.
type Class string

// Gender classes.
const (
	Men   Class = "M"
	Women Class = "W"
)

// Valid reports whether c is one of the two known classes.
func (c Class) Valid() bool { return c == Men || c == Women }

// Name returns "Men" or "Women".
func (c Class) Name() string {
	switch c {
	case Men:
		return "Men"
	case Women:
		return "Women"
	}
	return string(c)
}

// ParseClass accepts M/W/F and Men/Women/Male/Female in any case.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "men", "male":
		return Men, nil
	case "w", "f", "women", "female":
		return Women, nil
	}
	return "", fmt.Errorf("unknown gender class %q", s)
}

// UnmarshalJSON accepts every spelling ParseClass does. Unknown values are
// kept as given so validation can name the offending record.
func (c *Class) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClass(s)
	if err != nil {
		*c = Class(s)
		return nil
	}
	*c = parsed
	return nil
}

// Record is one athlete's result at one event.
type Record struct {
	EventID      string   `json:"event_id"`
	Division     Division `json:"division"`
	Class        Class    `json:"gender_class"`
	Athlete      string   `json:"athlete,omitempty"`
	Score        int      `json:"score"`
	Tens         int      `json:"tens"`
	Nines        int      `json:"nines"`
	CategoryRank int      `json:"category_rank,omitempty"`
}

// Percentile is a percentile position that may be not applicable, which is
// the case for single-member groups.
type Percentile struct {
	Value float64
	Valid bool
}

// NA is the not-applicable percentile.
var NA = Percentile{}

// Pct returns a valid percentile.
func Pct(v float64) Percentile { return Percentile{Value: v, Valid: true} }

// Sub returns p - q, not applicable if either side is.
func (p Percentile) Sub(q Percentile) Percentile {
	if !p.Valid || !q.Valid {
		return NA
	}
	return Pct(p.Value - q.Value)
}

// String formats the value in shortest form, "NA" when not applicable.
func (p Percentile) String() string {
	if !p.Valid {
		return "NA"
	}
	return strconv.FormatFloat(p.Value, 'f', -1, 64)
}

// ParsePercentile is the inverse of String.
func ParsePercentile(s string) (Percentile, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "NA") {
		return NA, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return NA, err
	}
	return Pct(v), nil
}

// MarshalJSON encodes a not-applicable percentile as null.
func (p Percentile) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.Value)
}

// UnmarshalJSON accepts a number or null.
func (p *Percentile) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = NA
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = Pct(v)
	return nil
}

// Placing is a rank and its percentile within a group.
type Placing struct {
	Rank       float64    `json:"rank"`
	Percentile Percentile `json:"percentile"`
}

// Separated is a record ranked within its (event, division, class) group.
type Separated struct {
	Record
	Separate Placing `json:"separate"`
}

// MixedRanked is a separated record also ranked within its (event, division)
// group, both classes together.
type MixedRanked struct {
	Separated
	Mixed Placing `json:"mixed"`
}

// Ranked carries every derived field: separate, mixed and delta.
type Ranked struct {
	MixedRanked
	// DeltaRank is sep rank minus mixed rank. Merging can only add rivals,
	// so it is zero or negative: -2 means two places lost.
	DeltaRank       float64    `json:"delta_rank"`
	DeltaPercentile Percentile `json:"delta_percentile"`
}

// Mover is a top finisher of a separate ranking and how merging moved them.
type Mover struct {
	EventID   string   `json:"event_id"`
	Division  Division `json:"division"`
	Class     Class    `json:"gender_class"`
	Athlete   string   `json:"athlete,omitempty"`
	Score     int      `json:"score"`
	Tens      int      `json:"tens"`
	SepRank   float64  `json:"sep_rank"`
	MixedRank float64  `json:"mixed_rank"`
	DeltaRank float64  `json:"delta_rank"`
}

// Row is the flat column layout of a ranked record used by exports and the
// HTTP API.
type Row struct {
	EventID         string     `json:"event_id"`
	Division        Division   `json:"division"`
	Class           Class      `json:"gender_class"`
	Athlete         string     `json:"athlete,omitempty"`
	Score           int        `json:"score"`
	Tens            int        `json:"tens"`
	Nines           int        `json:"nines"`
	CategoryRank    int        `json:"category_rank,omitempty"`
	SepRank         float64    `json:"sep_rank"`
	SepPercentile   Percentile `json:"sep_percentile"`
	MixedRank       float64    `json:"mixed_rank"`
	MixedPercentile Percentile `json:"mixed_percentile"`
	DeltaRank       float64    `json:"delta_rank"`
	DeltaPercentile Percentile `json:"delta_percentile"`
}

// Row flattens r.
func (r *Ranked) Row() Row {
	return Row{
		EventID:         r.EventID,
		Division:        r.Division,
		Class:           r.Class,
		Athlete:         r.Athlete,
		Score:           r.Score,
		Tens:            r.Tens,
		Nines:           r.Nines,
		CategoryRank:    r.CategoryRank,
		SepRank:         r.Separate.Rank,
		SepPercentile:   r.Separate.Percentile,
		MixedRank:       r.Mixed.Rank,
		MixedPercentile: r.Mixed.Percentile,
		DeltaRank:       r.DeltaRank,
		DeltaPercentile: r.DeltaPercentile,
	}
}

// Ranked rebuilds the typed form of a flat row.
func (row Row) Ranked() Ranked {
	return Ranked{
		MixedRanked: MixedRanked{
			Separated: Separated{
				Record: Record{
					EventID:      row.EventID,
					Division:     row.Division,
					Class:        row.Class,
					Athlete:      row.Athlete,
					Score:        row.Score,
					Tens:         row.Tens,
					Nines:        row.Nines,
					CategoryRank: row.CategoryRank,
				},
				Separate: Placing{Rank: row.SepRank, Percentile: row.SepPercentile},
			},
			Mixed: Placing{Rank: row.MixedRank, Percentile: row.MixedPercentile},
		},
		DeltaRank:       row.DeltaRank,
		DeltaPercentile: row.DeltaPercentile,
	}
}

// Rows flattens a ranked table.
func Rows(ranked []Ranked) []Row {
	out := make([]Row, len(ranked))
	for i := range ranked {
		out[i] = ranked[i].Row()
	}
	return out
}

// Records strips derived fields from a ranked table.
func Records(ranked []Ranked) []Record {
	out := make([]Record, len(ranked))
	for i := range ranked {
		out[i] = ranked[i].Record
	}
	return out
}
