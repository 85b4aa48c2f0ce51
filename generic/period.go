package generic

import "time"

// =============================================================================
// EFFECTIVE PERIOD - Date range attached to a price quotation
// =============================================================================

// Period is an effective-date range. Either bound may be open (nil).
//
// Bounds are day-granular: Start covers its whole calendar day from 00:00,
// End covers its whole calendar day up to the last instant. A quotation
// effective [2024-01-01, 2024-01-31] therefore contains an admission at
// 2024-01-31 18:45.
type Period struct {
	Start *time.Time
	End   *time.Time
}

// IsBounded is true when both ends of the range are present.
func (p Period) IsBounded() bool {
	return p.Start != nil && p.End != nil
}

// IsOpen is true when neither end is present.
func (p Period) IsOpen() bool {
	return p.Start == nil && p.End == nil
}

// Contains returns true if t falls within [StartOfDay(Start), EndOfDay(End)].
// A nil bound is treated as unbounded on that side.
func (p Period) Contains(t time.Time) bool {
	if p.Start != nil && t.Before(StartOfDay(*p.Start)) {
		return false
	}
	if p.End != nil && t.After(EndOfDay(*p.End)) {
		return false
	}
	return true
}

// Valid reports whether the range is well-formed (end not before start).
func (p Period) Valid() bool {
	if p.Start == nil || p.End == nil {
		return true
	}
	return !StartOfDay(*p.End).Before(StartOfDay(*p.Start))
}

// String returns a string representation of the period.
func (p Period) String() string {
	start, end := "-inf", "+inf"
	if p.Start != nil {
		start = FormatDate(p.Start)
	}
	if p.End != nil {
		end = FormatDate(p.End)
	}
	return "[" + start + ", " + end + "]"
}
