package timeline

import (
	"sort"
	"time"
)

// Record is one time-ranged entity competing for timeline slices: a live or
// archived control, a default-control version, or a reading. The flat shape
// (archived as a field, not a subtype) keeps priority resolution a plain
// comparison.
type Record struct {
	ID          int64
	Archived    bool
	ChangedTime time.Time
	Start       time.Time // inclusive
	End         time.Time // exclusive

	ImportLimitWatts     *int64
	ExportLimitWatts     *int64
	GenerationLimitWatts *int64
	LoadLimitWatts       *int64
	ValueWatts           *int64 // readings only
}

// Extractor pulls one quantity out of a winning record. A nil result means
// the record does not carry that quantity.
type Extractor func(Record) *int64

// Standard extractors.
var (
	ImportLimit     Extractor = func(r Record) *int64 { return r.ImportLimitWatts }
	ExportLimit     Extractor = func(r Record) *int64 { return r.ExportLimitWatts }
	GenerationLimit Extractor = func(r Record) *int64 { return r.GenerationLimitWatts }
	LoadLimit       Extractor = func(r Record) *int64 { return r.LoadLimitWatts }
	ReadingValue    Extractor = func(r Record) *int64 { return r.ValueWatts }
)

// Index is an immutable set of records ordered by start time, supporting
// range-overlap queries.
type Index struct {
	records []Record // sorted by Start, then ID
}

// NewIndex copies and sorts the given records.
func NewIndex(records []Record) *Index {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].Start.Before(sorted[j].Start)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return &Index{records: sorted}
}

// Len returns the number of indexed records.
func (ix *Index) Len() int { return len(ix.records) }

// Overlapping returns every record whose [Start, End) range intersects
// [start, end).
func (ix *Index) Overlapping(start, end time.Time) []Record {
	// Records are sorted by Start, so stop scanning once Start >= end.
	var out []Record
	for _, rec := range ix.records {
		if !rec.Start.Before(end) {
			break
		}
		if rec.End.After(start) {
			out = append(out, rec)
		}
	}
	return out
}
