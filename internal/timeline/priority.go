package timeline

import "errors"

// ErrNoRecords is returned when priority resolution is called on an empty
// candidate set. Callers must check for emptiness first; reaching this is a
// programming error, not an empty-slice condition.
var ErrNoRecords = errors.New("timeline: no records to resolve")

// HighestPriorityRecord picks the winning record from a candidate set:
// live records beat archived ones, then the greatest changed time wins,
// then the greatest id. The result is independent of input order.
func HighestPriorityRecord(records []Record) (Record, error) {
	if len(records) == 0 {
		return Record{}, ErrNoRecords
	}
	best := records[0]
	for _, rec := range records[1:] {
		if outranks(rec, best) {
			best = rec
		}
	}
	return best, nil
}

func outranks(a, b Record) bool {
	if a.Archived != b.Archived {
		return !a.Archived
	}
	if !a.ChangedTime.Equal(b.ChangedTime) {
		return a.ChangedTime.After(b.ChangedTime)
	}
	return a.ID > b.ID
}
