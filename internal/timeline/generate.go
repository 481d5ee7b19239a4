package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/voltlab/banksia/internal/store"
)

// DataStream is one labelled series of per-slice watt values. A nil entry
// means no record covered that slice.
type DataStream struct {
	Label            string   `json:"label"`
	OffsetWattValues []*int64 `json:"offset_watt_values"`
}

// Timeline is the full set of data streams for a run window.
type Timeline struct {
	Start           time.Time    `json:"start"`
	End             time.Time    `json:"end"`
	IntervalSeconds int64        `json:"interval_seconds"`
	Streams         []DataStream `json:"streams"`
}

// GenerateOffsetWattValues divides [start, end) into ceil((end-start)/
// intervalLen) slices and resolves each slice against the records
// overlapping that slice's own range. Returns one series per extractor,
// all the same length.
func GenerateOffsetWattValues(ix *Index, start, end time.Time, intervalLen time.Duration, extractors []Extractor) ([][]*int64, error) {
	if intervalLen <= 0 {
		return nil, fmt.Errorf("interval length must be positive, got %v", intervalLen)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end %v precedes start %v", end, start)
	}

	total := end.Sub(start)
	sliceCount := int(total / intervalLen)
	if total%intervalLen != 0 {
		sliceCount++
	}

	series := make([][]*int64, len(extractors))
	for i := range series {
		series[i] = make([]*int64, 0, sliceCount)
	}

	for i := 0; i < sliceCount; i++ {
		sliceStart := start.Add(time.Duration(i) * intervalLen)
		sliceEnd := sliceStart.Add(intervalLen)
		if sliceEnd.After(end) {
			sliceEnd = end
		}

		candidates := ix.Overlapping(sliceStart, sliceEnd)
		if len(candidates) == 0 {
			for j := range series {
				series[j] = append(series[j], nil)
			}
			continue
		}
		winner, err := HighestPriorityRecord(candidates)
		if err != nil {
			return nil, err
		}
		for j, extract := range extractors {
			series[j] = append(series[j], extract(winner))
		}
	}
	return series, nil
}

// controlRecords flattens live and archived controls into timeline records.
func controlRecords(live []store.Control, archived []store.ArchivedControl) []Record {
	records := make([]Record, 0, len(live)+len(archived))
	for _, c := range live {
		records = append(records, controlRecord(c, false))
	}
	for _, a := range archived {
		records = append(records, controlRecord(a.Control, true))
	}
	return records
}

func controlRecord(c store.Control, isArchived bool) Record {
	return Record{
		ID:                   c.ID,
		Archived:             isArchived,
		ChangedTime:          c.ChangedTime,
		Start:                c.StartTime,
		End:                  c.End(),
		ImportLimitWatts:     DecimalToWatts(c.ImportLimitWatts),
		ExportLimitWatts:     DecimalToWatts(c.ExportLimitWatts),
		GenerationLimitWatts: DecimalToWatts(c.GenerationLimitWatts),
		LoadLimitWatts:       DecimalToWatts(c.LoadLimitWatts),
	}
}

// defaultControlRecords turns default-control versions into records. A
// version is effective from its changed time until the next version's
// changed time; the final version runs to the horizon.
func defaultControlRecords(live []store.DefaultControl, archived []store.ArchivedDefaultControl, horizon time.Time) []Record {
	type version struct {
		d        store.DefaultControl
		archived bool
	}
	versions := make([]version, 0, len(live)+len(archived))
	for _, a := range archived {
		versions = append(versions, version{d: a.DefaultControl, archived: true})
	}
	for _, d := range live {
		versions = append(versions, version{d: d})
	}
	// Store reads are ordered by changed time; archived versions always
	// predate the live one, so the concatenation is already sorted.
	records := make([]Record, 0, len(versions))
	for i, v := range versions {
		end := horizon
		if i+1 < len(versions) {
			end = versions[i+1].d.ChangedTime
		}
		records = append(records, Record{
			ID:                   v.d.ID,
			Archived:             v.archived,
			ChangedTime:          v.d.ChangedTime,
			Start:                v.d.ChangedTime,
			End:                  end,
			ImportLimitWatts:     DecimalToWatts(v.d.ImportLimitWatts),
			ExportLimitWatts:     DecimalToWatts(v.d.ExportLimitWatts),
			GenerationLimitWatts: DecimalToWatts(v.d.GenerationLimitWatts),
			LoadLimitWatts:       DecimalToWatts(v.d.LoadLimitWatts),
		})
	}
	return records
}

// GenerateReadingsDataStream builds one labelled series from the site's
// active-power readings at the given location (role-flag mask). A missing
// site or absent reading types yields an all-nil series, not an error.
func GenerateReadingsDataStream(ctx context.Context, st *store.Store, label string, roleFlags int64, start, end time.Time, intervalLen time.Duration) (DataStream, error) {
	var records []Record
	site, err := st.ActiveSite(ctx)
	if err != nil {
		return DataStream{}, err
	}
	if site != nil {
		types, err := st.ReadingTypesFor(ctx, site.ID, store.UomActivePowerWatts, roleFlags, store.DataQualifierAverage)
		if err != nil {
			return DataStream{}, err
		}
		for _, rt := range types {
			readings, err := st.ReadingsForType(ctx, rt.ID)
			if err != nil {
				return DataStream{}, err
			}
			for _, r := range readings {
				watts, err := ReadingToWatts(types, r)
				if err != nil {
					return DataStream{}, err
				}
				records = append(records, Record{
					ID:          r.ID,
					ChangedTime: r.ChangedTime,
					Start:       r.TimePeriodStart,
					End:         r.TimePeriodStart.Add(time.Duration(r.TimePeriodSeconds) * time.Second),
					ValueWatts:  &watts,
				})
			}
		}
	}

	series, err := GenerateOffsetWattValues(NewIndex(records), start, end, intervalLen, []Extractor{ReadingValue})
	if err != nil {
		return DataStream{}, err
	}
	return DataStream{Label: label, OffsetWattValues: series[0]}, nil
}

// Generate assembles the full timeline for the run window: control limits,
// default-control limits, and site/device active power.
func Generate(ctx context.Context, st *store.Store, start, end time.Time, intervalLen time.Duration) (*Timeline, error) {
	live, err := st.ActiveControls(ctx)
	if err != nil {
		return nil, err
	}
	archived, err := st.ArchivedControls(ctx)
	if err != nil {
		return nil, err
	}
	controlIndex := NewIndex(controlRecords(live, archived))
	controlSeries, err := GenerateOffsetWattValues(controlIndex, start, end, intervalLen,
		[]Extractor{ImportLimit, ExportLimit})
	if err != nil {
		return nil, err
	}

	defaults, err := st.DefaultControls(ctx)
	if err != nil {
		return nil, err
	}
	archivedDefaults, err := st.ArchivedDefaultControls(ctx)
	if err != nil {
		return nil, err
	}
	defaultIndex := NewIndex(defaultControlRecords(defaults, archivedDefaults, end))
	defaultSeries, err := GenerateOffsetWattValues(defaultIndex, start, end, intervalLen,
		[]Extractor{ImportLimit, ExportLimit})
	if err != nil {
		return nil, err
	}

	sitePower, err := GenerateReadingsDataStream(ctx, st, "site active power",
		store.SiteReadingFlags, start, end, intervalLen)
	if err != nil {
		return nil, err
	}
	devicePower, err := GenerateReadingsDataStream(ctx, st, "device active power",
		store.DeviceReadingFlags, start, end, intervalLen)
	if err != nil {
		return nil, err
	}

	return &Timeline{
		Start:           start,
		End:             end,
		IntervalSeconds: int64(intervalLen / time.Second),
		Streams: []DataStream{
			{Label: "opModImpLimW", OffsetWattValues: controlSeries[0]},
			{Label: "opModExpLimW", OffsetWattValues: controlSeries[1]},
			{Label: "default opModImpLimW", OffsetWattValues: defaultSeries[0]},
			{Label: "default opModExpLimW", OffsetWattValues: defaultSeries[1]},
			sitePower,
			devicePower,
		},
	}, nil
}
