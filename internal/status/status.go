package status

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voltlab/banksia/internal/check"
	"github.com/voltlab/banksia/internal/definition"
	"github.com/voltlab/banksia/internal/engine"
	"github.com/voltlab/banksia/internal/store"
	"github.com/voltlab/banksia/internal/timeline"
)

// Timeline rendering window: slice width and how far past now to project.
const (
	timelineIntervalSeconds  = 20
	timelineLookaheadSeconds = 120
)

// StepEventStatus is the reported lifecycle of one step, plus a short
// human hint for active steps ("Waiting for 55s", "GET /dcap").
type StepEventStatus struct {
	Status      engine.StepStatus `json:"status"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	EventStatus string            `json:"event_status,omitempty"`
}

// RequestRecord is one proxied client request.
type RequestRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Step      string    `json:"step"`
}

// Interaction is one notable client/operator touch point.
type Interaction struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
}

// DataStreamPoint is one timeline slice value with its offset label. A null
// value means no record covered the slice.
type DataStreamPoint struct {
	Value  *int64 `json:"value"`
	Offset string `json:"offset"`
}

// TimelineDataStream is one labelled series of slice points.
type TimelineDataStream struct {
	Label string            `json:"label"`
	Data  []DataStreamPoint `json:"data"`
}

// TimelineStatus carries the run's data streams for charting.
type TimelineStatus struct {
	DataStreams []TimelineDataStream `json:"data_streams"`
	SetMaxW     *int64               `json:"set_max_w,omitempty"`
	NowOffset   string               `json:"now_offset"`
}

// DERSettingsInfo summarises the client's posted DERSettings.
type DERSettingsInfo struct {
	SetMaxW *int64 `json:"set_max_w,omitempty"`
	GradW   *int64 `json:"grad_w,omitempty"`
}

// DERCapabilityInfo summarises the client's posted DERCapability.
type DERCapabilityInfo struct {
	MaxW  *int64 `json:"max_w,omitempty"`
	MaxVA *int64 `json:"max_va,omitempty"`
}

// DERStatusInfo summarises the client's posted DERStatus.
type DERStatusInfo struct {
	GenConnectStatus      *int64 `json:"gen_connect_status,omitempty"`
	OperationalModeStatus *int64 `json:"operational_mode_status,omitempty"`
}

// EndDeviceMetadata describes the registered EndDevice.
type EndDeviceMetadata struct {
	EdevID         int64              `json:"edev_id"`
	LFDI           string             `json:"lfdi"`
	SFDI           int64              `json:"sfdi"`
	NMI            string             `json:"nmi,omitempty"`
	AggregatorID   int64              `json:"aggregator_id"`
	DeviceCategory int64              `json:"device_category"`
	SetMaxW        *int64             `json:"set_max_w,omitempty"`
	DERSettings    *DERSettingsInfo   `json:"der_settings,omitempty"`
	DERCapability  *DERCapabilityInfo `json:"der_capability,omitempty"`
	DERStatus      *DERStatusInfo     `json:"der_status,omitempty"`
}

// RunnerStatus is the full status document served to the UI.
type RunnerStatus struct {
	TimestampStatus       time.Time                  `json:"timestamp_status"`
	TimestampInitialise   *time.Time                 `json:"timestamp_initialise,omitempty"`
	TimestampStart        *time.Time                 `json:"timestamp_start,omitempty"`
	TestProcedureName     string                     `json:"test_procedure_name,omitempty"`
	StatusSummary         string                     `json:"status_summary"`
	LastClientInteraction *Interaction               `json:"last_client_interaction,omitempty"`
	Criteria              []check.NamedResult        `json:"criteria,omitempty"`
	PreconditionChecks    []check.NamedResult        `json:"precondition_checks,omitempty"`
	Instructions          []string                   `json:"instructions,omitempty"`
	StepStatus            map[string]StepEventStatus `json:"step_status,omitempty"`
	RequestHistory        []RequestRecord            `json:"request_history,omitempty"`
	Timeline              *TimelineStatus            `json:"timeline,omitempty"`
	EndDeviceMetadata     *EndDeviceMetadata         `json:"end_device_metadata,omitempty"`
}

// Reporter builds RunnerStatus snapshots from the live runner and store.
type Reporter struct {
	store  *store.Store
	runner *engine.Runner
	checks *check.Engine
	now    func() time.Time
}

// NewReporter wires a reporter. nil now means wall clock.
func NewReporter(st *store.Store, runner *engine.Runner, checks *check.Engine, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{store: st, runner: runner, checks: checks, now: now}
}

// Status snapshots the current run. Never fails: sections that cannot be
// built are omitted.
func (r *Reporter) Status(ctx context.Context) RunnerStatus {
	var out RunnerStatus
	r.runner.Inspect(func(proc *engine.ActiveTestProcedure, history []engine.RequestEntry, interactions []engine.Interaction) {
		out = r.build(ctx, proc, history, interactions)
	})
	return out
}

func (r *Reporter) build(ctx context.Context, proc *engine.ActiveTestProcedure, history []engine.RequestEntry, interactions []engine.Interaction) RunnerStatus {
	now := r.now().UTC()
	last := lastInteraction(interactions)

	if proc == nil {
		return RunnerStatus{
			TimestampStatus:       now,
			StatusSummary:         "No test procedure running",
			LastClientInteraction: last,
		}
	}

	steps := make(map[string]StepEventStatus, len(proc.Definition.Steps))
	completed := 0
	for i := range proc.Definition.Steps {
		name := proc.Definition.Steps[i].Name
		info := proc.StepInfo(name)
		if info.Status() == engine.StepResolved {
			completed++
		}
		steps[name] = StepEventStatus{
			Status:      info.Status(),
			StartedAt:   info.StartedAt,
			CompletedAt: info.CompletedAt,
			EventStatus: eventStatusHint(now, name, info, proc),
		}
	}

	requests := make([]RequestRecord, 0, len(history))
	for _, entry := range history {
		requests = append(requests, RequestRecord{
			Timestamp: entry.Timestamp,
			Method:    entry.Method,
			Path:      entry.Path,
			Step:      entry.Step,
		})
	}

	initialisedAt := proc.InitialisedAt
	return RunnerStatus{
		TimestampStatus:       now,
		TimestampInitialise:   &initialisedAt,
		TimestampStart:        proc.StartedAt,
		TestProcedureName:     proc.Definition.Name,
		StatusSummary:         fmt.Sprintf("%d/%d steps complete.", completed, len(proc.Definition.Steps)),
		LastClientInteraction: last,
		Criteria:              r.criteriaResults(ctx, proc),
		PreconditionChecks:    r.preconditionResults(ctx, proc),
		Instructions:          currentInstructions(proc),
		StepStatus:            steps,
		RequestHistory:        requests,
		Timeline:              r.buildTimeline(ctx, proc, now),
		EndDeviceMetadata:     r.buildEndDeviceMetadata(ctx),
	}
}

func lastInteraction(interactions []engine.Interaction) *Interaction {
	if len(interactions) == 0 {
		return nil
	}
	last := interactions[len(interactions)-1]
	return &Interaction{Timestamp: last.Timestamp, Kind: last.Kind}
}

func (r *Reporter) criteriaResults(ctx context.Context, proc *engine.ActiveTestProcedure) []check.NamedResult {
	if proc.Definition.Criteria == nil {
		return nil
	}
	return r.checks.Results(ctx, proc.Definition.Criteria.Checks, proc)
}

func (r *Reporter) preconditionResults(ctx context.Context, proc *engine.ActiveTestProcedure) []check.NamedResult {
	if proc.Definition.Preconditions == nil {
		return nil
	}
	return r.checks.Results(ctx, proc.Definition.Preconditions.Checks, proc)
}

// currentInstructions returns the operator instructions relevant right now:
// the precondition instructions before the run starts, then the
// instructions of every enabled step.
func currentInstructions(proc *engine.ActiveTestProcedure) []string {
	if proc.StartedAt == nil {
		if proc.Definition.Preconditions != nil {
			return proc.Definition.Preconditions.Instructions
		}
		return nil
	}

	var instructions []string
	for _, listener := range proc.Listeners {
		if !listener.Enabled() {
			continue
		}
		step, err := proc.Definition.StepByName(listener.Step)
		if err != nil {
			continue
		}
		for _, instruction := range step.Instructions {
			instructions = append(instructions, fmt.Sprintf("%s (%s)", instruction, listener.Step))
		}
	}
	return instructions
}

// eventStatusHint produces the short waiting-on message for an ACTIVE step.
func eventStatusHint(now time.Time, stepName string, info *engine.StepInfo, proc *engine.ActiveTestProcedure) string {
	if info.Status() != engine.StepActive {
		return ""
	}
	for _, listener := range proc.Listeners {
		if listener.Step != stepName {
			continue
		}
		switch event := listener.Event; {
		case event.Type == "wait":
			return waitHint(now, info, event.Parameters)
		case event.Type == "proceed":
			return "Waiting on signal to proceed"
		default:
			method, _, ok := strings.Cut(event.Type, "-")
			if !ok {
				return ""
			}
			endpoint := "???"
			if p, found := event.Parameters["endpoint"]; found {
				if s, isString := p.Const.(string); isString {
					endpoint = s
				}
			}
			return fmt.Sprintf("%s %s", method, endpoint)
		}
	}
	return ""
}

func waitHint(now time.Time, info *engine.StepInfo, params definition.Parameters) string {
	duration, ok := waitDurationSeconds(params)
	if !ok || info.StartedAt == nil {
		return "Waiting for ???s"
	}
	finish := info.StartedAt.Add(time.Duration(duration) * time.Second)
	if !now.Before(finish) {
		return "Triggering..."
	}
	remaining := int64(finish.Sub(now).Seconds())
	return "Waiting for " + timeline.DurationToLabel(remaining)
}

// waitDurationSeconds reads a constant duration_seconds event parameter.
// Hints are best effort; a non-constant duration just yields the unknown
// form.
func waitDurationSeconds(params definition.Parameters) (int64, bool) {
	value, ok := params["duration_seconds"]
	if !ok {
		return 0, false
	}
	switch v := value.Const.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// buildTimeline renders the run's data streams from its start to a little
// past now. nil before the run starts or when generation fails.
func (r *Reporter) buildTimeline(ctx context.Context, proc *engine.ActiveTestProcedure, now time.Time) *TimelineStatus {
	if proc.StartedAt == nil {
		return nil
	}
	basis := *proc.StartedAt
	end := now.Add(timelineLookaheadSeconds * time.Second)
	tl, err := timeline.Generate(ctx, r.store, basis, end, timelineIntervalSeconds*time.Second)
	if err != nil {
		slog.Error("generating status timeline", "error", err)
		return nil
	}

	streams := make([]TimelineDataStream, 0, len(tl.Streams))
	for _, ds := range tl.Streams {
		points := make([]DataStreamPoint, 0, len(ds.OffsetWattValues))
		for idx, value := range ds.OffsetWattValues {
			points = append(points, DataStreamPoint{
				Value:  value,
				Offset: timeline.DurationToLabel(int64(idx) * timelineIntervalSeconds),
			})
		}
		streams = append(streams, TimelineDataStream{Label: ds.Label, Data: points})
	}

	elapsed := int64(now.Sub(basis).Seconds())
	nowOffset := timeline.DurationToLabel(elapsed / timelineIntervalSeconds * timelineIntervalSeconds)
	return &TimelineStatus{
		DataStreams: streams,
		SetMaxW:     r.resolveSetMaxW(ctx),
		NowOffset:   nowOffset,
	}
}

// resolveSetMaxW returns the active site's DERSettings setMaxW in watts, or
// nil when the client hasn't registered or posted settings yet.
func (r *Reporter) resolveSetMaxW(ctx context.Context) *int64 {
	site, err := r.store.ActiveSite(ctx)
	if err != nil || site == nil {
		return nil
	}
	setting, err := r.store.LatestDERSetting(ctx, site.ID)
	if err != nil || setting == nil {
		return nil
	}
	w := timeline.Pow10ToWatts(setting.SetMaxWValue, setting.SetMaxWMultiplier)
	return &w
}

func (r *Reporter) buildEndDeviceMetadata(ctx context.Context) *EndDeviceMetadata {
	site, err := r.store.ActiveSite(ctx)
	if err != nil {
		slog.Error("reading active site for status", "error", err)
		return nil
	}
	if site == nil {
		return nil
	}

	meta := &EndDeviceMetadata{
		EdevID:         site.ID,
		LFDI:           site.LFDI,
		SFDI:           site.SFDI,
		NMI:            site.NMI,
		AggregatorID:   site.AggregatorID,
		DeviceCategory: site.DeviceCategory,
		SetMaxW:        r.resolveSetMaxW(ctx),
	}

	if setting, err := r.store.LatestDERSetting(ctx, site.ID); err == nil && setting != nil {
		setMaxW := timeline.Pow10ToWatts(setting.SetMaxWValue, setting.SetMaxWMultiplier)
		meta.DERSettings = &DERSettingsInfo{
			SetMaxW: &setMaxW,
			GradW:   setting.GradW,
		}
	}
	if rating, err := r.store.LatestDERRating(ctx, site.ID); err == nil && rating != nil {
		maxW := timeline.Pow10ToWatts(rating.MaxWValue, rating.MaxWMultiplier)
		meta.DERCapability = &DERCapabilityInfo{
			MaxW:  &maxW,
			MaxVA: valueMultiplier(rating.MaxVaValue, rating.MaxVaMultiplier),
		}
	}
	if derStatus, err := r.store.LatestDERStatus(ctx, site.ID); err == nil && derStatus != nil {
		meta.DERStatus = &DERStatusInfo{
			GenConnectStatus:      derStatus.GenConnectStatus,
			OperationalModeStatus: derStatus.OperationalModeStatus,
		}
	}
	return meta
}

// valueMultiplier resolves a sep2 value/multiplier pair, treating a nil
// multiplier as 10^0.
func valueMultiplier(value, multiplier *int64) *int64 {
	if value == nil {
		return nil
	}
	mult := int64(0)
	if multiplier != nil {
		mult = *multiplier
	}
	w := timeline.Pow10ToWatts(*value, mult)
	return &w
}
