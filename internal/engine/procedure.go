package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/voltlab/banksia/internal/definition"
)

// StepStatus is the derived lifecycle state of a step.
type StepStatus string

const (
	StepPending  StepStatus = "PENDING"
	StepActive   StepStatus = "ACTIVE"
	StepResolved StepStatus = "RESOLVED"
)

// StepInfo tracks when a step was activated and resolved. Status is derived
// from the two timestamps rather than stored, so it can never disagree with
// them.
type StepInfo struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Status derives the lifecycle state.
func (s StepInfo) Status() StepStatus {
	switch {
	case s.CompletedAt != nil:
		return StepResolved
	case s.StartedAt != nil:
		return StepActive
	default:
		return StepPending
	}
}

// Listener binds one step's event to its actions. A listener is enabled iff
// EnabledTime is set; the timestamp doubles as the epoch for wait-duration
// measurement.
type Listener struct {
	Step        string
	Event       definition.Event
	Actions     []definition.Action
	EnabledTime *time.Time
}

// Enabled reports whether the listener can currently match triggers.
func (l *Listener) Enabled() bool {
	return l.EnabledTime != nil
}

// ClientIdentity is the certificate-derived identity of the device under
// test.
type ClientIdentity struct {
	LFDI         string
	SFDI         int64
	AggregatorID int64
}

// ActiveTestProcedure is the single live run: the immutable definition plus
// all mutable run state. It is not safe for concurrent use; the Runner
// serializes every mutation.
type ActiveTestProcedure struct {
	Definition *definition.TestProcedure
	RunID      uuid.UUID
	Client     ClientIdentity

	// Listeners in definition order. remove-listeners is the only way an
	// entry leaves this slice.
	Listeners []*Listener

	steps map[string]*StepInfo

	InitialisedAt time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// NewActiveTestProcedure instantiates run state for a definition. One
// listener per step, all disabled; every step PENDING.
func NewActiveTestProcedure(def *definition.TestProcedure, client ClientIdentity, runID uuid.UUID, now time.Time) *ActiveTestProcedure {
	listeners := make([]*Listener, 0, len(def.Steps))
	steps := make(map[string]*StepInfo, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		listeners = append(listeners, &Listener{
			Step:    step.Name,
			Event:   step.Event,
			Actions: step.Actions,
		})
		steps[step.Name] = &StepInfo{}
	}
	return &ActiveTestProcedure{
		Definition:    def,
		RunID:         runID,
		Client:        client,
		Listeners:     listeners,
		steps:         steps,
		InitialisedAt: now.UTC(),
	}
}

// Finished reports whether the run has been finalized.
func (p *ActiveTestProcedure) Finished() bool {
	return p.FinishedAt != nil
}

// StepInfo returns the tracker for a step, or nil for unknown names.
func (p *ActiveTestProcedure) StepInfo(name string) *StepInfo {
	return p.steps[name]
}

// EnableListeners enables every listener whose step is named, recording the
// enable instant and activating the step. Already-enabled listeners keep
// their original enable time.
func (p *ActiveTestProcedure) EnableListeners(names []string, now time.Time) {
	set := toSet(names)
	t := now.UTC()
	for _, listener := range p.Listeners {
		if _, wanted := set[listener.Step]; !wanted {
			continue
		}
		if listener.EnabledTime == nil {
			enabledAt := t
			listener.EnabledTime = &enabledAt
		}
		p.activateStep(listener.Step, t)
	}
}

// RemoveListeners deletes every listener whose step is named. Step trackers
// are untouched; a removed step keeps whatever status it reached.
func (p *ActiveTestProcedure) RemoveListeners(names []string) {
	set := toSet(names)
	kept := p.Listeners[:0]
	for _, listener := range p.Listeners {
		if _, remove := set[listener.Step]; !remove {
			kept = append(kept, listener)
		}
	}
	p.Listeners = kept
}

// activateStep moves a step PENDING -> ACTIVE. Idempotent; never rewinds.
func (p *ActiveTestProcedure) activateStep(name string, now time.Time) {
	info := p.steps[name]
	if info == nil || info.StartedAt != nil {
		return
	}
	startedAt := now.UTC()
	info.StartedAt = &startedAt
}

// ResolveStep moves a step to RESOLVED. Idempotent; never rewinds. A step
// resolved without ever being activated also gets its start stamped, so the
// two timestamps stay ordered.
func (p *ActiveTestProcedure) ResolveStep(name string, now time.Time) {
	info := p.steps[name]
	if info == nil || info.CompletedAt != nil {
		return
	}
	t := now.UTC()
	if info.StartedAt == nil {
		info.StartedAt = &t
	}
	info.CompletedAt = &t
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
