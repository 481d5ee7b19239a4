package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voltlab/banksia/internal/definition"
	"github.com/voltlab/banksia/internal/store"
	"github.com/voltlab/banksia/internal/variables"
)

// DefaultTickInterval is how often wait listeners are re-scanned.
const DefaultTickInterval = 10 * time.Second

// RequestEntry is one observed client request, tagged with the step it
// resolved or IgnoredStep.
type RequestEntry struct {
	Timestamp time.Time
	Method    string
	Path      string
	Step      string
}

// IgnoredStep tags requests that matched no listener.
const IgnoredStep = "IGNORED"

// Interaction is one notable client/operator touch point.
type Interaction struct {
	Timestamp time.Time
	Kind      string // "init", "start", "proxied-request", "finalize"
}

// Config wires a Runner's collaborators.
type Config struct {
	Store    *store.Store
	Resolver *variables.Resolver

	// ChecksPassing gates every listener fire. It is invoked under the
	// runner's lock with the live procedure; implementations must not call
	// back into the runner. nil means always passing.
	ChecksPassing func(ctx context.Context, proc *ActiveTestProcedure) (bool, error)

	// Now supplies the clock; nil means wall clock. Tests inject a fixed
	// instant.
	Now func() time.Time

	// TickInterval overrides DefaultTickInterval when positive.
	TickInterval time.Duration
}

// Runner owns the single live ActiveTestProcedure. Every mutation - request
// triggers, periodic ticks, lifecycle transitions - is serialized through
// its mutex, enforcing the no-interleaved-mutation invariant.
type Runner struct {
	mu sync.Mutex

	store         *store.Store
	resolver      *variables.Resolver
	checksPassing func(ctx context.Context, proc *ActiveTestProcedure) (bool, error)
	now           func() time.Time
	tickInterval  time.Duration

	proc         *ActiveTestProcedure
	history      []RequestEntry
	interactions []Interaction
}

// New builds a Runner from cfg, filling defaults.
func New(cfg Config) *Runner {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	checks := cfg.ChecksPassing
	if checks == nil {
		checks = func(context.Context, *ActiveTestProcedure) (bool, error) { return true, nil }
	}
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Runner{
		store:         cfg.Store,
		resolver:      cfg.Resolver,
		checksPassing: checks,
		now:           now,
		tickInterval:  interval,
	}
}

// Init instantiates a new run for the definition: resets the store, derives
// the client's SFDI when absent, and creates the procedure with every step
// PENDING and every listener disabled. Fails with a conflict while an
// unfinished run exists.
func (r *Runner) Init(ctx context.Context, def *definition.TestProcedure, client ClientIdentity) (*ActiveTestProcedure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.proc != nil && !r.proc.Finished() {
		return nil, &RunError{
			Code:    ErrCodeConflict,
			Message: "a test procedure is already active",
		}
	}

	if client.SFDI == 0 && client.LFDI != "" {
		sfdi, err := LFDIToSFDI(client.LFDI)
		if err != nil {
			return nil, err
		}
		client.SFDI = sfdi
	}

	if err := r.store.Reset(ctx); err != nil {
		return nil, err
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	r.proc = NewActiveTestProcedure(def, client, runID, now)
	r.history = nil
	r.interactions = []Interaction{{Timestamp: now, Kind: "init"}}

	slog.Info("test procedure initialised",
		"procedure", def.Name, "run_id", runID, "lfdi", client.LFDI, "sfdi", client.SFDI)
	return r.proc, nil
}

// Start begins the run: precondition actions fire first, then the first
// declared step's listener is enabled. Fails with a conflict if any
// listener is already enabled (the run has already been started).
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	proc, err := r.activeProcedure()
	if err != nil {
		return err
	}
	for _, listener := range proc.Listeners {
		if listener.Enabled() {
			return &RunError{
				Code:    ErrCodeConflict,
				Message: "test procedure has already been started",
				Step:    listener.Step,
			}
		}
	}

	if pre := proc.Definition.Preconditions; pre != nil {
		for _, action := range pre.Actions {
			if err := r.applyAction(ctx, "preconditions", action); err != nil {
				return err
			}
		}
	}

	now := r.now().UTC()
	if len(proc.Listeners) > 0 {
		first := proc.Listeners[0]
		proc.EnableListeners([]string{first.Step}, now)
		slog.Info("test procedure started", "procedure", proc.Definition.Name,
			"first_step", first.Step)
	}
	proc.StartedAt = &now
	r.interactions = append(r.interactions, Interaction{Timestamp: now, Kind: "start"})
	return nil
}

// HandleRequestBefore processes the before-proxy trigger for a client
// request. Returns the resolved step name, or "" when nothing matched.
func (r *Runner) HandleRequestBefore(ctx context.Context, method, path string) (string, error) {
	return r.handleRequest(ctx, method, path, true)
}

// HandleRequestAfter processes the after-proxy trigger; only
// serve_request_first listeners can match it.
func (r *Runner) HandleRequestAfter(ctx context.Context, method, path string) (string, error) {
	return r.handleRequest(ctx, method, path, false)
}

func (r *Runner) handleRequest(ctx context.Context, method, path string, beforeServing bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	proc, err := r.activeProcedure()
	if err != nil {
		return "", err
	}
	if proc.Finished() {
		return "", &RunError{Code: ErrCodeFinished, Message: "test procedure has been finalized"}
	}

	trigger := NewRequestTrigger(method, path, r.now(), beforeServing)
	listener, err := r.handleTrigger(ctx, trigger)
	if err != nil {
		return "", err
	}
	if listener == nil {
		return "", nil
	}
	return listener.Step, nil
}

// Tick processes one periodic scan, advancing wait listeners. A nil
// listener result means nothing was due.
func (r *Runner) Tick(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.proc == nil || r.proc.Finished() {
		return "", nil
	}
	listener, err := r.handleTrigger(ctx, NewTimeTrigger(r.now()))
	if err != nil {
		return "", err
	}
	if listener == nil {
		return "", nil
	}
	return listener.Step, nil
}

// Proceed resolves the first enabled "proceed" listener in response to an
// explicit operator signal.
func (r *Runner) Proceed(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	proc, err := r.activeProcedure()
	if err != nil {
		return "", err
	}
	if proc.Finished() {
		return "", &RunError{Code: ErrCodeFinished, Message: "test procedure has been finalized"}
	}

	for _, listener := range proc.Listeners {
		if !listener.Enabled() || listener.Event.Type != definition.EventProceed {
			continue
		}
		if fired, err := r.fireListener(ctx, listener); err != nil || !fired {
			return "", err
		}
		return listener.Step, nil
	}
	return "", &RunError{Code: ErrCodeConflict, Message: "no enabled proceed listener"}
}

// Run drives the periodic wait-scan until ctx is cancelled. Tick errors are
// logged and the loop continues; one failed scan must not kill the run.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if step, err := r.Tick(ctx); err != nil {
				slog.Error("periodic scan failed", "error", err)
			} else if step != "" {
				slog.Info("wait listener fired", "step", step)
			}
		}
	}
}

// Finalize marks the run finished. Terminal and idempotent-hostile: a
// second call is a finished-procedure error.
func (r *Runner) Finalize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	proc, err := r.activeProcedure()
	if err != nil {
		return err
	}
	if proc.Finished() {
		return &RunError{Code: ErrCodeFinished, Message: "test procedure has already been finalized"}
	}
	now := r.now().UTC()
	proc.FinishedAt = &now
	r.interactions = append(r.interactions, Interaction{Timestamp: now, Kind: "finalize"})
	slog.Info("test procedure finalized", "procedure", proc.Definition.Name)
	return nil
}

// RecordRequest appends a request-history entry. step is the resolved step
// name or IgnoredStep.
func (r *Runner) RecordRequest(method, path, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	if step == "" {
		step = IgnoredStep
	}
	r.history = append(r.history, RequestEntry{
		Timestamp: now,
		Method:    method,
		Path:      path,
		Step:      step,
	})
	r.interactions = append(r.interactions, Interaction{Timestamp: now, Kind: "proxied-request"})
}

// Inspect runs f under the runner's lock with the live procedure (possibly
// nil), the request history and the interaction log. f must not retain the
// pointers after returning.
func (r *Runner) Inspect(f func(proc *ActiveTestProcedure, history []RequestEntry, interactions []Interaction)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(r.proc, r.history, r.interactions)
}

// handleTrigger is the composed matcher: find the first triggerable
// listener in definition order, gate it on the checks-passing predicate,
// then fire its actions and resolve its step.
//
// CRITICAL: callers must hold r.mu. The match-gate-fire sequence must never
// interleave with another mutation.
func (r *Runner) handleTrigger(ctx context.Context, trigger Trigger) (*Listener, error) {
	for _, listener := range r.proc.Listeners {
		triggerable, err := isListenerTriggerable(ctx, listener, trigger, r.resolver)
		if err != nil {
			return nil, err
		}
		if !triggerable {
			continue
		}

		slog.Info("trigger matched listener", "step", listener.Step,
			"trigger", trigger.Type, "event", listener.Event.Type)

		fired, err := r.fireListener(ctx, listener)
		if err != nil {
			return nil, err
		}
		if !fired {
			// Checks failing suppresses the match entirely; later
			// listeners are not considered for this trigger.
			return nil, nil
		}
		return listener, nil
	}
	return nil, nil
}

// fireListener applies the checks gate, then the listener's actions, then
// resolves the step. Returns false when the gate suppressed the fire.
func (r *Runner) fireListener(ctx context.Context, listener *Listener) (bool, error) {
	passing, err := r.checksPassing(ctx, r.proc)
	if err != nil {
		return false, err
	}
	if !passing {
		slog.Warn("listener match suppressed: checks not passing", "step", listener.Step)
		return false, nil
	}
	if err := r.applyActions(ctx, listener); err != nil {
		return false, err
	}
	r.proc.ResolveStep(listener.Step, r.now())
	return true, nil
}

// activeProcedure returns the live procedure or a no-procedure error.
// Callers must hold r.mu.
func (r *Runner) activeProcedure() (*ActiveTestProcedure, error) {
	if r.proc == nil {
		return nil, &RunError{Code: ErrCodeNoProcedure, Message: "no test procedure is active"}
	}
	return r.proc, nil
}
