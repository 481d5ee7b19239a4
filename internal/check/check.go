package check

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voltlab/banksia/internal/definition"
	"github.com/voltlab/banksia/internal/engine"
	"github.com/voltlab/banksia/internal/store"
	"github.com/voltlab/banksia/internal/variables"
)

// Check types understood by the engine.
const (
	TypeAllStepsComplete        = "all-steps-complete"
	TypeConnectionPointContents = "connectionpoint-contents"
	TypeDERSettingsContents     = "der-settings-contents"
	TypeDERCapabilityContents   = "der-capability-contents"
	TypeDERStatusContents       = "der-status-contents"
	TypeReadingsSiteActivePower = "readings-site-active-power"
	TypeReadingsDERActivePower  = "readings-der-active-power"
)

// Result is the verdict of a single check. Description elaborates on a
// failure; passing checks usually leave it empty.
type Result struct {
	Passed      bool   `json:"passed"`
	Description string `json:"description,omitempty"`
}

// NamedResult pairs a verdict with the check type that produced it.
type NamedResult struct {
	Type string `json:"type"`
	Result
}

func pass() Result { return Result{Passed: true} }

func fail(format string, args ...any) (Result, error) {
	return Result{Description: fmt.Sprintf(format, args...)}, nil
}

// Engine runs checks against the store and the live procedure.
type Engine struct {
	store    *store.Store
	resolver *variables.Resolver
}

// NewEngine builds a check engine over the given store. The resolver
// evaluates check parameters, which may be variable expressions.
func NewEngine(st *store.Store, resolver *variables.Resolver) *Engine {
	return &Engine{store: st, resolver: resolver}
}

// Run evaluates one check. An unrecognised check type is a configuration
// error; everything else - including missing sites or readings - comes back
// as a failing Result with a descriptive text.
func (e *Engine) Run(ctx context.Context, chk definition.Check, proc *engine.ActiveTestProcedure) (Result, error) {
	params, err := e.resolver.ResolveParameters(ctx, chk.Parameters)
	if err != nil {
		return Result{}, fmt.Errorf("check %s: resolving parameters: %w", chk.Type, err)
	}

	switch chk.Type {
	case TypeAllStepsComplete:
		return e.allStepsComplete(proc, params)
	case TypeConnectionPointContents:
		return e.connectionPointContents(ctx)
	case TypeDERSettingsContents:
		return e.derSettingsContents(ctx)
	case TypeDERCapabilityContents:
		return e.derCapabilityContents(ctx)
	case TypeDERStatusContents:
		return e.derStatusContents(ctx, params)
	case TypeReadingsSiteActivePower:
		return e.readingsActivePower(ctx, params, store.SiteReadingFlags, "site")
	case TypeReadingsDERActivePower:
		return e.readingsActivePower(ctx, params, store.DeviceReadingFlags, "device")
	default:
		return Result{}, fmt.Errorf("unrecognised check type %q", chk.Type)
	}
}

// Results evaluates every check, converting errors into failing results so
// the caller always gets one verdict per check.
func (e *Engine) Results(ctx context.Context, checks []definition.Check, proc *engine.ActiveTestProcedure) []NamedResult {
	out := make([]NamedResult, 0, len(checks))
	for _, chk := range checks {
		result, err := e.Run(ctx, chk, proc)
		if err != nil {
			slog.Error("check failed to run", "check", chk.Type, "error", err)
			result = Result{Description: err.Error()}
		}
		out = append(out, NamedResult{Type: chk.Type, Result: result})
	}
	return out
}

// AllPassing reports whether every check passes. Errors count as failures.
func (e *Engine) AllPassing(ctx context.Context, checks []definition.Check, proc *engine.ActiveTestProcedure) bool {
	for _, result := range e.Results(ctx, checks, proc) {
		if !result.Passed {
			slog.Warn("check not passing", "check", result.Type, "description", result.Description)
			return false
		}
	}
	return true
}

// allStepsComplete passes once no listener outside ignored_steps remains.
func (e *Engine) allStepsComplete(proc *engine.ActiveTestProcedure, params variables.Resolved) (Result, error) {
	if proc == nil {
		return fail("no test procedure is active")
	}
	if len(proc.Listeners) == 0 {
		return pass(), nil
	}

	ignored := map[string]bool{}
	if _, ok := params["ignored_steps"]; ok {
		names, err := params.StringSlice("ignored_steps")
		if err != nil {
			return Result{}, err
		}
		for _, name := range names {
			ignored[name] = true
		}
	}

	var incomplete []string
	for _, listener := range proc.Listeners {
		if ignored[listener.Step] {
			continue
		}
		incomplete = append(incomplete, listener.Step)
	}
	if len(incomplete) > 0 {
		return fail("Steps %v haven't been completed", incomplete)
	}
	return pass(), nil
}

// connectionPointContents passes when the active site carries a connection
// point id (NMI).
func (e *Engine) connectionPointContents(ctx context.Context) (Result, error) {
	site, err := e.store.ActiveSite(ctx)
	if err != nil {
		return Result{}, err
	}
	if site == nil {
		return fail("No EndDevice is currently registered")
	}
	if site.NMI == "" {
		return fail("EndDevice %d has no ConnectionPoint id specified", site.ID)
	}
	return pass(), nil
}

func (e *Engine) derSettingsContents(ctx context.Context) (Result, error) {
	site, err := e.store.ActiveSite(ctx)
	if err != nil {
		return Result{}, err
	}
	if site == nil {
		return fail("No EndDevice is currently registered")
	}
	setting, err := e.store.LatestDERSetting(ctx, site.ID)
	if err != nil {
		return Result{}, err
	}
	if setting == nil {
		return fail("No DERSetting found for EndDevice %d", site.ID)
	}
	return pass(), nil
}

func (e *Engine) derCapabilityContents(ctx context.Context) (Result, error) {
	site, err := e.store.ActiveSite(ctx)
	if err != nil {
		return Result{}, err
	}
	if site == nil {
		return fail("No EndDevice is currently registered")
	}
	rating, err := e.store.LatestDERRating(ctx, site.ID)
	if err != nil {
		return Result{}, err
	}
	if rating == nil {
		return fail("No DERCapability found for EndDevice %d", site.ID)
	}
	return pass(), nil
}

// derStatusContents passes when a DERStatus exists and, if requested via
// parameters, its genConnectStatus / operationalModeStatus fields carry the
// expected values.
func (e *Engine) derStatusContents(ctx context.Context, params variables.Resolved) (Result, error) {
	site, err := e.store.ActiveSite(ctx)
	if err != nil {
		return Result{}, err
	}
	if site == nil {
		return fail("No EndDevice is currently registered")
	}
	status, err := e.store.LatestDERStatus(ctx, site.ID)
	if err != nil {
		return Result{}, err
	}
	if status == nil {
		return fail("No DERStatus found for EndDevice %d", site.ID)
	}

	wantGC, err := params.OptionalInt("genConnectStatus")
	if err != nil {
		return Result{}, err
	}
	if wantGC != nil {
		if status.GenConnectStatus == nil {
			return fail("DERStatus.genConnectStatus is unset but expected %d", *wantGC)
		}
		if *status.GenConnectStatus != *wantGC {
			return fail("DERStatus.genConnectStatus has value %d but expected %d",
				*status.GenConnectStatus, *wantGC)
		}
	}

	wantOM, err := params.OptionalInt("operationalModeStatus")
	if err != nil {
		return Result{}, err
	}
	if wantOM != nil {
		if status.OperationalModeStatus == nil {
			return fail("DERStatus.operationalModeStatus is unset but expected %d", *wantOM)
		}
		if *status.OperationalModeStatus != *wantOM {
			return fail("DERStatus.operationalModeStatus has value %d but expected %d",
				*status.OperationalModeStatus, *wantOM)
		}
	}
	return pass(), nil
}

// readingsActivePower passes when the active site declared an average
// active-power MirrorUsagePoint at the given location and, when
// minimum_count is set, every such stream has at least that many readings.
func (e *Engine) readingsActivePower(ctx context.Context, params variables.Resolved, roleFlags int64, location string) (Result, error) {
	site, err := e.store.ActiveSite(ctx)
	if err != nil {
		return Result{}, err
	}
	if site == nil {
		return fail("No EndDevice is currently registered")
	}

	types, err := e.store.ReadingTypesFor(ctx, site.ID,
		store.UomActivePowerWatts, roleFlags, store.DataQualifierAverage)
	if err != nil {
		return Result{}, err
	}
	if len(types) == 0 {
		return fail("No %s level average active power MirrorUsagePoint for the active EndDevice", location)
	}

	minimum, err := params.OptionalInt("minimum_count")
	if err != nil {
		return Result{}, err
	}
	if minimum == nil {
		return pass(), nil
	}
	for _, rt := range types {
		count, err := e.store.ReadingCountForType(ctx, rt.ID)
		if err != nil {
			return Result{}, err
		}
		if int64(count) < *minimum {
			return fail("/mup/%d has %d Readings. Expected at least %d.", rt.ID, count, *minimum)
		}
	}
	return pass(), nil
}
