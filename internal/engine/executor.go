package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voltlab/banksia/internal/definition"
	"github.com/voltlab/banksia/internal/store"
	"github.com/voltlab/banksia/internal/variables"
)

// applyActions runs a listener's actions in order. The first failure stops
// the sequence; later actions are not attempted.
func (r *Runner) applyActions(ctx context.Context, listener *Listener) error {
	for _, action := range listener.Actions {
		if err := r.applyAction(ctx, listener.Step, action); err != nil {
			return err
		}
	}
	return nil
}

// applyAction resolves the action's parameters and dispatches on its type.
// Unknown types fail fast: they indicate a defective definition, not a
// recoverable runtime condition.
func (r *Runner) applyAction(ctx context.Context, step string, action definition.Action) error {
	params, err := r.resolver.ResolveParameters(ctx, action.Parameters)
	if err != nil {
		return NewFailedActionError(step, action.Type, err)
	}

	var execErr error
	switch action.Type {
	case definition.ActionEnableListeners:
		execErr = r.actionEnableListeners(params)
	case definition.ActionRemoveListeners:
		execErr = r.actionRemoveListeners(params)
	case definition.ActionRegisterEndDevice:
		execErr = r.actionRegisterEndDevice(ctx, params)
	case definition.ActionSetDefaultDERControl:
		execErr = r.actionSetDefaultDERControl(ctx, params)
	case definition.ActionCreateDERControl:
		execErr = r.actionCreateDERControl(ctx, params)
	case definition.ActionCancelActiveControls:
		execErr = r.actionCancelActiveControls(ctx)
	case definition.ActionSetPollRate:
		execErr = r.actionSetPollRate(ctx, params)
	case definition.ActionSetPostRate:
		execErr = r.actionSetPostRate(ctx, params)
	default:
		return NewUnknownActionError(step, action.Type)
	}

	if execErr != nil {
		slog.Error("action failed", "step", step, "action", action.Type, "error", execErr)
		return NewFailedActionError(step, action.Type, execErr)
	}
	return nil
}

func (r *Runner) actionEnableListeners(params variables.Resolved) error {
	names, err := params.StringSlice("listeners")
	if err != nil {
		return err
	}
	slog.Info("enabling listeners", "steps", names)
	r.proc.EnableListeners(names, r.now())
	return nil
}

func (r *Runner) actionRemoveListeners(params variables.Resolved) error {
	names, err := params.StringSlice("listeners")
	if err != nil {
		return err
	}
	slog.Info("removing listeners", "steps", names)
	r.proc.RemoveListeners(names)
	return nil
}

// actionRegisterEndDevice registers the client's EndDevice out of band, for
// procedures that test behavior after registration rather than the
// registration flow itself.
func (r *Runner) actionRegisterEndDevice(ctx context.Context, params variables.Resolved) error {
	nmi, err := params.OptionalString("nmi")
	if err != nil {
		return err
	}
	pin, err := params.OptionalInt("registration_pin")
	if err != nil {
		return err
	}
	now := r.now().UTC()
	site := store.Site{
		NMI:          nmi,
		LFDI:         r.proc.Client.LFDI,
		SFDI:         r.proc.Client.SFDI,
		AggregatorID: r.proc.Client.AggregatorID,
		ChangedTime:  now,
		CreatedTime:  now,
	}
	if pin != nil {
		site.RegistrationPIN = *pin
	}
	id, err := r.store.RegisterSite(ctx, site)
	if err != nil {
		return err
	}
	slog.Info("registered end device", "site_id", id, "lfdi", site.LFDI, "sfdi", site.SFDI)
	return nil
}

func (r *Runner) actionSetDefaultDERControl(ctx context.Context, params variables.Resolved) error {
	d := store.DefaultControl{ChangedTime: r.now().UTC()}
	var err error
	if d.ImportLimitWatts, err = params.OptionalFloat("opModImpLimW"); err != nil {
		return err
	}
	if d.ExportLimitWatts, err = params.OptionalFloat("opModExpLimW"); err != nil {
		return err
	}
	if d.GenerationLimitWatts, err = params.OptionalFloat("opModGenLimW"); err != nil {
		return err
	}
	if d.LoadLimitWatts, err = params.OptionalFloat("opModLoadLimW"); err != nil {
		return err
	}
	slog.Info("setting default DER control",
		"import_w", d.ImportLimitWatts, "export_w", d.ExportLimitWatts)
	return r.store.SetDefaultControl(ctx, d, d.ChangedTime)
}

func (r *Runner) actionCreateDERControl(ctx context.Context, params variables.Resolved) error {
	now := r.now().UTC()

	duration, err := params.Int("duration_seconds")
	if err != nil {
		return err
	}
	start, err := params.OptionalTime("start")
	if err != nil {
		return err
	}
	if start == nil {
		start = &now
	}
	primacy, err := params.OptionalInt("primacy")
	if err != nil {
		return err
	}
	var primacyValue int64
	if primacy != nil {
		primacyValue = *primacy
	}

	// Controls live in a group (DERProgram) at the requested primacy;
	// create the group on first use.
	group, err := r.store.EnsureControlGroup(ctx, primacyValue,
		fmt.Sprintf("%s controls", r.proc.Definition.Name), now)
	if err != nil {
		return err
	}

	control := store.Control{
		GroupID:         group.ID,
		StartTime:       start.UTC(),
		DurationSeconds: duration,
		ChangedTime:     now,
		CreatedTime:     now,
	}
	if control.ImportLimitWatts, err = params.OptionalFloat("opModImpLimW"); err != nil {
		return err
	}
	if control.ExportLimitWatts, err = params.OptionalFloat("opModExpLimW"); err != nil {
		return err
	}
	if control.GenerationLimitWatts, err = params.OptionalFloat("opModGenLimW"); err != nil {
		return err
	}
	if control.LoadLimitWatts, err = params.OptionalFloat("opModLoadLimW"); err != nil {
		return err
	}
	if raw, ok := params["set_energized"]; ok {
		energized, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("parameter %q: expected boolean, got %T", "set_energized", raw)
		}
		control.SetEnergized = &energized
	}

	id, err := r.store.CreateControl(ctx, control)
	if err != nil {
		return err
	}
	slog.Info("created DER control", "control_id", id, "group_id", group.ID,
		"start", control.StartTime, "duration_s", duration)
	return nil
}

func (r *Runner) actionCancelActiveControls(ctx context.Context) error {
	cancelled, err := r.store.CancelActiveControls(ctx, r.now().UTC())
	if err != nil {
		return err
	}
	slog.Info("cancelled active controls", "count", cancelled)
	return nil
}

func (r *Runner) actionSetPollRate(ctx context.Context, params variables.Resolved) error {
	seconds, err := params.Int("rate_seconds")
	if err != nil {
		return err
	}
	return r.store.SetPollRate(ctx, seconds, r.now().UTC())
}

func (r *Runner) actionSetPostRate(ctx context.Context, params variables.Resolved) error {
	seconds, err := params.Int("rate_seconds")
	if err != nil {
		return err
	}
	return r.store.SetPostRate(ctx, seconds, r.now().UTC())
}
