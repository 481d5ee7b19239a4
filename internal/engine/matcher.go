package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/voltlab/banksia/internal/variables"
)

// isListenerTriggerable reports whether a listener could fire on the given
// trigger. This is a pure predicate: it inspects listener state and trigger
// contents but mutates nothing, and it does not consult the checks-passing
// gate (that belongs to the composed handler).
func isListenerTriggerable(ctx context.Context, listener *Listener, trigger Trigger, resolver *variables.Resolver) (bool, error) {
	// Disabled listeners never match, regardless of event contents.
	if !listener.Enabled() {
		return false, nil
	}

	if method, ok := listener.Event.IsRequestEvent(); ok {
		return requestMatches(ctx, listener, trigger, method, resolver)
	}

	switch listener.Event.Type {
	case "wait":
		return waitElapsed(ctx, listener, trigger, resolver)
	case "proceed":
		// Resolved only by an explicit operator signal, never by triggers.
		return false, nil
	default:
		slog.Warn("listener has unrecognised event type",
			"step", listener.Step, "event_type", listener.Event.Type)
		return false, nil
	}
}

// requestMatches tests a "<METHOD>-request-received" listener: the trigger
// phase must agree with serve_request_first, and method and endpoint must
// match exactly.
func requestMatches(ctx context.Context, listener *Listener, trigger Trigger, method string, resolver *variables.Resolver) (bool, error) {
	if trigger.Request == nil {
		return false, nil
	}
	params, err := resolver.ResolveParameters(ctx, listener.Event.Parameters)
	if err != nil {
		return false, err
	}
	serveFirst, err := params.Bool("serve_request_first")
	if err != nil {
		return false, err
	}
	// serve_request_first listeners fire only after the request has been
	// served; all others fire before it is proxied.
	wantPhase := TriggerRequestBefore
	if serveFirst {
		wantPhase = TriggerRequestAfter
	}
	if trigger.Type != wantPhase {
		return false, nil
	}
	if trigger.Request.Method != method {
		return false, nil
	}
	endpoint, err := params.String("endpoint")
	if err != nil {
		slog.Warn("request listener has no usable endpoint parameter",
			"step", listener.Step, "error", err)
		return false, nil
	}
	return trigger.Request.Path == endpoint, nil
}

// waitElapsed tests a "wait" listener against a time trigger: triggerable
// once duration_seconds has elapsed since the listener was enabled, with an
// inclusive boundary.
func waitElapsed(ctx context.Context, listener *Listener, trigger Trigger, resolver *variables.Resolver) (bool, error) {
	if trigger.Type != TriggerTime {
		return false, nil
	}
	params, err := resolver.ResolveParameters(ctx, listener.Event.Parameters)
	if err != nil {
		return false, err
	}
	seconds, err := params.Float("duration_seconds")
	if err != nil {
		slog.Warn("wait listener has no usable duration_seconds parameter",
			"step", listener.Step, "error", err)
		return false, nil
	}
	elapsed := trigger.Time.Sub(*listener.EnabledTime)
	return elapsed >= time.Duration(seconds*float64(time.Second)), nil
}
