package engine

import (
	"context"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltlab/banksia/internal/definition"
	"github.com/voltlab/banksia/internal/store"
	"github.com/voltlab/banksia/internal/variables"
)

func newMatcherResolver(t *testing.T) *variables.Resolver {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return variables.NewResolver(st, nil)
}

func enabledAt(t time.Time) *time.Time { return &t }

func requestEvent(eventType, endpoint string, extra map[string]definition.Value) definition.Event {
	params := definition.Parameters{"endpoint": definition.Constant(endpoint)}
	for k, v := range extra {
		params[k] = v
	}
	return definition.Event{Type: eventType, Parameters: params}
}

func waitEvent(seconds int) definition.Event {
	return definition.Event{
		Type:       definition.EventWait,
		Parameters: definition.Parameters{"duration_seconds": definition.Constant(seconds)},
	}
}

func TestIsListenerTriggerable(t *testing.T) {
	enabled2024 := enabledAt(time.Date(2024, 11, 10, 0, 0, 0, 0, time.UTC))
	timeAt := func(ts time.Time) Trigger { return NewTimeTrigger(ts) }
	requestBefore := func(method, path string) Trigger {
		return NewRequestTrigger(method, path, time.Date(2022, 11, 10, 0, 0, 0, 0, time.UTC), true)
	}
	requestAfter := func(method, path string) Trigger {
		return NewRequestTrigger(method, path, time.Date(2022, 11, 10, 0, 0, 0, 0, time.UTC), false)
	}
	serveFirst := map[string]definition.Value{"serve_request_first": definition.Constant(true)}
	serveFirstOff := map[string]definition.Value{"serve_request_first": definition.Constant(false)}

	tests := []struct {
		name     string
		trigger  Trigger
		listener *Listener
		want     bool
	}{
		{
			name:    "time trigger never matches a request listener",
			trigger: timeAt(time.Date(2022, 11, 10, 0, 0, 0, 0, time.UTC)),
			listener: &Listener{Step: "step",
				Event:       requestEvent("GET-request-received", "/dcap", nil),
				EnabledTime: enabled2024},
			want: false,
		},
		{
			name:    "unrecognised event type never matches",
			trigger: timeAt(time.Date(2022, 11, 10, 0, 0, 0, 0, time.UTC)),
			listener: &Listener{Step: "step",
				Event:       definition.Event{Type: "unsupported-event-type"},
				EnabledTime: enabled2024},
			want: false,
		},
		{
			name:    "wait enabled after the trigger instant",
			trigger: timeAt(time.Date(2022, 11, 10, 0, 0, 0, 0, time.UTC)),
			listener: &Listener{Step: "step", Event: waitEvent(300),
				EnabledTime: enabled2024},
			want: false,
		},
		{
			name:    "wait with enough time elapsed",
			trigger: timeAt(time.Date(2024, 11, 10, 5, 30, 0, 0, time.UTC)),
			listener: &Listener{Step: "step", Event: waitEvent(300),
				EnabledTime: enabledAt(time.Date(2024, 11, 10, 5, 24, 0, 0, time.UTC))},
			want: true,
		},
		{
			name:    "wait disabled",
			trigger: timeAt(time.Date(2024, 11, 10, 5, 30, 0, 0, time.UTC)),
			listener: &Listener{Step: "step", Event: waitEvent(300)},
			want:    false,
		},
		{
			name:    "wait without enough time elapsed",
			trigger: timeAt(time.Date(2024, 11, 10, 5, 30, 0, 0, time.UTC)),
			listener: &Listener{Step: "step", Event: waitEvent(300),
				EnabledTime: enabledAt(time.Date(2024, 11, 10, 5, 26, 0, 0, time.UTC))},
			want: false,
		},
		{
			name:    "GET before-proxy match",
			trigger: requestBefore("GET", "/foo/bar"),
			listener: &Listener{Step: "step",
				Event:       requestEvent("GET-request-received", "/foo/bar", nil),
				EnabledTime: enabled2024},
			want: true,
		},
		{
			name:    "POST before-proxy match",
			trigger: requestBefore("POST", "/foo/bar"),
			listener: &Listener{Step: "step",
				Event:       requestEvent("POST-request-received", "/foo/bar", nil),
				EnabledTime: enabled2024},
			want: true,
		},
		{
			name:    "PUT before-proxy match",
			trigger: requestBefore("PUT", "/foo/bar"),
			listener: &Listener{Step: "step",
				Event:       requestEvent("PUT-request-received", "/foo/bar", nil),
				EnabledTime: enabled2024},
			want: true,
		},
		{
			name:    "explicit serve_request_first false still matches before",
			trigger: requestBefore("GET", "/foo/bar"),
			listener: &Listener{Step: "step",
				Event:       requestEvent("GET-request-received", "/foo/bar", serveFirstOff),
				EnabledTime: enabled2024},
			want: true,
		},
		{
			name:    "serve_request_first matches after-proxy",
			trigger: requestAfter("GET", "/foo/bar"),
			listener: &Listener{Step: "step",
				Event:       requestEvent("GET-request-received", "/foo/bar", serveFirst),
				EnabledTime: enabled2024},
			want: true,
		},
		{
			name:    "default listener never matches after-proxy",
			trigger: requestAfter("GET", "/foo/bar"),
			listener: &Listener{Step: "step",
				Event:       requestEvent("GET-request-received", "/foo/bar", nil),
				EnabledTime: enabled2024},
			want: false,
		},
		{
			name:    "serve_request_first never matches before-proxy",
			trigger: requestBefore("GET", "/foo/bar"),
			listener: &Listener{Step: "step",
				Event:       requestEvent("GET-request-received", "/foo/bar", serveFirst),
				EnabledTime: enabled2024},
			want: false,
		},
		{
			name:    "trigger path shorter than endpoint",
			trigger: requestBefore("GET", "/foo"),
			listener: &Listener{Step: "step",
				Event:       requestEvent("GET-request-received", "/foo/bar", nil),
				EnabledTime: enabled2024},
			want: false,
		},
		{
			name:    "trigger path longer than endpoint",
			trigger: requestBefore("GET", "/foo/bar"),
			listener: &Listener{Step: "step",
				Event:       requestEvent("GET-request-received", "/foo", nil),
				EnabledTime: enabled2024},
			want: false,
		},
		{
			name:    "wrong method",
			trigger: requestBefore("POST", "/foo/bar"),
			listener: &Listener{Step: "step",
				Event:       requestEvent("GET-request-received", "/foo/bar", nil),
				EnabledTime: enabled2024},
			want: false,
		},
		{
			name:    "request listener disabled",
			trigger: requestBefore("GET", "/foo/bar"),
			listener: &Listener{Step: "step",
				Event: requestEvent("GET-request-received", "/foo/bar", nil)},
			want: false,
		},
		{
			name:    "proceed never auto-matches",
			trigger: timeAt(time.Date(2024, 11, 10, 5, 30, 0, 0, time.UTC)),
			listener: &Listener{Step: "step",
				Event:       definition.Event{Type: definition.EventProceed},
				EnabledTime: enabled2024},
			want: false,
		},
	}

	resolver := newMatcherResolver(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := isListenerTriggerable(context.Background(), tt.listener, tt.trigger, resolver)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWaitBoundaryIsInclusive(t *testing.T) {
	resolver := newMatcherResolver(t)
	enabled := time.Date(2024, 11, 10, 5, 0, 0, 0, time.UTC)
	listener := &Listener{Step: "step", Event: waitEvent(300), EnabledTime: &enabled}

	// Exactly t0+D is triggerable; an instant earlier is not.
	got, err := isListenerTriggerable(context.Background(), listener,
		NewTimeTrigger(enabled.Add(300*time.Second)), resolver)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = isListenerTriggerable(context.Background(), listener,
		NewTimeTrigger(enabled.Add(300*time.Second-time.Nanosecond)), resolver)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestWaitWithoutDurationNeverMatches(t *testing.T) {
	resolver := newMatcherResolver(t)
	enabled := time.Date(2024, 11, 10, 5, 0, 0, 0, time.UTC)
	listener := &Listener{
		Step:        "step",
		Event:       definition.Event{Type: definition.EventWait},
		EnabledTime: &enabled,
	}

	got, err := isListenerTriggerable(context.Background(), listener,
		NewTimeTrigger(enabled.Add(time.Hour)), resolver)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestLFDIToSFDI(t *testing.T) {
	// Worked example from the standard's device identity section.
	sfdi, err := LFDIToSFDI("3E4F45AB31EDFE5B67E343E5E4562E31984E23E5")
	require.NoError(t, err)
	assert.Equal(t, int64(167261211391), sfdi)

	// Case and surrounding whitespace are tolerated.
	sfdi, err = LFDIToSFDI("  3e4f45ab31edfe5b67e343e5e4562e31984e23e5 ")
	require.NoError(t, err)
	assert.Equal(t, int64(167261211391), sfdi)

	_, err = LFDIToSFDI("short")
	require.Error(t, err)

	_, err = LFDIToSFDI("ZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZ")
	require.Error(t, err)
}

func TestLFDIFromCertificatePEM(t *testing.T) {
	block := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: []byte("certificate-der-bytes"),
	})
	lfdi, err := LFDIFromCertificatePEM(block)
	require.NoError(t, err)
	assert.Len(t, lfdi, 40)
	assert.Equal(t, strings.ToUpper(lfdi), lfdi)

	// The derived SFDI must be computable from it.
	_, err = LFDIToSFDI(lfdi)
	require.NoError(t, err)

	_, err = LFDIFromCertificatePEM([]byte("not pem"))
	require.Error(t, err)
}
