package definition

import "fmt"

// Event kinds understood by the engine. HTTP events use the form
// "<METHOD>-request-received" and are not enumerated here.
const (
	EventWait    = "wait"
	EventProceed = "proceed"
)

// Action types understood by the engine's action executor.
const (
	ActionEnableListeners      = "enable-listeners"
	ActionRemoveListeners      = "remove-listeners"
	ActionRegisterEndDevice    = "register-end-device"
	ActionSetDefaultDERControl = "set-default-der-control"
	ActionCreateDERControl     = "create-der-control"
	ActionCancelActiveControls = "cancel-active-controls"
	ActionSetPollRate          = "set-poll-rate"
	ActionSetPostRate          = "set-post-rate"
)

// Parameters holds the raw (possibly variable-expression) parameters of an
// event, action or check. Values stay unresolved until the engine hands them
// to a variables.Resolver immediately before use.
type Parameters map[string]Value

// Event describes the occurrence a step waits for.
//
// Type is one of:
//   - "wait": parameters carry duration_seconds
//   - "proceed": resolved only by an explicit operator signal
//   - "<METHOD>-request-received": parameters carry endpoint (exact path)
//     and optionally serve_request_first
type Event struct {
	Type       string     `yaml:"type"`
	Parameters Parameters `yaml:"parameters,omitempty"`
}

// Action describes one state mutation fired when a step's event matches.
type Action struct {
	Type       string     `yaml:"type"`
	Parameters Parameters `yaml:"parameters,omitempty"`
}

// Check describes one pass/fail query over accumulated server state.
type Check struct {
	Type       string     `yaml:"type"`
	Parameters Parameters `yaml:"parameters,omitempty"`
}

// Step is one named unit of a test procedure.
type Step struct {
	Name         string
	Event        Event
	Actions      []Action
	Instructions []string
}

// Preconditions run before the test is started: optional immediate actions
// plus checks that must keep passing for events to be accepted.
type Preconditions struct {
	Actions      []Action `yaml:"actions,omitempty"`
	Checks       []Check  `yaml:"checks,omitempty"`
	Instructions []string `yaml:"instructions,omitempty"`
}

// Criteria are the checks that decide the final test verdict.
type Criteria struct {
	Checks []Check `yaml:"checks,omitempty"`
}

// TestProcedure is an immutable, externally-authored test procedure document.
// Loaded once per run; the engine never mutates it.
type TestProcedure struct {
	Name          string
	Description   string
	Category      string
	Preconditions *Preconditions
	Criteria      *Criteria
	Steps         []Step // declaration order, load-bearing for matching
}

// StepByName returns the named step, or an error naming the procedure.
func (p *TestProcedure) StepByName(name string) (*Step, error) {
	for i := range p.Steps {
		if p.Steps[i].Name == name {
			return &p.Steps[i], nil
		}
	}
	return nil, fmt.Errorf("procedure %s has no step %q", p.Name, name)
}
