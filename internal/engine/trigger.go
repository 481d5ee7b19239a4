package engine

import "time"

// TriggerType identifies what caused a trigger to be generated.
type TriggerType string

const (
	// TriggerTime is the periodic scan that advances wait listeners.
	TriggerTime TriggerType = "TIME"

	// TriggerRequestBefore fires before a client request is proxied.
	TriggerRequestBefore TriggerType = "CLIENT_REQUEST_BEFORE"

	// TriggerRequestAfter fires after a client request has been served.
	TriggerRequestAfter TriggerType = "CLIENT_REQUEST_AFTER"
)

// RequestDetails carries the observable facts of a client request.
type RequestDetails struct {
	Method string
	Path   string
}

// Trigger is a pure value describing one occurrence the matcher can test
// listeners against. Time is always UTC.
type Trigger struct {
	Type    TriggerType
	Time    time.Time
	Request *RequestDetails
}

// NewTimeTrigger builds the trigger for a periodic scan at the given instant.
func NewTimeTrigger(now time.Time) Trigger {
	return Trigger{Type: TriggerTime, Time: now.UTC()}
}

// NewRequestTrigger builds the trigger for a client request. beforeServing
// selects the before-proxy or after-proxy phase.
func NewRequestTrigger(method, path string, now time.Time, beforeServing bool) Trigger {
	triggerType := TriggerRequestAfter
	if beforeServing {
		triggerType = TriggerRequestBefore
	}
	return Trigger{
		Type:    triggerType,
		Time:    now.UTC(),
		Request: &RequestDetails{Method: method, Path: path},
	}
}
