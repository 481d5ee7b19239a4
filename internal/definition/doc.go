// Package definition loads and validates test procedure definitions.
//
// A test procedure is a YAML document describing an ordered sequence of
// steps. Each step binds one event (an expected client request, a wait
// period, or an operator signal) to an ordered list of actions that run
// when the event fires. Procedures may also carry precondition actions and
// checks (applied before the test starts) and criteria checks (evaluated
// for the final verdict).
//
// Step declaration order is significant: the engine activates the first
// declared step when the test starts and resolves event matches in
// declaration order ("first match wins"). The loader therefore preserves
// document order rather than decoding steps into a Go map.
//
// Documents are validated against the embedded JSON schema before strict
// YAML decoding, so schema violations surface as configuration errors with
// a useful pointer instead of partially-decoded structs.
package definition
