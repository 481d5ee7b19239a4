// Package check evaluates pass/fail verdicts over accumulated run state.
//
// Checks are pure queries: they never mutate the store or the procedure.
// Results and AllPassing catch every internal error and convert it into a
// failing result carrying the error text, so a broken query can never take
// down the engine or the status endpoint. Only Run surfaces configuration
// errors (an unrecognised check type) to its caller.
//
// The procedure passed to the all-steps-complete check is read without
// locking; callers that share it with a live engine.Runner must invoke the
// check while holding the runner's serialization (the runner's own checks
// gate does, as does Runner.Inspect).
package check
