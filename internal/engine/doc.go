// Package engine executes test procedures against a client under test.
//
// The model is trigger -> match -> fire. Triggers are generated from two
// sources: observed client requests (one trigger before the request is
// proxied, one after it is served) and a periodic scan that advances
// time-based listeners. Each trigger is tested against the procedure's
// listeners in definition order; the first listener that could fire wins.
// Before it fires, a global checks-passing predicate is consulted - if any
// configured check is failing, the match is suppressed and no actions run.
// Firing applies the listener's actions sequentially and resolves its step.
//
// Step lifecycle is monotonic: PENDING until the step's listener is
// enabled, ACTIVE until it fires, RESOLVED after. No event delivery can
// move a step backwards.
//
// All run state lives in a single ActiveTestProcedure owned by the Runner.
// The Runner's mutex serializes request triggers, periodic ticks and
// lifecycle transitions, so the match-gate-fire sequence never interleaves
// with another mutation.
package engine
