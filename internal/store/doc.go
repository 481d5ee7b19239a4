// Package store persists the harness's view of utility-server state.
//
// The harness sits between the client under test and the utility server, so
// it keeps its own SQLite snapshot of everything the run accumulates: the
// registered site, DER settings/ratings/statuses, reading streams, and the
// control schedule built up by test actions. Checks and the timeline read
// exclusively from this snapshot; actions are the only writers.
//
// Cancelled controls and superseded defaults are archived, not deleted:
// timeline resolution ranks archived records below live ones but still
// consults them.
package store
