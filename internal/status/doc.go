// Package status renders a JSON snapshot of the live test run.
//
// The snapshot is deliberately forgiving: sections that cannot be built
// (no active site, timeline generation failure) are logged and omitted
// rather than failing the whole document, because the status endpoint is
// polled by a UI that must keep working mid-run no matter what state the
// store is in.
package status
