// Package preflight provides readiness checks for the paths and the external
// tool a tospatch run depends on.
//
// These checks run in two contexts:
//   - "tospatch run" calls RunAll before touching any archive and refuses to
//     start when a required check fails.
//   - "tospatch check" renders every result as a table.
//
// The tool check is informational when the configured path does not name
// ipf_unpack, since the run then uses the no-op gateway.
package preflight
