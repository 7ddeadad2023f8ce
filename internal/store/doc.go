// Package store persists optimization traces in SQLite.
//
// A trace has three parts:
//   - optimizations: the input plan and session of a run, keyed by run token
//   - optimization_results: the final plan, written once the run ends
//   - rule_firings: every replacement, in firing order
//
// Plans and sessions are stored as RFC 8785 canonical JSON so fingerprints
// recomputed from stored text match the ones recorded.
//
// Writes are idempotent: a second write of the same run token, or of the
// same (run token, seq) firing, is ignored. Reads order by seq ASC, id ASC.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
