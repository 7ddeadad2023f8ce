// Package harness provides conformance testing for optimizer rules.
//
// A scenario names a CUE plan program, the session to optimize under, and
// assertions on the optimized plan and its stored trace.
//
// # Scenario Format
//
//	name: push_two_branches
//	description: "What this scenario validates"
//	plan: ../plans/two_branches.cue
//	plan_name: q1
//	session:
//	  push_semi_join_through_union: true
//	assertions:
//	  - type: root_kind
//	    kind: union
//	  - type: output_symbols
//	    symbols: [a, b, match]
//	  - type: branch_count
//	    count: 2
//	  - type: rule_fired
//	    rule: push_semi_join_through_union
//	    count: 1
//	  - type: fresh_symbols
//	    symbols: [match_1, match_2]
//
// A scenario may instead set expect_error to require the optimization to
// fail with a matching message.
//
// # Deterministic Testing
//
// Every scenario runs with a fixed run token, allocators scoped to the
// plan and a fresh in-memory store, so the snapshot compared against
// testdata/golden is identical across runs.
package harness
