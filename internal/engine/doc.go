// Package engine drives rewrite rules over plans.
//
// The Optimizer offers every node of a plan to the rules whose pattern root
// accepts it, depth-first and in rule declaration order, until no rule
// fires anywhere. Each replacement is a firing: it is stamped with a seq
// from the run's Clock, counted against the run's quota, and, when a store
// is attached, written to the trace.
//
// DETERMINISM:
//
// A run is a pure function of the input plan, the session, the rule list
// and the starting state of the allocators. Rules are tried in declaration
// order, branches are rewritten in order, and fresh ids and names come from
// sequential allocators. Replay relies on this: it re-runs a stored input
// with allocators scoped to the plan and compares output fingerprints and
// firings with the stored trace.
//
// TERMINATION:
//
// Rules must not re-match their own output. The quota (DefaultMaxSteps,
// or the session's max_rule_applications) turns a rule that breaks this
// into a StepsExceededError instead of a hang.
package engine
