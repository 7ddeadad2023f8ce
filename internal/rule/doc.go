// Package rule defines rewrite rules and the services they use.
//
// A rule is a pattern plus a transformation. The driver finds a node that
// matches the pattern, checks IsEnabled against the session and calls Apply
// with the captures. Apply either leaves the node alone or returns a
// replacement that produces exactly the same output symbols, in the same
// order. The driver relies on that without re-checking it.
//
// Rules are pure: they never mutate their input, they allocate fresh ids
// and symbols only through the Context, and unchanged subtrees are shared
// by pointer.
//
// A ContractError from Apply means the input plan broke a node invariant
// the rule depends on. It is never recoverable.
package rule
