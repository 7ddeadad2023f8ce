// Package ir defines the relational plan model shared by every other
// package: symbols, the sealed PlanNode variants, and their canonical
// serialized form.
//
// ir imports nothing internal. Nodes and symbols are immutable once
// constructed; rewrites build new nodes and share unchanged subtrees by
// pointer.
//
// Conventions:
//   - symbol equality is pointer identity, never name
//   - constructors validate node invariants and return ErrInvalidPlan
//   - serialized plans carry no floats and no nulls
//   - all JSON keys use snake_case
package ir
