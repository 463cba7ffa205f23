// Package engine classifies entries against user-authored mapping rules.
//
// The package has three layers, leaves first:
//
// Field Resolver (resolver.go):
// ResolveField extracts a named field from an entry. Names are
// case-insensitive; "metadata.<key>" reaches into the metadata bag.
// Unknown names and absent values yield "no value", never an error.
//
// Rule Matcher (matcher.go):
// Engine.Matches applies one rule's operator to the resolved field.
// An absent field never matches. Regex patterns are compiled once,
// case-insensitive, and evaluated under a hard timeout.
//
// Rule Engine (engine.go):
// Engine.Evaluate filters to enabled rules, orders them by ascending
// priority (stable for ties), drops rules scoped to another source kind,
// and returns the first match.
//
// Evaluation is read-only. Rules and entries are never mutated, and the
// caller's rule slice is copied before sorting.
package engine
