// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package memo

import (
	"bytes"
	"fmt"

	"github.com/keplerdb/kepler/pkg/sql/opt"
)

// GroupExpr is one concrete operator with an ordered list of child group
// references. Children are groups, never expressions: combinatorial choices
// below an expression are deferred to each child group's own winner table,
// which is what bounds the search space.
type GroupExpr struct {
	Op       opt.Operator
	Children []GroupID
	Private  Private

	// group is the equivalence class the expression belongs to.
	group GroupID

	// appliedRules is a bitmask of rule ordinals already tried on this
	// expression, so each (expression, rule) pair fires at most once.
	appliedRules uint64

	// unused marks an expression pruned from consideration; tasks skip it.
	unused bool

	// states records, per required physical property this expression has
	// been costed under, the best total cost, the child required properties
	// that achieved it, and the output property delivered. An expression can
	// win under several requirements at once (e.g. once for "any" and once
	// for "sorted"), so this is a table, not a single entry.
	states map[PhysicalPropsID]*exprState
}

// exprState is the per-required-property cost entry of a GroupExpr.
type exprState struct {
	cost Cost

	// inputs are the required properties chosen for each child; plan
	// extraction follows them into the child groups' winner tables.
	inputs []PhysicalPropsID

	// provided is the output property the expression delivers under this
	// requirement. It may over-deliver relative to the requirement.
	provided PhysicalPropsID
}

// Group returns the equivalence class the expression belongs to.
func (e *GroupExpr) Group() GroupID { return e.group }

// Unused returns true if the expression has been pruned.
func (e *GroupExpr) Unused() bool { return e.unused }

// MarkUnused prunes the expression from further consideration.
func (e *GroupExpr) MarkUnused() { e.unused = true }

// RuleApplied returns true if the rule with the given ordinal has already
// been tried on this expression.
func (e *GroupExpr) RuleApplied(ord int) bool {
	return e.appliedRules&(1<<uint(ord)) != 0
}

// MarkRuleApplied records that the rule with the given ordinal has been
// tried on this expression.
func (e *GroupExpr) MarkRuleApplied(ord int) {
	e.appliedRules |= 1 << uint(ord)
}

// CostFor returns the recorded cost entry for the given required property.
func (e *GroupExpr) CostFor(required PhysicalPropsID) (Cost, bool) {
	s, ok := e.states[required]
	if !ok {
		return Cost{}, false
	}
	return s.cost, true
}

// InputsFor returns the child required properties recorded for the given
// required property.
func (e *GroupExpr) InputsFor(required PhysicalPropsID) ([]PhysicalPropsID, bool) {
	s, ok := e.states[required]
	if !ok {
		return nil, false
	}
	return s.inputs, true
}

// ProvidedFor returns the output property recorded for the given required
// property.
func (e *GroupExpr) ProvidedFor(required PhysicalPropsID) (PhysicalPropsID, bool) {
	s, ok := e.states[required]
	if !ok {
		return 0, false
	}
	return s.provided, true
}

// recordState records a cost entry for the required property if none exists
// yet or the candidate is cheaper. Returns true if the entry was recorded.
func (e *GroupExpr) recordState(
	required PhysicalPropsID, cost Cost, inputs []PhysicalPropsID, provided PhysicalPropsID,
) bool {
	if s, ok := e.states[required]; ok && !cost.Less(s.cost) {
		return false
	}
	if e.states == nil {
		e.states = make(map[PhysicalPropsID]*exprState)
	}
	e.states[required] = &exprState{
		cost:     cost,
		inputs:   append([]PhysicalPropsID(nil), inputs...),
		provided: provided,
	}
	return true
}

// overwriteState unconditionally replaces the cost entry for the required
// property, keeping the previously recorded inputs and provided property.
// Used by the broadcast-hint admission path, which forces a hinted child to
// zero marginal cost.
func (e *GroupExpr) overwriteState(required PhysicalPropsID, cost Cost) {
	s, ok := e.states[required]
	if !ok {
		e.recordState(required, cost, nil, required)
		return
	}
	s.cost = cost
}

// fingerprint returns the interning key for the expression: operator, child
// group identities, and private payload. Structurally identical expressions
// get equal fingerprints and are deduplicated by the memo.
func (e *GroupExpr) fingerprint() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d[", e.Op)
	for i, c := range e.Children {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%d", c)
	}
	buf.WriteByte(']')
	if e.Private != nil {
		buf.WriteString(e.Private.Fingerprint())
	}
	return buf.String()
}

func (e *GroupExpr) String() string {
	var buf bytes.Buffer
	buf.WriteString(e.Op.String())
	for _, c := range e.Children {
		fmt.Fprintf(&buf, " G%d", c)
	}
	return buf.String()
}
