// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package memo implements the deduplicated store of equivalence classes
// ("groups") and their alternative expressions that backs the optimizer's
// search. The memo is what turns an exponential plan space into a
// polynomial number of (group, required property) evaluations: structurally
// identical expressions are stored once, and each group remembers the
// cheapest plan found for every property it has been optimized under.
//
// A memo is created per statement compilation and discarded with it. Groups
// are never destroyed during a pass.
package memo

import (
	"github.com/cockroachdb/errors"

	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/props"
	"github.com/keplerdb/kepler/pkg/sql/opt/props/physical"
)

// PhysicalPropsID identifies an interned physical property set within the
// memo. Property sets are interned so winner tables and cost tables key on
// small dense ints and property equality is integer equality.
type PhysicalPropsID uint32

// MinPhysPropsID is the id of the property set that requires nothing. It is
// always the first interned set.
const MinPhysPropsID PhysicalPropsID = 1

// RelExpr is a detached relational expression: an operator plus child groups
// already present in the memo. It is the unit of insertion used by the
// analyzer bridge and by rules.
type RelExpr struct {
	Op       opt.Operator
	Children []GroupID
	Private  Private
}

// Memo is the deduplicated store of all groups and expressions for one
// query compilation.
type Memo struct {
	metadata *opt.Metadata

	// groups is the group arena; GroupID indexes it. Index 0 is unused so
	// the zero GroupID stays invalid.
	groups []group

	// exprMap interns expressions by fingerprint for deduplication.
	exprMap map[string]ExprID

	// physProps interns physical property sets; PhysicalPropsID indexes it.
	// Index 0 is unused.
	physProps    []physical.Props
	physPropsMap map[string]PhysicalPropsID

	// root is the group being optimized for the whole statement.
	root GroupID
}

// Init prepares the memo for use by one statement compilation.
func (m *Memo) Init(md *opt.Metadata) {
	m.metadata = md
	m.groups = make([]group, 1, 16)
	m.exprMap = make(map[string]ExprID)
	m.physProps = make([]physical.Props, 1, 8)
	m.physPropsMap = make(map[string]PhysicalPropsID)
	m.root = 0

	if id := m.InternPhysicalProps(physical.Min); id != MinPhysPropsID {
		panic(errors.AssertionFailedf("min props interned with id %d", id))
	}
}

// Metadata returns the column-reference factory for this compilation.
func (m *Memo) Metadata() *opt.Metadata { return m.metadata }

// SetRoot marks the group the statement's result comes from.
func (m *Memo) SetRoot(g GroupID) { m.root = g }

// Root returns the root group.
func (m *Memo) Root() GroupID { return m.root }

// NumGroups returns the count of groups in the memo.
func (m *Memo) NumGroups() int { return len(m.groups) - 1 }

// InternPhysicalProps interns the property set, returning its id. Interning
// the same set twice returns the same id.
func (m *Memo) InternPhysicalProps(p physical.Props) PhysicalPropsID {
	fp := p.Fingerprint()
	if id, ok := m.physPropsMap[fp]; ok {
		return id
	}
	id := PhysicalPropsID(len(m.physProps))
	m.physProps = append(m.physProps, p)
	m.physPropsMap[fp] = id
	return id
}

// LookupPhysicalProps returns the property set with the given id.
func (m *Memo) LookupPhysicalProps(id PhysicalPropsID) physical.Props {
	if id == 0 || int(id) >= len(m.physProps) {
		panic(errors.AssertionFailedf("invalid physical props id %d", id))
	}
	return m.physProps[id]
}

// Insert adds the expression to the memo, deduplicating it against existing
// expressions. A structurally new expression gets a new group; an expression
// identical to one already stored returns the existing id unchanged.
func (m *Memo) Insert(e RelExpr) ExprID {
	return m.insert(e, 0)
}

// InsertIntoGroup adds the expression to an existing group, used by rules
// whose output is logically equivalent to their input. If the expression
// already exists in some group, that id is returned; inserting a known
// expression into a different group is an error, since it would merge
// equivalence classes (group merging is the job of exploration rules the
// core does not run).
func (m *Memo) InsertIntoGroup(e RelExpr, g GroupID) ExprID {
	return m.insert(e, g)
}

// InsertEnforcer adds an enforcer expression to the given group. The
// enforcer's single child is the group itself: an enforcer reads its own
// group's rows and changes only their physical layout, so it is logically
// equivalent and never warrants a new group.
func (m *Memo) InsertEnforcer(op opt.Operator, private Private, g GroupID) ExprID {
	if !op.IsEnforcer() {
		panic(errors.AssertionFailedf("operator %v is not an enforcer", op))
	}
	return m.insert(RelExpr{Op: op, Children: []GroupID{g}, Private: private}, g)
}

func (m *Memo) insert(e RelExpr, target GroupID) ExprID {
	expr := &GroupExpr{Op: e.Op, Children: e.Children, Private: e.Private}
	m.checkExpr(expr, target)

	fp := expr.fingerprint()
	if existing, ok := m.exprMap[fp]; ok {
		if target != 0 && existing.Group != target {
			panic(errors.AssertionFailedf(
				"expression %s already belongs to group %d, not %d",
				expr, existing.Group, target))
		}
		return existing
	}

	g := target
	if g == 0 {
		g = m.newGroup(expr)
	}
	grp := m.group(g)
	if target != 0 {
		// All members of a group must produce the same columns.
		cols := m.deriveOutputCols(expr)
		if !cols.Equals(grp.outputCols) {
			panic(errors.AssertionFailedf(
				"expression %s outputs %s but group %d outputs %s",
				expr, cols, g, grp.outputCols))
		}
	}
	expr.group = g
	id := ExprID{Group: g, Expr: len(grp.exprs)}
	grp.exprs = append(grp.exprs, expr)
	m.exprMap[fp] = id
	return id
}

func (m *Memo) newGroup(first *GroupExpr) GroupID {
	id := GroupID(len(m.groups))
	m.groups = append(m.groups, group{
		id:         id,
		outputCols: m.deriveOutputCols(first),
	})
	return id
}

func (m *Memo) group(g GroupID) *group {
	if g == 0 || int(g) >= len(m.groups) {
		panic(errors.AssertionFailedf("invalid group id %d", g))
	}
	return &m.groups[g]
}

// Expr returns the expression with the given id. The returned pointer stays
// valid for the lifetime of the memo.
func (m *Memo) Expr(id ExprID) *GroupExpr {
	grp := m.group(id.Group)
	if id.Expr < 0 || id.Expr >= len(grp.exprs) {
		panic(errors.AssertionFailedf("invalid expr ordinal %d in group %d", id.Expr, id.Group))
	}
	return grp.exprs[id.Expr]
}

// ExprCount returns the number of expressions in the group.
func (m *Memo) ExprCount(g GroupID) int { return len(m.group(g).exprs) }

// FirstExpr returns the expression the group was created for.
func (m *Memo) FirstExpr(g GroupID) ExprID { return ExprID{Group: g, Expr: 0} }

// OutputCols returns the columns produced by every expression in the group.
func (m *Memo) OutputCols(g GroupID) opt.ColSet { return m.group(g).outputCols }

// GroupStats returns the group's statistics estimate, or nil if not yet
// derived.
func (m *Memo) GroupStats(g GroupID) *props.Statistics { return m.group(g).stats }

// SetGroupStats attaches a statistics estimate to the group.
func (m *Memo) SetGroupStats(g GroupID, stats *props.Statistics) {
	m.group(g).stats = stats
}

// GroupExplored returns true if rule scheduling has already run for the
// group.
func (m *Memo) GroupExplored(g GroupID) bool { return m.group(g).explored }

// SetGroupExplored marks the group as having had rule scheduling run.
func (m *Memo) SetGroupExplored(g GroupID) { m.group(g).explored = true }

// Winner returns the cheapest known expression in the group for the
// required property, if the group has been optimized under it. This lookup
// is the memoization at the heart of the search: a group optimized once for
// a property is never costed again for it.
func (m *Memo) Winner(g GroupID, required PhysicalPropsID) (ExprID, Cost, bool) {
	w, ok := m.group(g).lookupWinner(required)
	if !ok {
		return InvalidExprID, Cost{}, false
	}
	return ExprID{Group: g, Expr: w.expr}, w.cost, true
}

// RecordState records a cost entry on the expression for the required
// property and ratchets the group winner table. The winner is replaced only
// by a strictly cheaper candidate.
func (m *Memo) RecordState(
	id ExprID, required PhysicalPropsID, cost Cost, inputs []PhysicalPropsID,
	provided PhysicalPropsID,
) bool {
	recorded := m.Expr(id).recordState(required, cost, inputs, provided)
	m.group(id.Group).ratchetWinner(id.Expr, required, cost)
	return recorded
}

// OverwriteStateCost forces the expression's cost entry for the required
// property to the given cost, and re-ratchets the winner table. Used by the
// broadcast-hint admission path.
func (m *Memo) OverwriteStateCost(id ExprID, required PhysicalPropsID, cost Cost) {
	m.Expr(id).overwriteState(required, cost)
	m.group(id.Group).ratchetWinner(id.Expr, required, cost)
}

// ReplaceWinnerProperty moves the group's winner entry from one property key
// to another. See group.replaceWinnerProperty.
func (m *Memo) ReplaceWinnerProperty(g GroupID, from, to PhysicalPropsID) {
	m.group(g).replaceWinnerProperty(from, to)
}

// ForEachExpr calls fn for each expression in the group, in insertion order.
// Expressions inserted by fn itself are visited too, since rule application
// appends to the group being iterated.
func (m *Memo) ForEachExpr(g GroupID, fn func(id ExprID, e *GroupExpr)) {
	grp := m.group(g)
	for i := 0; i < len(grp.exprs); i++ {
		fn(ExprID{Group: g, Expr: i}, grp.exprs[i])
	}
}

// checkExpr verifies the structural invariants of an expression about to be
// inserted: children must name groups already present in the memo (no
// dangling references), and only enforcers may reference their own group.
func (m *Memo) checkExpr(e *GroupExpr, target GroupID) {
	for _, c := range e.Children {
		if c == 0 || int(c) >= len(m.groups) {
			panic(errors.AssertionFailedf("expression %s references unknown group %d", e, c))
		}
		if c == target && !e.Op.IsEnforcer() {
			panic(errors.AssertionFailedf("non-enforcer %s references its own group", e))
		}
	}
	switch {
	case e.Op.IsLogical() || e.Op.IsPhysical():
	default:
		panic(errors.AssertionFailedf("cannot insert operator %v", e.Op))
	}
}
