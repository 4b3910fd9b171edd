// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package memo

import (
	"github.com/cockroachdb/errors"

	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/props"
)

// GroupID identifies a memo group within its memo. Groups are addressed by
// index into the memo's arena rather than by pointer, which keeps the
// group/expression graph free of ownership cycles. GroupID 0 is invalid.
type GroupID uint32

// ExprID identifies a group expression: the group it belongs to plus its
// ordinal position within the group. ExprID values stay valid as groups
// grow, so tasks hold ExprIDs across suspension rather than pointers.
type ExprID struct {
	Group GroupID
	Expr  int
}

// InvalidExprID is the uninitialized ExprID.
var InvalidExprID = ExprID{}

// Valid returns true if the id names an expression.
func (e ExprID) Valid() bool { return e.Group != 0 }

// group is an equivalence class of logically identical plans. It holds the
// alternative expressions produced for the class, the statistics estimate
// shared by all of them, and the winner table: for each required physical
// property the search has optimized the group under, the cheapest expression
// found so far.
type group struct {
	id GroupID

	// exprs are the logically equivalent member expressions. The first
	// expression is the one the group was created for.
	exprs []*GroupExpr

	// outputCols is the set of columns produced by every member expression.
	outputCols opt.ColSet

	// stats is the shared statistics estimate, nil until derived. One
	// estimate serves the whole group: all alternatives must agree on the
	// logical row count.
	stats *props.Statistics

	// winnerMap indexes winners by required property; the value is an index
	// into winners. Mirrors the map+slice layout so winners can be iterated
	// in insertion order for deterministic formatting.
	winnerMap map[PhysicalPropsID]int
	winners   []winner

	// explored is set once rule scheduling has happened for the group, so
	// repeated OptimizeGroup tasks for new required properties do not
	// reschedule rules.
	explored bool
}

// winner records the cheapest known expression in a group for one required
// physical property.
type winner struct {
	required PhysicalPropsID
	expr     int // ordinal of the winning expression within the group
	cost     Cost
}

func (g *group) lookupWinner(required PhysicalPropsID) (winner, bool) {
	idx, ok := g.winnerMap[required]
	if !ok {
		return winner{}, false
	}
	return g.winners[idx], true
}

// ratchetWinner records the candidate as the winner for the required
// property if the group has no winner yet or the candidate is strictly
// cheaper. Returns true if the winner table changed.
func (g *group) ratchetWinner(exprOrdinal int, required PhysicalPropsID, cost Cost) bool {
	if exprOrdinal < 0 || exprOrdinal >= len(g.exprs) {
		panic(errors.AssertionFailedf("winner ordinal %d out of range", exprOrdinal))
	}
	idx, ok := g.winnerMap[required]
	if !ok {
		if g.winnerMap == nil {
			g.winnerMap = make(map[PhysicalPropsID]int)
		}
		g.winnerMap[required] = len(g.winners)
		g.winners = append(g.winners, winner{required: required, expr: exprOrdinal, cost: cost})
		return true
	}
	if cost.Less(g.winners[idx].cost) {
		g.winners[idx] = winner{required: required, expr: exprOrdinal, cost: cost}
		return true
	}
	return false
}

// replaceWinnerProperty moves the winner entry recorded under the from
// property to the to property. Used by the enforcement path when the
// original output property must be erased to keep property-keyed recursion
// from looping (a re-sorted redistribution would otherwise require itself).
func (g *group) replaceWinnerProperty(from, to PhysicalPropsID) {
	idx, ok := g.winnerMap[from]
	if !ok {
		return
	}
	delete(g.winnerMap, from)
	w := g.winners[idx]
	w.required = to
	g.winners[idx] = w
	if prev, ok := g.winnerMap[to]; ok {
		// Keep the cheaper of the two entries under the target property.
		if w.cost.Less(g.winners[prev].cost) {
			g.winners[prev] = w
		}
		// The displaced slot stays in the slice but is no longer indexed.
		return
	}
	g.winnerMap[to] = idx
}
