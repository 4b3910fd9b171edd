// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/errors"

	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
	"github.com/keplerdb/kepler/pkg/sql/opt/props/physical"
)

// requiredInputProps derives the candidate assignments of required physical
// properties to the expression's children. Most operators have exactly one
// assignment; a hash join is where the real choice lives, shuffling both
// sides on the equality columns or broadcasting the build side. Each
// candidate is costed independently by the enforce-and-cost task.
func (o *Optimizer) requiredInputProps(e *memo.GroupExpr) [][]memo.PhysicalPropsID {
	m := &o.mem
	anyProp := memo.MinPhysPropsID
	gather := func() memo.PhysicalPropsID {
		return m.InternPhysicalProps(physical.MakeGather())
	}

	switch e.Op {
	case opt.PhysicalScanOp, opt.PhysicalTableFuncOp:
		// Leaves still get one (empty) assignment so they are costed once.
		return [][]memo.PhysicalPropsID{nil}

	case opt.PhysicalSelectOp, opt.PhysicalProjectOp, opt.PhysicalSortOp:
		return [][]memo.PhysicalPropsID{{anyProp}}

	case opt.PhysicalLimitOp:
		// A global limit needs all rows on one stream.
		return [][]memo.PhysicalPropsID{{gather()}}

	case opt.HashJoinOp:
		return o.joinInputProps(e.Private.(*memo.JoinPrivate))

	case opt.HashAggOp:
		p := e.Private.(*memo.GroupByPrivate)
		if p.Stage == memo.AggPartial {
			// The partial stage runs wherever its input already is.
			return [][]memo.PhysicalPropsID{{anyProp}}
		}
		if len(p.GroupingCols) == 0 {
			// Scalar aggregation: one stream holds the single result group.
			return [][]memo.PhysicalPropsID{{gather()}}
		}
		hashed := m.InternPhysicalProps(physical.Props{
			Distribution: physical.HashedOn(p.GroupingCols...),
		})
		return [][]memo.PhysicalPropsID{{hashed}}

	case opt.PhysicalUnionOp:
		if e.Private.(*memo.SetPrivate).All {
			return [][]memo.PhysicalPropsID{{anyProp, anyProp}}
		}
		// De-duplication needs all rows in one place. Children use distinct
		// column ids, so co-locating by hash is not expressible here.
		g := gather()
		return [][]memo.PhysicalPropsID{{g, g}}

	case opt.PhysicalWindowOp:
		p := e.Private.(*memo.WindowPrivate)
		ordering := make(opt.Ordering, 0, len(p.PartitionCols)+len(p.OrderBy))
		for _, col := range p.PartitionCols {
			ordering = append(ordering, opt.MakeOrderingColumn(col, false))
		}
		ordering = append(ordering, p.OrderBy...)
		dist := physical.Distribution{Type: physical.Gather}
		if len(p.PartitionCols) > 0 {
			dist = physical.HashedOn(p.PartitionCols...)
		}
		req := m.InternPhysicalProps(physical.Props{Distribution: dist, Ordering: ordering})
		return [][]memo.PhysicalPropsID{{req}}
	}

	panic(errors.AssertionFailedf("no required property derivation for operator %v", e.Op))
}

func (o *Optimizer) joinInputProps(p *memo.JoinPrivate) [][]memo.PhysicalPropsID {
	m := &o.mem
	var cands [][]memo.PhysicalPropsID

	if len(p.LeftEqCols) > 0 && p.Hint != memo.BroadcastHint {
		left := m.InternPhysicalProps(physical.Props{
			Distribution: physical.HashedOn(p.LeftEqCols...),
		})
		right := m.InternPhysicalProps(physical.Props{
			Distribution: physical.HashedOn(p.RightEqCols...),
		})
		cands = append(cands, []memo.PhysicalPropsID{left, right})
	}

	// Broadcasting the build side replicates its rows to every stream, which
	// breaks full outer semantics (unmatched build rows would be emitted once
	// per stream). A full outer join without equality columns degenerates to
	// a gather on both sides.
	if p.JoinType == memo.FullOuterJoin {
		if len(cands) == 0 {
			g := m.InternPhysicalProps(physical.MakeGather())
			cands = append(cands, []memo.PhysicalPropsID{g, g})
		}
		return cands
	}

	if p.Hint != memo.ShuffleHint || len(p.LeftEqCols) == 0 {
		broadcast := m.InternPhysicalProps(physical.Props{
			Distribution: physical.Distribution{Type: physical.Broadcast},
		})
		cands = append(cands, []memo.PhysicalPropsID{memo.MinPhysPropsID, broadcast})
	}
	return cands
}
