// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import (
	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
)

// The implementation rules below produce the physical counterpart of each
// logical operator, inserted into the same group as the logical expression.
// Strategy choices that depend on data placement (broadcast vs. shuffle
// join, aggregation phases) are not encoded as separate operators; they fall
// out of the required-property candidates tried by the costing task, except
// for aggregation staging, where the partial aggregate is a logically
// distinct subplan and therefore gets its own group.

type implementScanRule struct{}

func (implementScanRule) Name() RuleName { return "implement-scan" }

func (implementScanRule) Matches(o *Optimizer, e *memo.GroupExpr) bool {
	return e.Op == opt.ScanOp
}

func (implementScanRule) Transform(o *Optimizer, id memo.ExprID) []memo.ExprID {
	e := o.mem.Expr(id)
	return []memo.ExprID{o.mem.InsertIntoGroup(memo.RelExpr{
		Op:      opt.PhysicalScanOp,
		Private: e.Private,
	}, id.Group)}
}

type implementSelectRule struct{}

func (implementSelectRule) Name() RuleName { return "implement-select" }

func (implementSelectRule) Matches(o *Optimizer, e *memo.GroupExpr) bool {
	return e.Op == opt.SelectOp
}

func (implementSelectRule) Transform(o *Optimizer, id memo.ExprID) []memo.ExprID {
	e := o.mem.Expr(id)
	return []memo.ExprID{o.mem.InsertIntoGroup(memo.RelExpr{
		Op:       opt.PhysicalSelectOp,
		Children: []memo.GroupID{e.Children[0]},
		Private:  e.Private,
	}, id.Group)}
}

type implementProjectRule struct{}

func (implementProjectRule) Name() RuleName { return "implement-project" }

func (implementProjectRule) Matches(o *Optimizer, e *memo.GroupExpr) bool {
	return e.Op == opt.ProjectOp
}

func (implementProjectRule) Transform(o *Optimizer, id memo.ExprID) []memo.ExprID {
	e := o.mem.Expr(id)
	return []memo.ExprID{o.mem.InsertIntoGroup(memo.RelExpr{
		Op:       opt.PhysicalProjectOp,
		Children: []memo.GroupID{e.Children[0]},
		Private:  e.Private,
	}, id.Group)}
}

type implementHashJoinRule struct{}

func (implementHashJoinRule) Name() RuleName { return "implement-hash-join" }

func (implementHashJoinRule) Matches(o *Optimizer, e *memo.GroupExpr) bool {
	return e.Op == opt.JoinOp
}

func (implementHashJoinRule) Transform(o *Optimizer, id memo.ExprID) []memo.ExprID {
	e := o.mem.Expr(id)
	return []memo.ExprID{o.mem.InsertIntoGroup(memo.RelExpr{
		Op:       opt.HashJoinOp,
		Children: []memo.GroupID{e.Children[0], e.Children[1]},
		Private:  e.Private,
	}, id.Group)}
}

type implementHashAggRule struct{}

func (implementHashAggRule) Name() RuleName { return "implement-hash-agg" }

func (implementHashAggRule) Matches(o *Optimizer, e *memo.GroupExpr) bool {
	return e.Op == opt.GroupByOp
}

func (implementHashAggRule) Transform(o *Optimizer, id memo.ExprID) []memo.ExprID {
	e := o.mem.Expr(id)
	p := e.Private.(*memo.GroupByPrivate)
	input := e.Children[0]
	var out []memo.ExprID

	if o.settings.AggStage != AggStageTwoPhase {
		// One-phase: a single complete aggregate over the (redistributed)
		// input. Admission against inaccurate statistics happens during
		// costing, not here.
		complete := *p
		complete.Stage = memo.AggComplete
		complete.Split = false
		out = append(out, o.mem.InsertIntoGroup(memo.RelExpr{
			Op:       opt.HashAggOp,
			Children: []memo.GroupID{input},
			Private:  &complete,
		}, id.Group))
	}

	if o.settings.AggStage != AggStageOnePhase {
		// Two-phase: a partial (update-serialize) aggregate runs before any
		// exchange, then a final (merge-finalize) aggregate. The partial
		// output is not logically equivalent to the full aggregation, so it
		// lives in its own group.
		partial := *p
		partial.Stage = memo.AggPartial
		partial.Split = false
		partialID := o.mem.Insert(memo.RelExpr{
			Op:       opt.HashAggOp,
			Children: []memo.GroupID{input},
			Private:  &partial,
		})

		final := *p
		final.Stage = memo.AggFinal
		final.Split = true
		out = append(out, o.mem.InsertIntoGroup(memo.RelExpr{
			Op:       opt.HashAggOp,
			Children: []memo.GroupID{partialID.Group},
			Private:  &final,
		}, id.Group))
	}
	return out
}

type implementSortRule struct{}

func (implementSortRule) Name() RuleName { return "implement-sort" }

func (implementSortRule) Matches(o *Optimizer, e *memo.GroupExpr) bool {
	return e.Op == opt.SortOp
}

func (implementSortRule) Transform(o *Optimizer, id memo.ExprID) []memo.ExprID {
	e := o.mem.Expr(id)
	return []memo.ExprID{o.mem.InsertIntoGroup(memo.RelExpr{
		Op:       opt.PhysicalSortOp,
		Children: []memo.GroupID{e.Children[0]},
		Private:  e.Private,
	}, id.Group)}
}

type implementLimitRule struct{}

func (implementLimitRule) Name() RuleName { return "implement-limit" }

func (implementLimitRule) Matches(o *Optimizer, e *memo.GroupExpr) bool {
	return e.Op == opt.LimitOp
}

func (implementLimitRule) Transform(o *Optimizer, id memo.ExprID) []memo.ExprID {
	e := o.mem.Expr(id)
	return []memo.ExprID{o.mem.InsertIntoGroup(memo.RelExpr{
		Op:       opt.PhysicalLimitOp,
		Children: []memo.GroupID{e.Children[0]},
		Private:  e.Private,
	}, id.Group)}
}

type implementUnionRule struct{}

func (implementUnionRule) Name() RuleName { return "implement-union" }

func (implementUnionRule) Matches(o *Optimizer, e *memo.GroupExpr) bool {
	return e.Op == opt.UnionOp
}

func (implementUnionRule) Transform(o *Optimizer, id memo.ExprID) []memo.ExprID {
	e := o.mem.Expr(id)
	return []memo.ExprID{o.mem.InsertIntoGroup(memo.RelExpr{
		Op:       opt.PhysicalUnionOp,
		Children: []memo.GroupID{e.Children[0], e.Children[1]},
		Private:  e.Private,
	}, id.Group)}
}

type implementWindowRule struct{}

func (implementWindowRule) Name() RuleName { return "implement-window" }

func (implementWindowRule) Matches(o *Optimizer, e *memo.GroupExpr) bool {
	return e.Op == opt.WindowOp
}

func (implementWindowRule) Transform(o *Optimizer, id memo.ExprID) []memo.ExprID {
	e := o.mem.Expr(id)
	return []memo.ExprID{o.mem.InsertIntoGroup(memo.RelExpr{
		Op:       opt.PhysicalWindowOp,
		Children: []memo.GroupID{e.Children[0]},
		Private:  e.Private,
	}, id.Group)}
}

type implementTableFuncRule struct{}

func (implementTableFuncRule) Name() RuleName { return "implement-table-func" }

func (implementTableFuncRule) Matches(o *Optimizer, e *memo.GroupExpr) bool {
	return e.Op == opt.TableFuncOp
}

func (implementTableFuncRule) Transform(o *Optimizer, id memo.ExprID) []memo.ExprID {
	e := o.mem.Expr(id)
	return []memo.ExprID{o.mem.InsertIntoGroup(memo.RelExpr{
		Op:       opt.PhysicalTableFuncOp,
		Children: e.Children,
		Private:  e.Private,
	}, id.Group)}
}
