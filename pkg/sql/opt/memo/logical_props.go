// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package memo

import (
	"github.com/cockroachdb/errors"

	"github.com/keplerdb/kepler/pkg/sql/opt"
)

// deriveOutputCols computes the set of columns an expression produces, from
// its operator, private, and child groups. Output columns are a logical
// property: all members of a group agree on them, so they are derived once
// when the group is created and verified on later inserts.
func (m *Memo) deriveOutputCols(e *GroupExpr) opt.ColSet {
	childCols := func(i int) opt.ColSet {
		return m.group(e.Children[i]).outputCols
	}

	switch e.Op {
	case opt.ScanOp, opt.PhysicalScanOp:
		return e.Private.(*ScanPrivate).Cols

	case opt.SelectOp, opt.PhysicalSelectOp:
		return childCols(0)

	case opt.ProjectOp, opt.PhysicalProjectOp:
		return e.Private.(*ProjectPrivate).Cols

	case opt.JoinOp, opt.HashJoinOp:
		p := e.Private.(*JoinPrivate)
		switch p.JoinType {
		case SemiJoin, AntiJoin:
			return childCols(0)
		}
		return childCols(0).Union(childCols(1))

	case opt.GroupByOp, opt.HashAggOp:
		p := e.Private.(*GroupByPrivate)
		cols := p.GroupingCols.ToSet()
		cols.UnionWith(p.AggCols.ToSet())
		return cols

	case opt.SortOp, opt.PhysicalSortOp, opt.LimitOp, opt.PhysicalLimitOp, opt.ExchangeOp:
		return childCols(0)

	case opt.UnionOp, opt.PhysicalUnionOp:
		return e.Private.(*SetPrivate).OutCols

	case opt.WindowOp, opt.PhysicalWindowOp:
		p := e.Private.(*WindowPrivate)
		return childCols(0).Union(p.WindowCols.ToSet())

	case opt.TableFuncOp, opt.PhysicalTableFuncOp:
		return e.Private.(*TableFuncPrivate).OutCols
	}

	panic(errors.AssertionFailedf("no output column derivation for operator %v", e.Op))
}
