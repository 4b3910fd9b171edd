// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
	"github.com/keplerdb/kepler/pkg/sql/opt/props/physical"
)

// Coster computes the local cost of a single physical expression: a pure
// function of the operator and its group's statistics, excluding the cost of
// its children. Tests substitute counting or perturbed implementations.
type Coster interface {
	// ComputeCost returns the estimated local cost of the expression.
	ComputeCost(m *memo.Memo, e *memo.GroupExpr) memo.Cost
}

// Cost model constants. The units are abstract work; only ratios matter.
const (
	cpuCostFactor       = 0.01
	seqIOCostFactor     = 1
	hashBuildCostFactor = 4 * cpuCostFactor
	hashProbeCostFactor = 2 * cpuCostFactor
	sortCostFactor      = 3 * cpuCostFactor
	networkCostFactor   = 0.1

	// hugeScanRowThreshold marks unconstrained scans large enough to carry a
	// penalty flag, so they lose to any constrained alternative.
	hugeScanRowThreshold = 1e8
)

// coster is the default cost model.
type coster struct {
	settings *Settings
}

var _ Coster = (*coster)(nil)

func (c *coster) ComputeCost(m *memo.Memo, e *memo.GroupExpr) memo.Cost {
	stats := m.GroupStats(e.Group())
	if stats == nil {
		panic(errors.AssertionFailedf(
			"costing %v before group %d statistics derived", e.Op, e.Group()))
	}
	rows := stats.RowCount

	inRows := func(i int) float64 {
		childStats := m.GroupStats(e.Children[i])
		if childStats == nil {
			panic(errors.AssertionFailedf(
				"costing %v before child group %d statistics derived", e.Op, e.Children[i]))
		}
		return childStats.RowCount
	}

	switch e.Op {
	case opt.PhysicalScanOp:
		cost := memo.Cost{C: rows * seqIOCostFactor}
		if rows >= hugeScanRowThreshold {
			cost.Flags |= memo.FullScanPenalty
		}
		return cost

	case opt.PhysicalSelectOp:
		return memo.Cost{C: inRows(0) * cpuCostFactor}

	case opt.PhysicalProjectOp:
		return memo.Cost{C: rows * cpuCostFactor}

	case opt.HashJoinOp:
		// Build the hash table on the right input, probe with the left.
		return memo.Cost{C: inRows(1)*hashBuildCostFactor + inRows(0)*hashProbeCostFactor}

	case opt.HashAggOp:
		return memo.Cost{C: inRows(0)*hashBuildCostFactor + rows*cpuCostFactor}

	case opt.PhysicalSortOp:
		n := math.Max(rows, 1)
		return memo.Cost{C: n * math.Log2(n+1) * sortCostFactor}

	case opt.PhysicalLimitOp:
		return memo.Cost{C: rows * cpuCostFactor}

	case opt.PhysicalUnionOp:
		return memo.Cost{C: (inRows(0) + inRows(1)) * cpuCostFactor}

	case opt.PhysicalWindowOp:
		return memo.Cost{C: inRows(0) * 2 * cpuCostFactor}

	case opt.PhysicalTableFuncOp:
		return memo.Cost{C: rows * cpuCostFactor}

	case opt.ExchangeOp:
		return c.exchangeCost(e.Private.(*memo.ExchangePrivate), rows)
	}

	panic(errors.AssertionFailedf("no cost model for operator %v", e.Op))
}

func (c *coster) exchangeCost(p *memo.ExchangePrivate, rows float64) memo.Cost {
	switch p.Target.Type {
	case physical.Broadcast:
		fanout := math.Max(1, float64(c.settings.DegreeOfParallelism))
		cost := memo.Cost{C: rows * networkCostFactor * fanout}
		if rows > c.settings.BroadcastRowCountLimit {
			// Over-limit broadcasts survive only if a hint forces them; the
			// costing task spots the penalty and zeroes the cost in that case.
			cost.Flags |= memo.HugeCostPenalty
		}
		return cost
	default:
		return memo.Cost{C: rows * networkCostFactor}
	}
}
