// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package memo

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/cat"
	"github.com/keplerdb/kepler/pkg/sql/opt/props"
)

const (
	// defaultFilterSelectivity is assumed for predicates with no better
	// estimate.
	defaultFilterSelectivity = 0.33

	// defaultJoinSelectivity is assumed for joins with no equality columns
	// to estimate from.
	defaultJoinSelectivity = 0.1

	// runtimeFilterSelectivity is the reduction applied to a hash join's
	// probe side when runtime filters are enabled; it models rows eliminated
	// before reaching the join.
	runtimeFilterSelectivity = 0.5

	// unionDistinctFactor estimates the fraction of rows surviving
	// de-duplication in a distinct set operation.
	unionDistinctFactor = 0.75
)

// StatisticsBuilder derives the statistics estimate of a group bottom-up
// from its children's estimates and the statistics provider. It is stateless
// between calls; estimates are cached on the groups themselves.
type StatisticsBuilder struct {
	md       *opt.Metadata
	provider cat.StatisticsProvider
}

// NewStatisticsBuilder returns a builder reading base-table estimates from
// the given provider.
func NewStatisticsBuilder(md *opt.Metadata, provider cat.StatisticsProvider) *StatisticsBuilder {
	return &StatisticsBuilder{md: md, provider: provider}
}

// BuildGroup derives and attaches the group's statistics from its first
// expression, if not already derived. All expressions in a group are
// logically equivalent, so any member yields the same logical estimate.
// Children of the chosen expression must already have statistics.
func (sb *StatisticsBuilder) BuildGroup(m *Memo, g GroupID) *props.Statistics {
	if stats := m.GroupStats(g); stats != nil {
		return stats
	}
	e := m.Expr(m.FirstExpr(g))
	stats := sb.BuildExpr(m, e, false /* runtimeFilters */)
	m.SetGroupStats(g, stats)
	return stats
}

// BuildExpr derives statistics for one expression from its children's group
// statistics. The search calls this a second time after a physical
// expression's children are bound, since the estimate can depend on the
// chosen strategy; runtimeFilters enables the runtime-filter refinement
// applied in that pass.
func (sb *StatisticsBuilder) BuildExpr(
	m *Memo, e *GroupExpr, runtimeFilters bool,
) *props.Statistics {
	child := func(i int) *props.Statistics {
		stats := m.GroupStats(e.Children[i])
		if stats == nil {
			panic(errors.AssertionFailedf(
				"statistics for group %d required before derived", e.Children[i]))
		}
		return stats
	}

	switch e.Op {
	case opt.ScanOp, opt.PhysicalScanOp:
		return sb.buildScan(e.Private.(*ScanPrivate))

	case opt.SelectOp, opt.PhysicalSelectOp:
		p := e.Private.(*SelectPrivate)
		sel := p.Selectivity
		if sel <= 0 {
			sel = defaultFilterSelectivity
		}
		return sb.scale(child(0), sel)

	case opt.ProjectOp, opt.PhysicalProjectOp:
		return sb.project(child(0), e.Private.(*ProjectPrivate).Cols)

	case opt.JoinOp, opt.HashJoinOp:
		return sb.buildJoin(e.Private.(*JoinPrivate), child(0), child(1), runtimeFilters)

	case opt.GroupByOp, opt.HashAggOp:
		return sb.buildGroupBy(e.Private.(*GroupByPrivate), child(0))

	case opt.SortOp, opt.PhysicalSortOp, opt.ExchangeOp:
		return sb.copy(child(0))

	case opt.LimitOp, opt.PhysicalLimitOp:
		p := e.Private.(*LimitPrivate)
		in := child(0)
		out := sb.copy(in)
		if p.Limit > 0 {
			out.RowCount = math.Min(in.RowCount, float64(p.Limit))
		}
		return out

	case opt.UnionOp, opt.PhysicalUnionOp:
		p := e.Private.(*SetPrivate)
		left, right := child(0), child(1)
		rows := left.RowCount + right.RowCount
		if !p.All {
			rows *= unionDistinctFactor
		}
		out := &props.Statistics{
			RowCount:                rows,
			RowCountMayBeInaccurate: left.RowCountMayBeInaccurate || right.RowCountMayBeInaccurate,
			ColStats:                make(map[opt.ColumnID]props.ColumnStatistic),
		}
		p.OutCols.ForEach(func(col opt.ColumnID) {
			out.ColStats[col] = props.UnknownColumnStatistic()
		})
		return out

	case opt.WindowOp, opt.PhysicalWindowOp:
		p := e.Private.(*WindowPrivate)
		out := sb.copy(child(0))
		for _, col := range p.WindowCols {
			out.ColStats[col] = props.UnknownColumnStatistic()
		}
		return out

	case opt.TableFuncOp, opt.PhysicalTableFuncOp:
		p := e.Private.(*TableFuncPrivate)
		out := &props.Statistics{
			RowCount:                props.DefaultRowCount,
			RowCountMayBeInaccurate: true,
			ColStats:                make(map[opt.ColumnID]props.ColumnStatistic),
		}
		p.OutCols.ForEach(func(col opt.ColumnID) {
			out.ColStats[col] = props.UnknownColumnStatistic()
		})
		return out
	}

	panic(errors.AssertionFailedf("no statistics derivation for operator %v", e.Op))
}

func (sb *StatisticsBuilder) buildScan(p *ScanPrivate) *props.Statistics {
	tab := sb.md.Table(p.Table)
	rowCount, accurate := sb.provider.TableRowCount(tab)
	if rowCount <= 0 {
		rowCount = props.DefaultRowCount
		accurate = false
	}
	out := &props.Statistics{
		RowCount:                rowCount,
		RowCountMayBeInaccurate: !accurate,
		ColStats:                make(map[opt.ColumnID]props.ColumnStatistic),
	}
	p.Cols.ForEach(func(col opt.ColumnID) {
		_, ord, ok := sb.md.ColumnOrdinal(col)
		if !ok {
			out.ColStats[col] = props.UnknownColumnStatistic()
			return
		}
		if cs, ok := sb.provider.ColumnStatistic(tab, ord); ok {
			out.ColStats[col] = props.ColumnStatistic{
				Min:           cs.Min,
				Max:           cs.Max,
				NullFraction:  cs.NullFraction,
				DistinctCount: cs.DistinctCount,
				AvgWidth:      cs.AvgWidth,
			}
			return
		}
		// Degrade to conservative defaults rather than fail; the Unknown
		// flag lets risk-averse heuristics see that this happened.
		cs := props.UnknownColumnStatistic()
		cs.DistinctCount = rowCount * props.UnknownDistinctFraction
		out.ColStats[col] = cs
	})
	return out
}

func (sb *StatisticsBuilder) buildJoin(
	p *JoinPrivate, left, right *props.Statistics, runtimeFilters bool,
) *props.Statistics {
	var rows float64
	switch p.JoinType {
	case SemiJoin:
		rows = left.RowCount * defaultFilterSelectivity
	case AntiJoin:
		rows = left.RowCount * (1 - defaultFilterSelectivity)
	default:
		rows = left.RowCount * right.RowCount
		if len(p.LeftEqCols) == 0 {
			rows *= defaultJoinSelectivity
		} else {
			// Classic equi-join estimate: each equality column pair reduces
			// the cross product by the larger of the two distinct counts.
			for i := range p.LeftEqCols {
				lNDV := left.ColumnStatistic(p.LeftEqCols[i]).DistinctCount
				rNDV := right.ColumnStatistic(p.RightEqCols[i]).DistinctCount
				if ndv := math.Max(lNDV, rNDV); ndv > 1 {
					rows /= ndv
				}
			}
		}
		if p.JoinType == LeftOuterJoin || p.JoinType == FullOuterJoin {
			rows = math.Max(rows, left.RowCount)
		}
		if p.JoinType == FullOuterJoin {
			rows = math.Max(rows, right.RowCount)
		}
	}
	if runtimeFilters && len(p.LeftEqCols) > 0 {
		rows *= runtimeFilterSelectivity
	}
	if rows < 1 {
		rows = 1
	}
	out := &props.Statistics{
		RowCount:                rows,
		RowCountMayBeInaccurate: left.RowCountMayBeInaccurate || right.RowCountMayBeInaccurate,
		ColStats:                make(map[opt.ColumnID]props.ColumnStatistic, len(left.ColStats)+len(right.ColStats)),
	}
	for col, cs := range left.ColStats {
		cs.DistinctCount = math.Min(cs.DistinctCount, rows)
		out.ColStats[col] = cs
	}
	switch p.JoinType {
	case SemiJoin, AntiJoin:
	default:
		for col, cs := range right.ColStats {
			cs.DistinctCount = math.Min(cs.DistinctCount, rows)
			out.ColStats[col] = cs
		}
	}
	return out
}

func (sb *StatisticsBuilder) buildGroupBy(
	p *GroupByPrivate, in *props.Statistics,
) *props.Statistics {
	var rows float64
	if len(p.GroupingCols) == 0 {
		// Scalar aggregation always produces one row.
		rows = 1
	} else {
		rows = 1
		for _, col := range p.GroupingCols {
			rows *= math.Max(1, in.ColumnStatistic(col).DistinctCount)
		}
		rows = math.Min(rows, in.RowCount)
	}
	out := &props.Statistics{
		RowCount:                rows,
		RowCountMayBeInaccurate: in.RowCountMayBeInaccurate,
		ColStats:                make(map[opt.ColumnID]props.ColumnStatistic),
	}
	for _, col := range p.GroupingCols {
		cs := in.ColumnStatistic(col)
		cs.DistinctCount = math.Min(cs.DistinctCount, rows)
		out.ColStats[col] = cs
	}
	for _, col := range p.AggCols {
		out.ColStats[col] = props.UnknownColumnStatistic()
	}
	return out
}

func (sb *StatisticsBuilder) scale(in *props.Statistics, selectivity float64) *props.Statistics {
	out := sb.copy(in)
	out.RowCount = math.Max(1, in.RowCount*selectivity)
	for col, cs := range out.ColStats {
		cs.DistinctCount = math.Min(cs.DistinctCount, out.RowCount)
		out.ColStats[col] = cs
	}
	return out
}

func (sb *StatisticsBuilder) project(in *props.Statistics, cols opt.ColSet) *props.Statistics {
	out := &props.Statistics{
		RowCount:                in.RowCount,
		RowCountMayBeInaccurate: in.RowCountMayBeInaccurate,
		ColStats:                make(map[opt.ColumnID]props.ColumnStatistic),
	}
	cols.ForEach(func(col opt.ColumnID) {
		if cs, ok := in.ColStats[col]; ok {
			out.ColStats[col] = cs
		} else {
			// Synthesized column with no derivable statistics.
			out.ColStats[col] = props.UnknownColumnStatistic()
		}
	})
	return out
}

func (sb *StatisticsBuilder) copy(in *props.Statistics) *props.Statistics {
	out := &props.Statistics{
		RowCount:                in.RowCount,
		RowCountMayBeInaccurate: in.RowCountMayBeInaccurate,
		ColStats:                make(map[opt.ColumnID]props.ColumnStatistic, len(in.ColStats)),
	}
	for col, cs := range in.ColStats {
		out.ColStats[col] = cs
	}
	return out
}
