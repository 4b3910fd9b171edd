// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package memo

import (
	"fmt"

	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/props/physical"
)

// Private is implemented by the operator-specific payload attached to an
// expression. The fingerprint participates in expression deduplication:
// two expressions with the same operator, same child groups, and same
// private fingerprint are the same expression.
type Private interface {
	Fingerprint() string
}

// JoinType enumerates the logical join variants. All variants share one
// Join operator since they search identically.
type JoinType uint8

const (
	InnerJoin JoinType = iota
	LeftOuterJoin
	FullOuterJoin
	SemiJoin
	AntiJoin
)

var joinTypeNames = [...]string{"inner", "left-outer", "full-outer", "semi", "anti"}

func (t JoinType) String() string { return joinTypeNames[t] }

// JoinHint is an explicit strategy request attached to a join by the query.
type JoinHint uint8

const (
	NoHint JoinHint = iota

	// BroadcastHint forces a broadcast join even when the build side
	// breaches the broadcast row-count limit.
	BroadcastHint

	// ShuffleHint forces a partitioned join.
	ShuffleHint
)

// ScanPrivate is the payload of Scan and PhysicalScan.
type ScanPrivate struct {
	Table opt.TableID
	// Cols are the columns projected by the scan.
	Cols opt.ColSet
}

func (p *ScanPrivate) Fingerprint() string {
	return fmt.Sprintf("scan:%d:%s", p.Table, p.Cols)
}

// SelectPrivate is the payload of Select and PhysicalSelect. The predicate
// is summarized by the columns it references and an optional selectivity
// override; full scalar trees are owned by the analyzer.
type SelectPrivate struct {
	FilterCols opt.ColSet
	// Selectivity overrides the default filter selectivity when > 0.
	Selectivity float64
}

func (p *SelectPrivate) Fingerprint() string {
	return fmt.Sprintf("select:%s:%g", p.FilterCols, p.Selectivity)
}

// ProjectPrivate is the payload of Project and PhysicalProject.
type ProjectPrivate struct {
	// Cols are the columns produced by the projection.
	Cols opt.ColSet
}

func (p *ProjectPrivate) Fingerprint() string {
	return fmt.Sprintf("project:%s", p.Cols)
}

// JoinPrivate is the payload of Join and HashJoin. The equi-join condition
// is kept as paired key columns; remaining conjuncts are summarized the same
// way Select summarizes its predicate.
type JoinPrivate struct {
	JoinType    JoinType
	LeftEqCols  opt.ColList
	RightEqCols opt.ColList
	Hint        JoinHint
	ExtraCols   opt.ColSet
}

func (p *JoinPrivate) Fingerprint() string {
	return fmt.Sprintf("join:%d:%v:%v:%d:%s",
		p.JoinType, p.LeftEqCols, p.RightEqCols, p.Hint, p.ExtraCols)
}

// AggStage identifies which phase of a (possibly multi-phase) aggregation a
// HashAgg expression performs.
type AggStage uint8

const (
	// AggComplete aggregates in a single phase: raw input in, final results
	// out.
	AggComplete AggStage = iota

	// AggPartial is the first phase of a two-phase aggregation: raw input
	// in, serialized intermediate state out. It runs before any exchange.
	AggPartial

	// AggFinal is the second phase: merges intermediate state and finalizes
	// results.
	AggFinal
)

var aggStageNames = [...]string{"complete", "partial", "final"}

func (s AggStage) String() string { return aggStageNames[s] }

// GroupByPrivate is the payload of GroupBy and HashAgg.
type GroupByPrivate struct {
	// GroupingCols are the grouping key, in query order (order matters for
	// hash distribution).
	GroupingCols opt.ColList

	// AggCols are the output columns holding aggregate results.
	AggCols opt.ColList

	// Stage is meaningful only on HashAgg.
	Stage AggStage

	// Split is true on the final stage of a split (two-phase) aggregation.
	Split bool
}

func (p *GroupByPrivate) Fingerprint() string {
	return fmt.Sprintf("group-by:%v:%v:%d:%t", p.GroupingCols, p.AggCols, p.Stage, p.Split)
}

// SortPrivate is the payload of Sort and PhysicalSort.
type SortPrivate struct {
	Ordering opt.Ordering
}

func (p *SortPrivate) Fingerprint() string {
	return fmt.Sprintf("sort:%s", p.Ordering)
}

// LimitPrivate is the payload of Limit and PhysicalLimit.
type LimitPrivate struct {
	Limit  int64
	Offset int64
}

func (p *LimitPrivate) Fingerprint() string {
	return fmt.Sprintf("limit:%d:%d", p.Limit, p.Offset)
}

// SetPrivate is the payload of Union and PhysicalUnion.
type SetPrivate struct {
	// All is true for UNION ALL.
	All bool
	// OutCols are the columns produced by the set operation.
	OutCols opt.ColSet
}

func (p *SetPrivate) Fingerprint() string {
	return fmt.Sprintf("set:%t:%s", p.All, p.OutCols)
}

// WindowPrivate is the payload of Window and PhysicalWindow.
type WindowPrivate struct {
	PartitionCols opt.ColList
	OrderBy       opt.Ordering
	// WindowCols are the output columns holding window function results.
	WindowCols opt.ColList
}

func (p *WindowPrivate) Fingerprint() string {
	return fmt.Sprintf("window:%v:%s:%v", p.PartitionCols, p.OrderBy, p.WindowCols)
}

// TableFuncPrivate is the payload of TableFunc and PhysicalTableFunc.
type TableFuncPrivate struct {
	Name    string
	OutCols opt.ColSet
}

func (p *TableFuncPrivate) Fingerprint() string {
	return fmt.Sprintf("table-func:%s:%s", p.Name, p.OutCols)
}

// ExchangePrivate is the payload of the Exchange enforcer.
type ExchangePrivate struct {
	// Target is the distribution the exchange produces.
	Target physical.Distribution

	// MergeOrdering, when non-empty, means the exchange merges its ordered
	// input streams rather than interleaving them, preserving the order. Set
	// for gather exchanges placed above a sort.
	MergeOrdering opt.Ordering
}

func (p *ExchangePrivate) Fingerprint() string {
	return fmt.Sprintf("exchange:%s:%s", p.Target, p.MergeOrdering)
}
