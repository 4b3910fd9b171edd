// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package opt

import (
	"fmt"

	"github.com/cockroachdb/redact"
)

// Operator describes the type of operation that a relational expression
// performs. The operator set is a closed union: every logical operator the
// analyzer can produce and every physical operator the optimizer can choose
// has exactly one variant here, so switches over Operator can be checked for
// exhaustiveness.
type Operator uint8

const (
	UnknownOp Operator = iota

	// -- Logical operators --

	// ScanOp returns the rows of a base table.
	ScanOp

	// SelectOp filters rows from its input that do not match a predicate.
	SelectOp

	// ProjectOp computes a set of output columns from its input.
	ProjectOp

	// JoinOp combines two inputs on a join predicate. The join type (inner,
	// left, semi, ...) lives in the private, as all types share the same
	// search behavior.
	JoinOp

	// GroupByOp aggregates its input on a set of grouping columns.
	GroupByOp

	// SortOp orders its input. This is the logical ORDER BY operator; the
	// physical sort used as an enforcer is PhysicalSortOp.
	SortOp

	// LimitOp caps the number of rows returned by its input.
	LimitOp

	// UnionOp is the set operation over two inputs.
	UnionOp

	// WindowOp computes window functions over partitions of its input.
	WindowOp

	// TableFuncOp produces rows from a table-valued function.
	TableFuncOp

	// -- Physical operators --

	PhysicalScanOp
	PhysicalSelectOp
	PhysicalProjectOp

	// HashJoinOp is the physical hash join. Whether it runs as a broadcast or
	// a partitioned (shuffle) join is decided by the distribution properties
	// required of its children, not by a separate operator.
	HashJoinOp

	// HashAggOp is the physical hash aggregation. Its private records the
	// stage (complete, partial, final) chosen by the implementation rule.
	HashAggOp

	// PhysicalSortOp orders rows within each stream. It is produced both by
	// the sort implementation rule and as the sort enforcer.
	PhysicalSortOp

	PhysicalLimitOp
	PhysicalUnionOp
	PhysicalWindowOp
	PhysicalTableFuncOp

	// ExchangeOp redistributes rows between streams according to a
	// distribution spec. It exists only as an enforcer; no rule produces it.
	ExchangeOp

	// NumOperators should be last.
	NumOperators
)

var opNames = [NumOperators]string{
	UnknownOp:           "unknown",
	ScanOp:              "scan",
	SelectOp:            "select",
	ProjectOp:           "project",
	JoinOp:              "join",
	GroupByOp:           "group-by",
	SortOp:              "sort",
	LimitOp:             "limit",
	UnionOp:             "union",
	WindowOp:            "window",
	TableFuncOp:         "table-func",
	PhysicalScanOp:      "physical-scan",
	PhysicalSelectOp:    "physical-select",
	PhysicalProjectOp:   "physical-project",
	HashJoinOp:          "hash-join",
	HashAggOp:           "hash-agg",
	PhysicalSortOp:      "physical-sort",
	PhysicalLimitOp:     "physical-limit",
	PhysicalUnionOp:     "physical-union",
	PhysicalWindowOp:    "physical-window",
	PhysicalTableFuncOp: "physical-table-func",
	ExchangeOp:          "exchange",
}

func (op Operator) String() string {
	if op >= NumOperators {
		return fmt.Sprintf("operator(%d)", op)
	}
	return opNames[op]
}

// SafeValue implements the redact.SafeValue interface. Operator names never
// contain user data.
func (op Operator) SafeValue() {}

var _ redact.SafeValue = UnknownOp

// IsLogical returns true if the operator is produced by the analyzer or by
// transformation rules, as opposed to implementation rules and enforcers.
func (op Operator) IsLogical() bool {
	return op >= ScanOp && op <= TableFuncOp
}

// IsPhysical returns true if the operator can appear in the final execution
// plan.
func (op Operator) IsPhysical() bool {
	return op >= PhysicalScanOp && op < NumOperators
}

// IsEnforcer returns true if the operator is synthesized by the optimizer to
// provide a physical property its input lacks, rather than by a rule.
func (op Operator) IsEnforcer() bool {
	return op == ExchangeOp || op == PhysicalSortOp
}
