// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package cat defines the interfaces through which the optimizer consumes
// catalog metadata and table statistics. The catalog and the statistics
// store live outside the optimizer; implementations must be safe for
// concurrent read access from multiple query compilations.
package cat

// Catalog is an interface to the database metadata required to resolve the
// tables referenced by a query.
type Catalog interface {
	// ResolveTable returns the named table, or an error if it does not exist.
	ResolveTable(name string) (Table, error)
}

// Table is an interface to a physical table.
type Table interface {
	// Name returns the unqualified table name.
	Name() string

	// ColumnCount returns the number of columns in the table.
	ColumnCount() int

	// Column returns the ith column, where i < ColumnCount.
	Column(i int) Column

	// DistributionOrdinals returns the ordinals of the columns the table's
	// rows are hash-distributed by across the cluster. An empty result means
	// rows are placed without a hash key (round-robin).
	DistributionOrdinals() []int
}

// Column is an interface to a table column.
type Column interface {
	// Name returns the column name.
	Name() string
}

// ColumnStatistic holds the per-column estimates supplied by the statistics
// store.
type ColumnStatistic struct {
	Min           float64
	Max           float64
	NullFraction  float64
	DistinctCount float64
	AvgWidth      float64
}

// StatisticsProvider supplies cardinality estimates for base tables. Missing
// statistics are reported through the ok/accurate results rather than
// errors: the optimizer degrades to conservative defaults instead of
// failing.
type StatisticsProvider interface {
	// TableRowCount returns the estimated row count of the table. accurate
	// is false when the estimate may be stale or was never collected, in
	// which case risk-averse heuristics (one-stage aggregation, broadcast
	// admission) treat the estimate defensively.
	TableRowCount(tab Table) (rowCount float64, accurate bool)

	// ColumnStatistic returns the statistic for the column at the given
	// ordinal, or ok=false if none has been collected.
	ColumnStatistic(tab Table, ordinal int) (stat ColumnStatistic, ok bool)
}
