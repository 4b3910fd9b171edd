// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package testcat implements an in-memory catalog and statistics provider
// for testing the optimizer.
package testcat

import (
	"github.com/cockroachdb/errors"

	"github.com/keplerdb/kepler/pkg/sql/opt/cat"
)

// Catalog implements cat.Catalog and cat.StatisticsProvider over tables
// registered by the test.
type Catalog struct {
	tables map[string]*Table
}

var _ cat.Catalog = (*Catalog)(nil)
var _ cat.StatisticsProvider = (*Catalog)(nil)

// New creates an empty test catalog.
func New() *Catalog {
	return &Catalog{tables: make(map[string]*Table)}
}

// AddTable registers the table under its name, replacing any previous table
// with that name.
func (tc *Catalog) AddTable(t *Table) {
	tc.tables[t.TabName] = t
}

// ResolveTable is part of the cat.Catalog interface.
func (tc *Catalog) ResolveTable(name string) (cat.Table, error) {
	t, ok := tc.tables[name]
	if !ok {
		return nil, errors.Newf("no table named %q", name)
	}
	return t, nil
}

// TableRowCount is part of the cat.StatisticsProvider interface.
func (tc *Catalog) TableRowCount(tab cat.Table) (float64, bool) {
	t := tab.(*Table)
	return t.RowCount, t.Accurate
}

// ColumnStatistic is part of the cat.StatisticsProvider interface.
func (tc *Catalog) ColumnStatistic(tab cat.Table, ordinal int) (cat.ColumnStatistic, bool) {
	t := tab.(*Table)
	stat, ok := t.ColStats[ordinal]
	return stat, ok
}

// Table implements cat.Table.
type Table struct {
	TabName  string
	Cols     []Column
	DistOrds []int

	// RowCount is the estimated row count; Accurate is false when the
	// estimate should be treated as untrustworthy.
	RowCount float64
	Accurate bool

	// ColStats maps column ordinals to collected statistics. Columns absent
	// from the map have no statistics.
	ColStats map[int]cat.ColumnStatistic
}

var _ cat.Table = (*Table)(nil)

// NewTable creates a table with the given columns and no statistics.
func NewTable(name string, cols ...string) *Table {
	t := &Table{TabName: name, ColStats: make(map[int]cat.ColumnStatistic)}
	for _, c := range cols {
		t.Cols = append(t.Cols, Column{ColName: c})
	}
	return t
}

// WithDistribution sets the ordinals of the hash distribution key.
func (t *Table) WithDistribution(ords ...int) *Table {
	t.DistOrds = ords
	return t
}

// WithRowCount sets an accurate row count estimate.
func (t *Table) WithRowCount(n float64) *Table {
	t.RowCount = n
	t.Accurate = true
	return t
}

// WithInaccurateRowCount sets a row count estimate flagged as possibly
// stale.
func (t *Table) WithInaccurateRowCount(n float64) *Table {
	t.RowCount = n
	t.Accurate = false
	return t
}

// WithColumnStats attaches statistics to the column at the given ordinal.
func (t *Table) WithColumnStats(ord int, stat cat.ColumnStatistic) *Table {
	t.ColStats[ord] = stat
	return t
}

// WithUniformStats attaches statistics with the given distinct count and an
// 8-byte average width to every column. Convenient for joins where only
// distinct counts matter.
func (t *Table) WithUniformStats(distinctCount float64) *Table {
	for ord := range t.Cols {
		t.ColStats[ord] = cat.ColumnStatistic{
			Max:           distinctCount,
			DistinctCount: distinctCount,
			AvgWidth:      8,
		}
	}
	return t
}

// Name is part of the cat.Table interface.
func (t *Table) Name() string { return t.TabName }

// ColumnCount is part of the cat.Table interface.
func (t *Table) ColumnCount() int { return len(t.Cols) }

// Column is part of the cat.Table interface.
func (t *Table) Column(i int) cat.Column { return t.Cols[i] }

// DistributionOrdinals is part of the cat.Table interface.
func (t *Table) DistributionOrdinals() []int { return t.DistOrds }

// Column implements cat.Column.
type Column struct {
	ColName string
}

var _ cat.Column = Column{}

// Name is part of the cat.Column interface.
func (c Column) Name() string { return c.ColName }
