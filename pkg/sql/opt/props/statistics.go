// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package props holds the logical properties shared by all expressions in a
// memo group, chiefly the statistics estimate that the cost model and the
// admission heuristics consume.
package props

import (
	"bytes"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/keplerdb/kepler/pkg/sql/opt"
)

// ColumnStatistic tracks per-column estimates within a Statistics object.
// Unknown is set when the estimate was fabricated from defaults because the
// statistics store had nothing for the column; consumers that make risky
// decisions (one-stage aggregation, broadcast joins) check it.
type ColumnStatistic struct {
	Min           float64
	Max           float64
	NullFraction  float64
	DistinctCount float64
	AvgWidth      float64
	Unknown       bool
}

// Statistics is the estimated cardinality of a memo group. All expressions
// in a group are logically equivalent, so one Statistics object is shared by
// the whole group: every alternative must agree on the logical row count.
// A Statistics object is immutable once attached to a group, except that the
// search may re-derive it after child physical plans are fixed (which can
// refine the estimate, e.g. with runtime-filter selectivity).
type Statistics struct {
	// RowCount is the estimated number of rows produced by the group.
	RowCount float64

	// RowCountMayBeInaccurate is true when RowCount is derived, directly or
	// transitively, from a table whose row count the statistics store flagged
	// as possibly stale.
	RowCountMayBeInaccurate bool

	// ColStats holds estimates for the columns the group outputs. Columns
	// without collected statistics get default entries with Unknown set.
	ColStats map[opt.ColumnID]ColumnStatistic
}

// ColumnStatistic returns the statistic for the given column. Columns the
// derivation never saw get a default Unknown entry.
func (s *Statistics) ColumnStatistic(col opt.ColumnID) ColumnStatistic {
	if cs, ok := s.ColStats[col]; ok {
		return cs
	}
	return UnknownColumnStatistic()
}

// HasUnknownColumns returns true if any tracked column statistic was
// defaulted rather than collected.
func (s *Statistics) HasUnknownColumns() bool {
	for _, cs := range s.ColStats {
		if cs.Unknown {
			return true
		}
	}
	return false
}

// OutputSize estimates the total byte size of the rows produced by the
// group, restricted to the given columns. Used by the broadcast admission
// check to compare build and probe sides.
func (s *Statistics) OutputSize(cols opt.ColSet) float64 {
	var width float64
	cols.ForEach(func(col opt.ColumnID) {
		width += s.ColumnStatistic(col).AvgWidth
	})
	if width == 0 {
		width = DefaultColumnWidth
	}
	return s.RowCount * width
}

func (s *Statistics) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[rows=%s", humanize.Commaf(s.RowCount))
	if s.RowCountMayBeInaccurate {
		buf.WriteString(" inaccurate")
	}
	if s.HasUnknownColumns() {
		buf.WriteString(" unknown-cols")
	}
	buf.WriteByte(']')
	return buf.String()
}

const (
	// DefaultRowCount is the conservative row count assumed for a table the
	// statistics store knows nothing about.
	DefaultRowCount = 1000

	// DefaultColumnWidth is the assumed average byte width of a column
	// without collected statistics.
	DefaultColumnWidth = 8

	// UnknownDistinctFraction estimates the distinct count of a column
	// without statistics as a fraction of its row count.
	UnknownDistinctFraction = 0.1
)

// UnknownColumnStatistic returns the default estimate used for a column with
// no collected statistics.
func UnknownColumnStatistic() ColumnStatistic {
	return ColumnStatistic{
		DistinctCount: DefaultRowCount * UnknownDistinctFraction,
		AvgWidth:      DefaultColumnWidth,
		Unknown:       true,
	}
}
