// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package opt

import (
	"github.com/cockroachdb/errors"

	"github.com/keplerdb/kepler/pkg/sql/opt/cat"
)

// TableID uniquely identifies the usage of a table within the scope of a
// single query compilation. Multiple references to the same physical table
// get distinct TableIDs, since each reference projects distinct columns.
// TableID 0 is reserved to mean "unknown table".
type TableID int32

// ColumnMeta stores per-column metadata for one allocated ColumnID.
type ColumnMeta struct {
	// Alias is the name used when formatting expressions that reference the
	// column.
	Alias string

	// Table identifies the table reference the column comes from, or 0 for a
	// synthesized column.
	Table TableID

	// Ordinal is the position of the column in its table, or -1 for a
	// synthesized column.
	Ordinal int
}

// TableMeta stores metadata for one table reference.
type TableMeta struct {
	// Table is the catalog object backing the reference.
	Table cat.Table

	// FirstColumn is the ColumnID of the table's first column; the remaining
	// columns follow contiguously.
	FirstColumn ColumnID
}

// Metadata is the column-reference factory for one query compilation: it
// assigns unique ids to the columns and tables used by the query, and maps
// them back to catalog objects. Since the lifetime of a Metadata is a single
// statement compilation, ids stay small and dense, which lets sets of them
// be stored as bitmaps.
type Metadata struct {
	cols   []ColumnMeta
	tables []TableMeta
}

// AddTable indexes a new reference to a table within the query, allocating a
// contiguous run of column ids for its columns.
func (md *Metadata) AddTable(tab cat.Table) TableID {
	tabID := TableID(len(md.tables) + 1)
	first := ColumnID(len(md.cols) + 1)
	md.tables = append(md.tables, TableMeta{Table: tab, FirstColumn: first})
	for i, n := 0, tab.ColumnCount(); i < n; i++ {
		md.cols = append(md.cols, ColumnMeta{
			Alias:   tab.Name() + "." + tab.Column(i).Name(),
			Table:   tabID,
			Ordinal: i,
		})
	}
	return tabID
}

// AddColumn allocates a new id for a synthesized column (one computed by the
// query rather than read from a table).
func (md *Metadata) AddColumn(alias string) ColumnID {
	md.cols = append(md.cols, ColumnMeta{Alias: alias, Ordinal: -1})
	return ColumnID(len(md.cols))
}

// ColumnMeta returns metadata for the given column id.
func (md *Metadata) ColumnMeta(id ColumnID) *ColumnMeta {
	if id < 1 || int(id) > len(md.cols) {
		panic(errors.AssertionFailedf("invalid column id %d", id))
	}
	return &md.cols[id-1]
}

// TableMeta returns metadata for the given table id.
func (md *Metadata) TableMeta(id TableID) *TableMeta {
	if id < 1 || int(id) > len(md.tables) {
		panic(errors.AssertionFailedf("invalid table id %d", id))
	}
	return &md.tables[id-1]
}

// Table returns the catalog object for the given table reference.
func (md *Metadata) Table(id TableID) cat.Table {
	return md.TableMeta(id).Table
}

// TableColumn returns the ColumnID of the column at the given ordinal in the
// referenced table.
func (md *Metadata) TableColumn(id TableID, ordinal int) ColumnID {
	tm := md.TableMeta(id)
	if ordinal < 0 || ordinal >= tm.Table.ColumnCount() {
		panic(errors.AssertionFailedf(
			"column ordinal %d out of range for table %s", ordinal, tm.Table.Name()))
	}
	return tm.FirstColumn + ColumnID(ordinal)
}

// TableColumns returns the set of column ids allocated for the referenced
// table.
func (md *Metadata) TableColumns(id TableID) ColSet {
	tm := md.TableMeta(id)
	var s ColSet
	for i, n := 0, tm.Table.ColumnCount(); i < n; i++ {
		s.Add(tm.FirstColumn + ColumnID(i))
	}
	return s
}

// ColumnOrdinal returns the table ordinal backing the given column id, and
// the catalog table it belongs to. ok is false for synthesized columns.
func (md *Metadata) ColumnOrdinal(id ColumnID) (tab cat.Table, ordinal int, ok bool) {
	cm := md.ColumnMeta(id)
	if cm.Table == 0 {
		return nil, 0, false
	}
	return md.Table(cm.Table), cm.Ordinal, true
}

// NumColumns returns the count of allocated column ids.
func (md *Metadata) NumColumns() int { return len(md.cols) }
