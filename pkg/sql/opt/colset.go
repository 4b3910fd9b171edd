// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package opt

import (
	"bytes"
	"fmt"
	"sort"
)

// ColumnID uniquely identifies the usage of a column within the scope of a
// single query compilation. ColumnID 0 is reserved to mean "unknown column".
// IDs are allocated by the Metadata column-ref factory.
type ColumnID int32

// ColList is a list of column IDs where order matters, e.g. hash distribution
// columns or grouping columns.
type ColList []ColumnID

// ToSet converts the list to a set.
func (cl ColList) ToSet() ColSet {
	var s ColSet
	for _, col := range cl {
		s.Add(col)
	}
	return s
}

// ColSet efficiently stores an unordered set of column IDs. Column IDs are
// small dense integers, so the common case fits in a single machine word; a
// spill map handles queries wide enough to overflow it.
type ColSet struct {
	small uint64
	large map[ColumnID]struct{}
}

// Add adds the column to the set.
func (s *ColSet) Add(col ColumnID) {
	if col >= 1 && col <= 64 {
		s.small |= 1 << uint64(col-1)
		return
	}
	if s.large == nil {
		s.large = make(map[ColumnID]struct{})
	}
	s.large[col] = struct{}{}
}

// Remove removes the column from the set if present.
func (s *ColSet) Remove(col ColumnID) {
	if col >= 1 && col <= 64 {
		s.small &^= 1 << uint64(col-1)
		return
	}
	delete(s.large, col)
}

// Contains returns true if the set contains the column.
func (s ColSet) Contains(col ColumnID) bool {
	if col >= 1 && col <= 64 {
		return s.small&(1<<uint64(col-1)) != 0
	}
	_, ok := s.large[col]
	return ok
}

// Empty returns true if the set contains no columns.
func (s ColSet) Empty() bool { return s.small == 0 && len(s.large) == 0 }

// Len returns the number of columns in the set.
func (s ColSet) Len() int {
	n := len(s.large)
	for v := s.small; v != 0; v &= v - 1 {
		n++
	}
	return n
}

// UnionWith adds all columns in rhs to this set.
func (s *ColSet) UnionWith(rhs ColSet) {
	s.small |= rhs.small
	for col := range rhs.large {
		s.Add(col)
	}
}

// Union returns the union of s and rhs as a new set.
func (s ColSet) Union(rhs ColSet) ColSet {
	r := s.Copy()
	r.UnionWith(rhs)
	return r
}

// Intersects returns true if the two sets share at least one column.
func (s ColSet) Intersects(rhs ColSet) bool {
	if s.small&rhs.small != 0 {
		return true
	}
	for col := range rhs.large {
		if s.Contains(col) {
			return true
		}
	}
	for col := range s.large {
		if rhs.Contains(col) {
			return true
		}
	}
	return false
}

// SubsetOf returns true if rhs contains every column in this set.
func (s ColSet) SubsetOf(rhs ColSet) bool {
	if s.small&^rhs.small != 0 {
		return false
	}
	for col := range s.large {
		if !rhs.Contains(col) {
			return false
		}
	}
	return true
}

// Equals returns true if the two sets contain exactly the same columns.
func (s ColSet) Equals(rhs ColSet) bool {
	return s.SubsetOf(rhs) && rhs.SubsetOf(s)
}

// Copy returns an independent copy of the set.
func (s ColSet) Copy() ColSet {
	r := ColSet{small: s.small}
	if len(s.large) > 0 {
		r.large = make(map[ColumnID]struct{}, len(s.large))
		for col := range s.large {
			r.large[col] = struct{}{}
		}
	}
	return r
}

// ForEach calls the given function for each column in the set, in ascending
// ID order. Deterministic iteration keeps plan formatting stable.
func (s ColSet) ForEach(fn func(col ColumnID)) {
	for _, col := range s.Ordered() {
		fn(col)
	}
}

// Ordered returns the columns in the set in ascending ID order.
func (s ColSet) Ordered() []ColumnID {
	cols := make([]ColumnID, 0, s.Len())
	for v, i := s.small, ColumnID(1); v != 0; v, i = v>>1, i+1 {
		if v&1 != 0 {
			cols = append(cols, i)
		}
	}
	for col := range s.large {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })
	return cols
}

func (s ColSet) String() string {
	var buf bytes.Buffer
	buf.WriteByte('(')
	for i, col := range s.Ordered() {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%d", col)
	}
	buf.WriteByte(')')
	return buf.String()
}

// MakeColSet returns a set initialized with the given columns.
func MakeColSet(cols ...ColumnID) ColSet {
	var s ColSet
	for _, col := range cols {
		s.Add(col)
	}
	return s
}
