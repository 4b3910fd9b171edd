// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package opt

import (
	"bytes"
	"fmt"
)

// OrderingColumn is the ColumnID for a column that is part of an ordering,
// plus a direction. The direction is encoded in the sign: positive IDs sort
// ascending, negative IDs descending.
type OrderingColumn int32

// MakeOrderingColumn initializes an ordering column with a ColumnID and a
// sort direction.
func MakeOrderingColumn(id ColumnID, descending bool) OrderingColumn {
	if descending {
		return OrderingColumn(-id)
	}
	return OrderingColumn(id)
}

// ID returns the ColumnID of the ordering column.
func (c OrderingColumn) ID() ColumnID {
	if c < 0 {
		return ColumnID(-c)
	}
	return ColumnID(c)
}

// Descending returns true if the column sorts in descending order.
func (c OrderingColumn) Descending() bool { return c < 0 }

func (c OrderingColumn) String() string {
	if c.Descending() {
		return fmt.Sprintf("-%d", c.ID())
	}
	return fmt.Sprintf("+%d", c.ID())
}

// Ordering defines the order of rows provided or required by an operator. A
// row sorts before another if its value for the first column is less (or
// greater, for a descending column), with ties broken by subsequent columns.
// The empty ordering places no constraint on row order.
type Ordering []OrderingColumn

// Any returns true if the ordering imposes no constraint.
func (o Ordering) Any() bool { return len(o) == 0 }

// ColSet returns the set of columns referenced by the ordering.
func (o Ordering) ColSet() ColSet {
	var s ColSet
	for _, col := range o {
		s.Add(col.ID())
	}
	return s
}

// Equals returns true if the two orderings are identical.
func (o Ordering) Equals(rhs Ordering) bool {
	if len(o) != len(rhs) {
		return false
	}
	for i := range o {
		if o[i] != rhs[i] {
			return false
		}
	}
	return true
}

// Provides returns true if rows ordered by o are also ordered by required,
// which holds when required is a prefix of o. A stream sorted on (a, b) is
// sorted on (a); the converse does not hold.
func (o Ordering) Provides(required Ordering) bool {
	if len(required) > len(o) {
		return false
	}
	for i := range required {
		if o[i] != required[i] {
			return false
		}
	}
	return true
}

func (o Ordering) String() string {
	var buf bytes.Buffer
	o.Format(&buf)
	return buf.String()
}

// Format writes the ordering to the given buffer.
func (o Ordering) Format(buf *bytes.Buffer) {
	for i, col := range o {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString(col.String())
	}
}
