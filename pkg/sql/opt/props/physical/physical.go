// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package physical defines the physical property sets the optimizer requires
// of and derives for expressions. Physical properties are characteristics of
// an expression that impact its layout and location but not its logical
// content: the distribution of rows across streams and the sort order of
// rows within a stream. Required properties are derived top-down; provided
// properties bottom-up; an enforcer operator is injected wherever a provided
// property fails to satisfy a required one.
package physical

import (
	"bytes"

	"github.com/keplerdb/kepler/pkg/sql/opt"
)

// Props is an immutable pair of a distribution property and a sort property
// that a plan delivers or that a consumer requires. The zero value requires
// (or promises) nothing and is the minimum of the partial order.
type Props struct {
	Distribution Distribution
	Ordering     opt.Ordering
}

// Min is the property set that requires nothing.
var Min = Props{}

// MakeGather returns the property set requiring all rows on one stream with
// no particular order.
func MakeGather() Props {
	return Props{Distribution: Distribution{Type: Gather}}
}

// Defined returns true if any physical property is defined; if none is,
// this is the Min property set.
func (p Props) Defined() bool {
	return !p.Distribution.Any() || !p.Ordering.Any()
}

// Satisfies returns true if a plan providing p meets the given requirement:
// both the distribution and the ordering components must individually
// satisfy their counterparts.
func (p Props) Satisfies(required Props) bool {
	return p.Distribution.Satisfies(required.Distribution) &&
		p.Ordering.Provides(required.Ordering)
}

// Equals returns true if the two property sets are identical.
func (p Props) Equals(rhs Props) bool {
	return p.Distribution.Equals(rhs.Distribution) && p.Ordering.Equals(rhs.Ordering)
}

func (p Props) String() string {
	var buf bytes.Buffer
	if !p.Distribution.Any() {
		buf.WriteByte('[')
		buf.WriteString("distribution: ")
		p.Distribution.format(&buf)
		buf.WriteByte(']')
	}
	if !p.Ordering.Any() {
		if buf.Len() != 0 {
			buf.WriteByte(' ')
		}
		buf.WriteByte('[')
		buf.WriteString("ordering: ")
		p.Ordering.Format(&buf)
		buf.WriteByte(']')
	}
	if buf.Len() == 0 {
		return "[]"
	}
	return buf.String()
}

// Fingerprint returns a canonical encoding of the property set, used as the
// interning key in the memo. Equal property sets have equal fingerprints.
func (p Props) Fingerprint() string {
	return p.String()
}
