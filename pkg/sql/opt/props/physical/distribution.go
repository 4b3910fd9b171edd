// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package physical

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/redact"

	"github.com/keplerdb/kepler/pkg/sql/opt"
)

// DistributionType enumerates the ways rows can be spread across the streams
// of a distributed plan.
type DistributionType uint8

const (
	// AnyDistribution places no constraint; every concrete distribution
	// satisfies it.
	AnyDistribution DistributionType = iota

	// Gather collects all rows onto a single stream, e.g. to return results
	// to the coordinator.
	Gather

	// Hashed partitions rows across streams by a hash of the listed columns.
	Hashed

	// Broadcast replicates every row to every stream.
	Broadcast

	// RoundRobin spreads rows across streams with no particular key.
	RoundRobin
)

var distributionNames = [...]string{
	AnyDistribution: "any",
	Gather:          "gather",
	Hashed:          "hashed",
	Broadcast:       "broadcast",
	RoundRobin:      "round-robin",
}

func (t DistributionType) String() string { return distributionNames[t] }

// SafeValue implements the redact.SafeValue interface.
func (t DistributionType) SafeValue() {}

var _ redact.SafeValue = AnyDistribution

// Distribution is the distribution component of a physical property set.
// Columns are populated only for the Hashed type.
type Distribution struct {
	Type    DistributionType
	Columns opt.ColList
}

// HashedOn returns a hash distribution on the given columns.
func HashedOn(cols ...opt.ColumnID) Distribution {
	return Distribution{Type: Hashed, Columns: cols}
}

// Any returns true if the distribution places no constraint.
func (d Distribution) Any() bool { return d.Type == AnyDistribution }

// Satisfies returns true if rows distributed as d meet the given
// requirement. The relation is a partial order:
//
//   - any concrete distribution satisfies an "any" requirement;
//   - hashed-by-{a,b} satisfies a hashed-by-{a} requirement, since the
//     required key columns are a subset of the delivered key;
//   - broadcast satisfies any hashed requirement, since every stream holds
//     every row;
//   - gather and round-robin satisfy only themselves.
func (d Distribution) Satisfies(required Distribution) bool {
	switch required.Type {
	case AnyDistribution:
		return true
	case Gather:
		return d.Type == Gather
	case Hashed:
		switch d.Type {
		case Broadcast:
			return true
		case Hashed:
			return opt.ColList(required.Columns).ToSet().SubsetOf(d.Columns.ToSet())
		}
		return false
	case Broadcast:
		return d.Type == Broadcast
	case RoundRobin:
		return d.Type == RoundRobin
	}
	return false
}

// Equals returns true if the two distributions are identical.
func (d Distribution) Equals(rhs Distribution) bool {
	if d.Type != rhs.Type || len(d.Columns) != len(rhs.Columns) {
		return false
	}
	for i := range d.Columns {
		if d.Columns[i] != rhs.Columns[i] {
			return false
		}
	}
	return true
}

func (d Distribution) String() string {
	var buf bytes.Buffer
	d.format(&buf)
	return buf.String()
}

func (d Distribution) format(buf *bytes.Buffer) {
	buf.WriteString(d.Type.String())
	if d.Type == Hashed {
		buf.WriteByte('(')
		for i, col := range d.Columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(buf, "%d", col)
		}
		buf.WriteByte(')')
	}
}
