// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package memo

import (
	"fmt"
	"math"

	"github.com/cockroachdb/redact"
)

// Cost is the estimated cost of executing an expression, used to pick the
// lowest-cost alternative within a group and to prune branches of the search
// whose partial cost already exceeds the best complete plan found so far.
type Cost struct {
	C     float64
	Flags CostFlags
}

// CostFlags is a bitmask of penalties that dominate the scalar cost when
// comparing: a plan carrying a penalty flag loses to any plan without it,
// regardless of C.
type CostFlags uint8

const (
	// FullScanPenalty penalizes plans containing an unconstrained scan of a
	// large table.
	FullScanPenalty CostFlags = 1 << iota

	// HugeCostPenalty marks plans that should be chosen only if no
	// alternative exists, e.g. a plan shape kept alive solely by a hint.
	HugeCostPenalty
)

// MaxCost is the maximum possible estimated cost. It's used to suppress
// alternatives during search and as the initial upper bound before any
// complete plan has been costed.
var MaxCost = Cost{C: math.Inf(+1), Flags: HugeCostPenalty}

// costFuzz is the relative difference below which two scalar costs compare
// as equal. Cost arithmetic accumulates floating point error; comparing with
// a small tolerance keeps plan choice stable across arithmetic orderings.
const costFuzz = 1e-10

// Less returns true if this cost is lower than the given cost. Penalty flags
// are compared first; the scalar component breaks ties.
func (c Cost) Less(other Cost) bool {
	if c.Flags != other.Flags {
		return c.Flags.less(other.Flags)
	}
	return c.C < other.C*(1-costFuzz)
}

// Add adds the other cost to this cost, accumulating both the scalar
// component and the penalty flags.
func (c *Cost) Add(other Cost) {
	c.C += other.C
	c.Flags |= other.Flags
}

// Sub subtracts the other cost's scalar component from this cost. Penalty
// flags are sticky: the costing task subtracts a stale local cost only to
// re-add a recomputed one, and a penalty observed once must not be lost.
func (c *Cost) Sub(other Cost) {
	c.C -= other.C
}

func (f CostFlags) less(other CostFlags) bool {
	// A cost with fewer penalty bits set is lower. HugeCostPenalty dominates
	// FullScanPenalty.
	if f&HugeCostPenalty != other&HugeCostPenalty {
		return f&HugeCostPenalty == 0
	}
	return f&FullScanPenalty == 0 && other&FullScanPenalty != 0
}

func (c Cost) String() string {
	return fmt.Sprintf("%.9g", c.C)
}

// SafeValue implements the redact.SafeValue interface. Costs are numeric
// estimates and never contain user data.
func (c Cost) SafeValue() {}

var _ redact.SafeValue = Cost{}
