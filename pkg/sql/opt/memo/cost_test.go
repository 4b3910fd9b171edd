// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package memo

import (
	"math"
	"testing"
)

func TestCostLess(t *testing.T) {
	testCases := []struct {
		left, right Cost
		expected    bool
	}{
		{Cost{C: 0}, Cost{C: 1}, true},
		{Cost{C: 1}, Cost{C: 0}, false},
		{Cost{C: 0}, Cost{C: 0}, false},

		// Scalar comparison tolerates floating point noise.
		{Cost{C: 1}, Cost{C: 1 + 1e-12}, false},
		{Cost{C: 1 + 1e-12}, Cost{C: 1}, false},
		{Cost{C: 1}, Cost{C: 1 + 1e-8}, true},

		// Penalty flags dominate the scalar.
		{Cost{C: 1e10}, Cost{C: 1, Flags: FullScanPenalty}, true},
		{Cost{C: 1, Flags: FullScanPenalty}, Cost{C: 1e10}, false},
		{Cost{C: 1e10, Flags: FullScanPenalty}, Cost{C: 1, Flags: HugeCostPenalty}, true},
		{Cost{C: 1, Flags: HugeCostPenalty}, Cost{C: 1e10, Flags: FullScanPenalty}, false},
		{Cost{C: 1, Flags: FullScanPenalty}, Cost{C: 2, Flags: FullScanPenalty}, true},

		// Nothing is cheaper than itself, including the maximum.
		{MaxCost, MaxCost, false},
		{Cost{C: math.Inf(+1)}, MaxCost, true},
		{MaxCost, Cost{C: 0}, false},
		{Cost{C: 0}, MaxCost, true},
	}
	for i, tc := range testCases {
		if got := tc.left.Less(tc.right); got != tc.expected {
			t.Errorf("%d: (%v).Less(%v) = %v, want %v", i, tc.left, tc.right, got, tc.expected)
		}
	}
}

func TestCostAddSub(t *testing.T) {
	c := Cost{C: 1}
	c.Add(Cost{C: 2, Flags: FullScanPenalty})
	if c.C != 3 || c.Flags != FullScanPenalty {
		t.Errorf("after Add: %+v", c)
	}
	c.Sub(Cost{C: 2})
	if c.C != 1 {
		t.Errorf("after Sub: %+v", c)
	}
	// Flags are sticky across Sub.
	if c.Flags != FullScanPenalty {
		t.Errorf("Sub dropped flags: %+v", c)
	}
}
