// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package physical

import (
	"testing"

	"github.com/keplerdb/kepler/pkg/sql/opt"
)

func TestDistributionSatisfies(t *testing.T) {
	anyDist := Distribution{}
	gather := Distribution{Type: Gather}
	broadcast := Distribution{Type: Broadcast}
	roundRobin := Distribution{Type: RoundRobin}
	hashedA := HashedOn(1)
	hashedAB := HashedOn(1, 2)
	hashedC := HashedOn(3)

	testCases := []struct {
		provided Distribution
		required Distribution
		expected bool
	}{
		// Everything satisfies "any".
		{gather, anyDist, true},
		{broadcast, anyDist, true},
		{hashedA, anyDist, true},
		{roundRobin, anyDist, true},

		// Hashed on a superset of the required key still satisfies: every
		// group of rows sharing the required key is on a single stream.
		{hashedAB, hashedA, true},
		{hashedA, hashedAB, false},
		{hashedA, hashedA, true},
		{hashedA, hashedC, false},

		// Broadcast puts every row everywhere, so any hashed requirement
		// holds; the converse does not.
		{broadcast, hashedA, true},
		{broadcast, hashedAB, true},
		{hashedA, broadcast, false},
		{broadcast, broadcast, true},

		// Gather and round-robin satisfy only themselves.
		{gather, gather, true},
		{broadcast, gather, false},
		{hashedA, gather, false},
		{gather, hashedA, false},
		{roundRobin, roundRobin, true},
		{gather, roundRobin, false},
	}
	for _, tc := range testCases {
		if got := tc.provided.Satisfies(tc.required); got != tc.expected {
			t.Errorf("(%s).Satisfies(%s) = %v, want %v",
				tc.provided, tc.required, got, tc.expected)
		}
	}
}

func TestPropsSatisfies(t *testing.T) {
	ord := opt.Ordering{opt.MakeOrderingColumn(1, false)}
	ordLong := opt.Ordering{opt.MakeOrderingColumn(1, false), opt.MakeOrderingColumn(2, true)}

	testCases := []struct {
		provided Props
		required Props
		expected bool
	}{
		{Props{}, Props{}, true},
		{Props{Distribution: HashedOn(1)}, Props{}, true},
		{Props{}, MakeGather(), false},
		{MakeGather(), MakeGather(), true},

		// Both components must hold.
		{
			Props{Distribution: Distribution{Type: Gather}, Ordering: ordLong},
			Props{Distribution: Distribution{Type: Gather}, Ordering: ord},
			true,
		},
		{
			Props{Distribution: Distribution{Type: Gather}},
			Props{Distribution: Distribution{Type: Gather}, Ordering: ord},
			false,
		},
		{
			Props{Ordering: ord},
			Props{Distribution: Distribution{Type: Gather}, Ordering: ord},
			false,
		},
	}
	for _, tc := range testCases {
		if got := tc.provided.Satisfies(tc.required); got != tc.expected {
			t.Errorf("(%s).Satisfies(%s) = %v, want %v",
				tc.provided, tc.required, got, tc.expected)
		}
	}
}

func TestPropsFingerprint(t *testing.T) {
	a := Props{Distribution: HashedOn(1, 2)}
	b := Props{Distribution: HashedOn(1, 2)}
	c := Props{Distribution: HashedOn(2, 1)}
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("equal props have different fingerprints")
	}
	// Hash distribution columns are ordered; (1,2) and (2,1) are distinct.
	if a.Fingerprint() == c.Fingerprint() {
		t.Errorf("distinct props share a fingerprint")
	}
	if !a.Defined() || Min.Defined() {
		t.Errorf("Defined misreported")
	}
}
