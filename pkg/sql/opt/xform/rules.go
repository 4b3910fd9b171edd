// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"

	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
)

// RuleName names a rule for the applied-rule and rule-failure callbacks.
type RuleName string

// SafeValue implements the redact.SafeValue interface.
func (RuleName) SafeValue() {}

var _ redact.SafeValue = RuleName("")

// Rule produces alternative expressions logically equivalent to an existing
// one. Transformation rules produce logical alternatives; implementation
// rules produce physical ones. The search guarantees each (expression, rule)
// pair is tried at most once, and that a rule failure (panic) skips the rule
// rather than aborting the search.
type Rule interface {
	// Name returns the rule's name.
	Name() RuleName

	// Matches returns true if the rule can fire on the expression. It must
	// be cheap; all real work belongs in Transform.
	Matches(o *Optimizer, e *memo.GroupExpr) bool

	// Transform fires the rule, inserting any produced alternatives into the
	// expression's group through the memo, and returns the ids of the
	// expressions it inserted (deduplicated inserts return existing ids,
	// which must not be reported as new).
	Transform(o *Optimizer, id memo.ExprID) []memo.ExprID
}

// RuleSet is the ordered collection of rules one optimization pass runs.
// Order is fixed for the lifetime of the set, giving every rule a stable
// ordinal used by per-expression applied-rule masks.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet builds a rule set from the given rules, in order.
func NewRuleSet(rules ...Rule) RuleSet {
	if len(rules) > 64 {
		// Applied-rule masks are a single word.
		panic(errors.AssertionFailedf("rule set of %d rules exceeds mask width", len(rules)))
	}
	return RuleSet{rules: rules}
}

// DefaultRules returns the standard rule set: one implementation rule per
// logical operator, plus the join commutativity transformation.
func DefaultRules() RuleSet {
	return NewRuleSet(
		joinCommuteRule{},
		implementScanRule{},
		implementSelectRule{},
		implementProjectRule{},
		implementHashJoinRule{},
		implementHashAggRule{},
		implementSortRule{},
		implementLimitRule{},
		implementUnionRule{},
		implementWindowRule{},
		implementTableFuncRule{},
	)
}

// Count returns the number of rules in the set.
func (rs *RuleSet) Count() int { return len(rs.rules) }

// Rule returns the rule with the given ordinal.
func (rs *RuleSet) Rule(ord int) Rule { return rs.rules[ord] }
