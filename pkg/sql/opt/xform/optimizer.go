// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

// Package xform drives the optimizer's search: it explores alternative plans
// by applying transformation and implementation rules over the memo, costs
// physical alternatives top-down under required physical properties, injects
// enforcer operators where a chosen plan fails to deliver a property, and
// extracts the cheapest complete plan found.
//
// The search runs as a stack of cooperating tasks. Tasks suspend themselves
// by pushing a continuation when they need a child group optimized first, so
// the whole search is single-threaded and needs no locks.
package xform

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"

	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/cat"
	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
	"github.com/keplerdb/kepler/pkg/sql/opt/props/physical"
)

// MatchedRuleFunc defines the callback function for the NotifyOnMatchedRule
// event supported by the optimizer. If the function returns false, the rule
// is not applied; tests use this to selectively disable rules.
type MatchedRuleFunc func(rule RuleName) bool

// AppliedRuleFunc defines the callback function for the NotifyOnAppliedRule
// event. added is the number of expressions the rule inserted.
type AppliedRuleFunc func(rule RuleName, group memo.GroupID, added int)

// RuleFailureFunc defines the callback function for the NotifyOnRuleFailure
// event, invoked when a rule panics. The failing rule is skipped and the
// search continues.
type RuleFailureFunc func(rule RuleName, err error)

// Optimizer transforms the memo rooted at an analyzed statement into the
// cheapest physical plan that delivers the statement's required properties.
// An Optimizer is used for a single statement compilation and is not safe
// for concurrent use.
type Optimizer struct {
	ctx      context.Context
	settings Settings
	mem      memo.Memo
	sb       *memo.StatisticsBuilder
	rules    RuleSet
	coster   Coster

	// stack is the LIFO task scheduler. Depth-first task order is what makes
	// branch-and-bound pruning effective: complete plans are costed early,
	// tightening the upper bound before most alternatives are examined.
	stack []task

	// deadline bounds the search when a compile budget is set. It is checked
	// between tasks, never inside one.
	deadline time.Time

	matchedRule MatchedRuleFunc
	appliedRule AppliedRuleFunc
	ruleFailure RuleFailureFunc
}

// Init prepares the optimizer for one statement compilation. The caller
// populates the memo through Memo and SetRoot before calling Optimize.
func (o *Optimizer) Init(
	ctx context.Context, md *opt.Metadata, provider cat.StatisticsProvider, settings Settings,
) {
	*o = Optimizer{
		ctx:      logtags.AddTag(ctx, "opt", nil),
		settings: settings,
		sb:       memo.NewStatisticsBuilder(md, provider),
		rules:    DefaultRules(),
	}
	o.coster = &coster{settings: &o.settings}
	o.mem.Init(md)
}

// Memo returns the memo being optimized.
func (o *Optimizer) Memo() *memo.Memo { return &o.mem }

// Settings returns the session settings the search runs under.
func (o *Optimizer) Settings() *Settings { return &o.settings }

// SetCoster replaces the cost model. Used by tests to verify memoization
// counts and to perturb plan choice.
func (o *Optimizer) SetCoster(c Coster) { o.coster = c }

// SetRules replaces the rule set. Used by tests to inject misbehaving rules.
func (o *Optimizer) SetRules(rs RuleSet) { o.rules = rs }

// NotifyOnMatchedRule sets a callback invoked each time a rule matches an
// expression. If the callback returns false, the rule is not applied.
func (o *Optimizer) NotifyOnMatchedRule(fn MatchedRuleFunc) { o.matchedRule = fn }

// NotifyOnAppliedRule sets a callback invoked after each rule application.
func (o *Optimizer) NotifyOnAppliedRule(fn AppliedRuleFunc) { o.appliedRule = fn }

// NotifyOnRuleFailure sets a callback invoked when a rule panics.
func (o *Optimizer) NotifyOnRuleFailure(fn RuleFailureFunc) { o.ruleFailure = fn }

// Optimize runs the search and returns the cheapest plan rooted at the
// memo's root group that delivers the required properties.
//
// If the compile budget expires mid-search, the best complete plan found so
// far is returned; ErrBudgetExceeded is returned only when no complete plan
// exists yet. ErrNoPlan is returned when the search completes without
// producing any plan satisfying the requirement.
func (o *Optimizer) Optimize(required physical.Props) (_ *Plan, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = opt.CatchOptimizerError(r)
		}
	}()

	root := o.mem.Root()
	if root == 0 {
		return nil, errors.AssertionFailedf("memo root not set")
	}
	if o.settings.CompileBudget > 0 {
		o.deadline = time.Now().Add(o.settings.CompileBudget)
	}

	reqID := o.mem.InternPhysicalProps(required)
	o.push(&optimizeGroupTask{
		ctx:   &taskContext{required: reqID, upperBound: memo.MaxCost},
		group: root,
	})
	exhausted := o.run()

	if _, _, ok := o.mem.Winner(root, reqID); !ok {
		if exhausted {
			return nil, errors.Wrapf(ErrBudgetExceeded, "no complete plan within budget %s",
				o.settings.CompileBudget)
		}
		return nil, errors.Wrapf(ErrNoPlan, "required properties %s", required)
	}
	return o.buildPlan(root, reqID), nil
}

// applyRule fires the rule on the expression, converting a rule panic into a
// skipped rule. A failed rule may have partially inserted expressions; those
// are valid memo members and stay.
func (o *Optimizer) applyRule(rule Rule, id memo.ExprID) (added []memo.ExprID) {
	defer func() {
		if r := recover(); r != nil {
			ruleErr := opt.CatchOptimizerError(r)
			if o.ruleFailure != nil {
				o.ruleFailure(rule.Name(), ruleErr)
			}
			added = nil
		}
	}()
	return rule.Transform(o, id)
}
