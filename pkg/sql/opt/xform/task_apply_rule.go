// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import (
	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
)

// applyRuleTask fires one rule on one expression, then schedules follow-up
// work for the expressions the rule inserted into the same group: costing
// for fresh physical alternatives, further rule application for fresh
// logical ones. The expression's applied-rule mask guarantees each
// (expression, rule) pair fires at most once for the life of the memo.
type applyRuleTask struct {
	ctx  *taskContext
	expr memo.ExprID
	rule int
}

func (t *applyRuleTask) execute(o *Optimizer) {
	m := &o.mem
	e := m.Expr(t.expr)
	if e.Unused() || e.RuleApplied(t.rule) {
		return
	}
	e.MarkRuleApplied(t.rule)

	rule := o.rules.Rule(t.rule)
	if !rule.Matches(o, e) {
		return
	}
	if o.matchedRule != nil && !o.matchedRule(rule.Name()) {
		return
	}

	before := m.ExprCount(t.expr.Group)
	added := o.applyRule(rule, t.expr)

	// A rule's output can land in other groups too (a split aggregation's
	// partial stage gets its own group); those groups are optimized when the
	// search reaches them as children. Only this group's additions need
	// scheduling here.
	for i, n := before, m.ExprCount(t.expr.Group); i < n; i++ {
		id := memo.ExprID{Group: t.expr.Group, Expr: i}
		ne := m.Expr(id)
		if ne.Op.IsPhysical() {
			// Costing reads child statistics, and a rule-created child group
			// (a split aggregation's partial stage) has none yet: its own
			// optimizeGroupTask only runs once the costing task suspends on
			// it. Stack derivation tasks on top so they run first.
			o.push(newEnforceAndCostTask(t.ctx, id))
			for _, c := range ne.Children {
				if m.GroupStats(c) == nil {
					o.push(&deriveStatsTask{group: c})
				}
			}
			continue
		}
		for r := 0; r < o.rules.Count(); r++ {
			if ne.RuleApplied(r) {
				continue
			}
			o.push(&applyRuleTask{ctx: t.ctx, expr: id, rule: r})
		}
	}

	if o.appliedRule != nil {
		o.appliedRule(rule.Name(), t.expr.Group, len(added))
	}
}
