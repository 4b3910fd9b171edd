// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import (
	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
)

// optimizeGroupTask optimizes one group under one required property. On
// first visit it schedules statistics derivation and rule application for
// the group; on every visit it schedules costing of the group's physical
// expressions under the required property. A group already holding a winner
// for the property is done: that early return is the memoization that keeps
// the search polynomial.
type optimizeGroupTask struct {
	ctx   *taskContext
	group memo.GroupID
}

func (t *optimizeGroupTask) execute(o *Optimizer) {
	m := &o.mem
	if _, _, ok := m.Winner(t.group, t.ctx.required); ok {
		return
	}

	// Costing tasks are pushed first so they run last, after the exploration
	// below has filled the group with alternatives. Physical expressions
	// inserted by rules get their costing tasks from the rule task itself.
	// Enforcers reference their own group and are costed inline by the
	// enforcement path, never scheduled here.
	for i, n := 0, m.ExprCount(t.group); i < n; i++ {
		id := memo.ExprID{Group: t.group, Expr: i}
		e := m.Expr(id)
		if e.Unused() || !e.Op.IsPhysical() {
			continue
		}
		if len(e.Children) == 1 && e.Children[0] == t.group {
			continue
		}
		o.push(newEnforceAndCostTask(t.ctx, id))
	}

	if !m.GroupExplored(t.group) {
		m.SetGroupExplored(t.group)
		for i, n := 0, m.ExprCount(t.group); i < n; i++ {
			id := memo.ExprID{Group: t.group, Expr: i}
			e := m.Expr(id)
			if e.Unused() || !e.Op.IsLogical() {
				continue
			}
			for r := 0; r < o.rules.Count(); r++ {
				if e.RuleApplied(r) {
					continue
				}
				o.push(&applyRuleTask{ctx: t.ctx, expr: id, rule: r})
			}
		}
		// Statistics derivation is pushed last so it runs first: both rule
		// admission checks and local costing read the group's estimate.
		if m.GroupStats(t.group) == nil {
			o.push(&deriveStatsTask{group: t.group})
		}
	}
}
