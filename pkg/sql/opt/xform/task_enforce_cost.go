// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import (
	"github.com/cockroachdb/errors"

	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
	"github.com/keplerdb/kepler/pkg/sql/opt/props/physical"
)

// enforceAndCostTask costs one physical expression under the task context's
// required property. The expression's local cost is computed first, then the
// cheapest cost of each child group under its derived required property is
// added; finally enforcers are injected if the expression's output property
// does not satisfy the requirement.
//
// The task enumerates one or more candidate assignments of required
// properties to children (a hash join can shuffle both sides or broadcast
// the build side). Within an assignment, a child group not yet optimized for
// its property suspends the task: the continuation is pushed back, the
// child's optimizeGroupTask is pushed on top of it, and curChild/prevChild
// record where to resume. A branch whose partial cost already exceeds the
// context's upper bound is abandoned.
type enforceAndCostTask struct {
	ctx  *taskContext
	expr memo.ExprID

	// candidates are the child required property assignments still to try.
	// Assignment slots are overwritten with each child's delivered property
	// as children are bound.
	candidates [][]memo.PhysicalPropsID

	// curTotal is localCost plus the winners' costs of all bound children.
	curTotal  memo.Cost
	localCost memo.Cost

	// curChild is the child currently being bound; prevChild is the last
	// child whose optimization this task suspended for. After resuming, a
	// still-missing winner at prevChild means the child was pruned under the
	// upper bound, and the assignment is abandoned.
	curChild  int
	prevChild int

	// curCand indexes the assignment being processed.
	curCand int

	childBest     []memo.ExprID
	childProvided []memo.PhysicalPropsID
}

func newEnforceAndCostTask(ctx *taskContext, expr memo.ExprID) *enforceAndCostTask {
	return &enforceAndCostTask{ctx: ctx, expr: expr, curChild: -1, prevChild: -1}
}

func (t *enforceAndCostTask) execute(o *Optimizer) {
	m := &o.mem
	e := m.Expr(t.expr)
	if e.Unused() {
		return
	}
	if t.curChild == -1 {
		// First execution; resumed continuations skip this.
		t.candidates = o.requiredInputProps(e)
		t.curChild = 0
	}

	for ; t.curCand < len(t.candidates); t.curCand++ {
		required := t.candidates[t.curCand]

		if t.curChild == 0 && t.prevChild == -1 {
			t.localCost = o.coster.ComputeCost(m, e)
			t.curTotal.Add(t.localCost)
		}

		for ; t.curChild < len(e.Children); t.curChild++ {
			childRequired := required[t.curChild]
			childGroup := e.Children[t.curChild]

			best, _, ok := m.Winner(childGroup, childRequired)
			if !ok && t.prevChild >= t.curChild {
				// The child was pruned under the upper bound we handed it;
				// no plan for this assignment.
				break
			}
			if !ok {
				t.prevChild = t.curChild
				t.optimizeChildGroup(o, childRequired, childGroup)
				return
			}

			t.childBest = append(t.childBest, best)
			provided, ok := m.Expr(best).ProvidedFor(childRequired)
			if !ok {
				panic(errors.AssertionFailedf(
					"winner of group %d has no provided property for %s",
					childGroup, m.LookupPhysicalProps(childRequired)))
			}
			t.childProvided = append(t.childProvided, provided)
			// The delivered property replaces the requirement in the
			// assignment; the output property derivation reads it there.
			required[t.curChild] = provided

			if !t.admitOneStageAgg(o, e, best) {
				break
			}
			if !t.admitBroadcast(o, e, childRequired, best) {
				break
			}

			// Re-read the winner's cost: the broadcast hint path may have
			// just overwritten it.
			childCost, _ := m.Expr(best).CostFor(childRequired)
			t.curTotal.Add(childCost)
			if t.ctx.upperBound.Less(t.curTotal) {
				break
			}
		}

		if t.curChild == len(e.Children) {
			output := o.deriveOutputProps(e, t.ctx.required, t.childProvided)
			if t.ctx.upperBound.Less(t.curTotal) {
				return
			}
			if !t.rederiveGroupStats(o, e) {
				return
			}
			t.recordCostsAndEnforce(o, e, output, required)
		}

		t.prevChild = -1
		t.curChild = 0
		t.curTotal = memo.Cost{}
		t.localCost = memo.Cost{}
		t.childBest = t.childBest[:0]
		t.childProvided = t.childProvided[:0]
	}
}

// optimizeChildGroup suspends this task behind an optimization of the child
// group. The child searches under the remaining cost headroom, so subtrees
// that cannot beat the best complete plan are cut off early.
func (t *enforceAndCostTask) optimizeChildGroup(
	o *Optimizer, childRequired memo.PhysicalPropsID, child memo.GroupID,
) {
	o.push(t)
	remaining := t.ctx.upperBound
	remaining.Sub(t.curTotal)
	o.push(&optimizeGroupTask{
		ctx:   &taskContext{required: childRequired, upperBound: remaining},
		group: child,
	})
}

// admitOneStageAgg rejects a single-stage aggregation whose estimate is not
// trustworthy: aggregating after a redistribution concentrates all work on
// the post-exchange side, and with unknown column statistics or an
// inaccurate input row count that gamble is only taken for a single grouping
// column. Partial and final stages are unaffected.
func (t *enforceAndCostTask) admitOneStageAgg(
	o *Optimizer, e *memo.GroupExpr, childBest memo.ExprID,
) bool {
	if e.Op != opt.HashAggOp {
		return true
	}
	if o.settings.AggStage == AggStageOnePhase {
		return true
	}
	agg := e.Private.(*memo.GroupByPrivate)
	child := o.mem.Expr(childBest)
	if agg.Stage != memo.AggComplete || agg.Split || child.Op != opt.ExchangeOp {
		return true
	}
	groupStats := o.mem.GroupStats(e.Group())
	childStats := o.mem.GroupStats(child.Group())
	if groupStats == nil || childStats == nil {
		return false
	}
	if childStats.RowCountMayBeInaccurate {
		return false
	}
	// Aggregate output columns never have collected statistics; only the
	// grouping columns speak to how trustworthy the estimate is.
	for _, col := range agg.GroupingCols {
		if groupStats.ColumnStatistic(col).Unknown {
			return false
		}
	}
	return len(agg.GroupingCols) <= 1
}

// admitBroadcast checks a hash join's broadcast build side against the
// broadcast row-count limit. A hinted broadcast is always admitted; if the
// cost model penalized it for being over the limit, the penalty is
// overwritten with zero cost so the hinted plan wins. An unhinted broadcast
// is rejected when the build side exceeds the limit, unless the probe side
// is so much larger that shuffling it would be worse.
func (t *enforceAndCostTask) admitBroadcast(
	o *Optimizer, e *memo.GroupExpr, childRequired memo.PhysicalPropsID, childBest memo.ExprID,
) bool {
	m := &o.mem
	if m.LookupPhysicalProps(childRequired).Distribution.Type != physical.Broadcast {
		return true
	}
	if e.Op != opt.HashJoinOp {
		return true
	}
	join := e.Private.(*memo.JoinPrivate)

	if join.Hint == memo.BroadcastHint {
		if cost, ok := m.Expr(childBest).CostFor(childRequired); ok &&
			cost.Flags&memo.HugeCostPenalty != 0 {
			m.OverwriteStateCost(childBest, childRequired, memo.Cost{})
		}
		return true
	}
	if len(join.LeftEqCols) == 0 {
		// Without equality columns the join cannot shuffle; broadcast is the
		// only strategy, so the limit does not apply.
		return true
	}

	leftStats := m.GroupStats(e.Children[0])
	rightStats := m.GroupStats(e.Children[1])
	if leftStats == nil || rightStats == nil {
		return false
	}
	parallel := float64(o.settings.DegreeOfParallelism)
	if parallel < 1 {
		parallel = 1
	}
	leftSize := leftStats.OutputSize(m.OutputCols(e.Children[0]))
	rightSize := rightStats.OutputSize(m.OutputCols(e.Children[1]))
	if leftSize < rightSize*parallel*10 && rightStats.RowCount > o.settings.BroadcastRowCountLimit {
		return false
	}
	return true
}

// rederiveGroupStats re-derives the group estimate now that the children's
// strategies are bound, enabling refinements that depend on the physical
// shape, such as runtime-filter selectivity. Local cost is recomputed from
// the refreshed estimate by recordCostsAndEnforce.
func (t *enforceAndCostTask) rederiveGroupStats(o *Optimizer, e *memo.GroupExpr) bool {
	for _, c := range e.Children {
		if o.mem.GroupStats(c) == nil {
			return false
		}
	}
	stats := o.sb.BuildExpr(&o.mem, e, o.settings.RuntimeFilterEnabled)
	o.mem.SetGroupStats(e.Group(), stats)
	return true
}

func (t *enforceAndCostTask) recordCostsAndEnforce(
	o *Optimizer, e *memo.GroupExpr, output memo.PhysicalPropsID, inputs []memo.PhysicalPropsID,
) {
	m := &o.mem

	// Swap the stale local cost for one computed against the refreshed
	// estimate.
	t.curTotal.Sub(t.localCost)
	t.localCost = o.coster.ComputeCost(m, e)
	t.curTotal.Add(t.localCost)

	// The expression satisfies its own output property, and trivially the
	// empty requirement.
	m.RecordState(t.expr, output, t.curTotal, inputs, output)
	m.RecordState(t.expr, memo.MinPhysPropsID, t.curTotal, inputs, output)

	required := t.ctx.required
	outputProps := m.LookupPhysicalProps(output)
	requiredProps := m.LookupPhysicalProps(required)

	if !outputProps.Satisfies(requiredProps) {
		enforced := t.enforceProperty(o, e, output, required)
		if enforced != required {
			// The enforcer chain over-delivers; its winner also stands in
			// for the plain requirement.
			if wid, _, ok := m.Winner(e.Group(), enforced); ok {
				m.RecordState(wid, required, t.curTotal, []memo.PhysicalPropsID{output}, enforced)
			}
		}
	} else if output != required {
		// The expression over-delivers on its own.
		m.RecordState(t.expr, required, t.curTotal, inputs, output)
	}

	if t.curTotal.Less(t.ctx.upperBound) {
		t.ctx.upperBound = t.curTotal
	}
}

// enforceProperty injects the enforcers needed to take the expression's
// output property to the context's requirement, and returns the property the
// enforcer chain delivers.
func (t *enforceAndCostTask) enforceProperty(
	o *Optimizer, e *memo.GroupExpr, output, required memo.PhysicalPropsID,
) memo.PhysicalPropsID {
	m := &o.mem
	outputProps := m.LookupPhysicalProps(output)
	requiredProps := m.LookupPhysicalProps(required)
	sortSat := outputProps.Ordering.Provides(requiredProps.Ordering)
	distSat := outputProps.Distribution.Satisfies(requiredProps.Distribution)

	switch {
	case !distSat && sortSat:
		if requiredProps.Ordering.Any() {
			return t.enforceDistribute(o, e, output)
		}
		// Redistribution destroys the order the output happens to have, so a
		// sort must be enforced anyway. The winner entry is re-keyed to the
		// empty property first: parent-child links are built on properties,
		// and a re-sorted redistribution keyed under its sorted property
		// would require itself, looping forever.
		m.ReplaceWinnerProperty(e.Group(), output, memo.MinPhysPropsID)
		return t.enforceSortAndDistribute(o, e, memo.MinPhysPropsID)

	case distSat && !sortSat:
		return t.enforceSort(o, e, output)

	case !distSat:
		return t.enforceSortAndDistribute(o, e, output)
	}
	return output
}

func (t *enforceAndCostTask) enforceDistribute(
	o *Optimizer, e *memo.GroupExpr, oldOutput memo.PhysicalPropsID,
) memo.PhysicalPropsID {
	m := &o.mem
	oldProps := m.LookupPhysicalProps(oldOutput)
	target := m.LookupPhysicalProps(t.ctx.required).Distribution

	newProps := oldProps
	newProps.Distribution = target
	newOutput := m.InternPhysicalProps(newProps)

	// A gather over sorted streams merges rather than interleaves, keeping
	// the order intact.
	var merge opt.Ordering
	if target.Type == physical.Gather && !oldProps.Ordering.Any() {
		merge = oldProps.Ordering
	}
	enforcer := m.InsertEnforcer(opt.ExchangeOp, &memo.ExchangePrivate{
		Target:        target,
		MergeOrdering: merge,
	}, e.Group())
	t.updateCostWithEnforcer(o, enforcer, oldOutput, newOutput)
	return newOutput
}

func (t *enforceAndCostTask) enforceSort(
	o *Optimizer, e *memo.GroupExpr, oldOutput memo.PhysicalPropsID,
) memo.PhysicalPropsID {
	m := &o.mem
	oldProps := m.LookupPhysicalProps(oldOutput)
	ordering := m.LookupPhysicalProps(t.ctx.required).Ordering

	newProps := oldProps
	newProps.Ordering = ordering
	newOutput := m.InternPhysicalProps(newProps)

	enforcer := m.InsertEnforcer(opt.PhysicalSortOp, &memo.SortPrivate{Ordering: ordering}, e.Group())
	t.updateCostWithEnforcer(o, enforcer, oldOutput, newOutput)
	return newOutput
}

// enforceSortAndDistribute orders the two enforcers by the requirement's
// distribution: a gather merges sorted streams, so sorting first and
// gathering with a merge is cheaper than gathering everything onto one
// stream and sorting it there. Any other redistribution destroys order and
// forces the sort on top.
func (t *enforceAndCostTask) enforceSortAndDistribute(
	o *Optimizer, e *memo.GroupExpr, output memo.PhysicalPropsID,
) memo.PhysicalPropsID {
	m := &o.mem
	if m.LookupPhysicalProps(t.ctx.required).Distribution.Type == physical.Gather {
		enforced := t.enforceSort(o, e, output)
		return t.enforceDistribute(o, e, enforced)
	}
	enforced := t.enforceDistribute(o, e, output)
	return t.enforceSort(o, e, enforced)
}

func (t *enforceAndCostTask) updateCostWithEnforcer(
	o *Optimizer, enforcer memo.ExprID, oldOutput, newOutput memo.PhysicalPropsID,
) {
	t.curTotal.Add(o.coster.ComputeCost(&o.mem, o.mem.Expr(enforcer)))
	o.mem.RecordState(enforcer, newOutput, t.curTotal,
		[]memo.PhysicalPropsID{oldOutput}, newOutput)
}
