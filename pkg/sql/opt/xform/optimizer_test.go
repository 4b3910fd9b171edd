// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
	"github.com/keplerdb/kepler/pkg/sql/opt/props/physical"
	"github.com/keplerdb/kepler/pkg/sql/opt/testutils/testcat"
)

// testOpt bundles an optimizer over a test catalog. Tables are registered in
// order, so their columns get metadata ids 1..n left to right.
type testOpt struct {
	o   *Optimizer
	md  *opt.Metadata
	ids map[string]opt.TableID
}

func newTestOpt(t *testing.T, settings Settings, tables ...*testcat.Table) *testOpt {
	t.Helper()
	c := testcat.New()
	md := &opt.Metadata{}
	ids := make(map[string]opt.TableID)
	for _, tab := range tables {
		c.AddTable(tab)
		ids[tab.Name()] = md.AddTable(tab)
	}
	o := &Optimizer{}
	o.Init(context.Background(), md, c, settings)
	return &testOpt{o: o, md: md, ids: ids}
}

// scanAll inserts a logical scan of all of the table's columns.
func (to *testOpt) scanAll(name string) memo.ExprID {
	tid := to.ids[name]
	return to.o.Memo().Insert(memo.RelExpr{
		Op:      opt.ScanOp,
		Private: &memo.ScanPrivate{Table: tid, Cols: to.md.TableColumns(tid)},
	})
}

func (to *testOpt) optimize(t *testing.T, root memo.GroupID, required physical.Props) *Plan {
	t.Helper()
	to.o.Memo().SetRoot(root)
	plan, err := to.o.Optimize(required)
	require.NoError(t, err)
	require.NotNil(t, plan)
	return plan
}

// joinFixture builds big(a,b) JOIN small(c,d) ON a = c. The big table's
// distribution column is configurable so tests can place it on or off the
// join key. Columns: a=1, b=2, c=3, d=4.
func joinFixture(
	t *testing.T, settings Settings, bigDistOrd int, smallRows float64, hint memo.JoinHint,
) (*testOpt, memo.ExprID) {
	t.Helper()
	big := testcat.NewTable("big", "a", "b").
		WithDistribution(bigDistOrd).
		WithRowCount(1e6).
		WithUniformStats(1e6)
	small := testcat.NewTable("small", "c", "d").
		WithRowCount(smallRows).
		WithUniformStats(smallRows)
	to := newTestOpt(t, settings, big, small)

	left := to.scanAll("big")
	right := to.scanAll("small")
	join := to.o.Memo().Insert(memo.RelExpr{
		Op:       opt.JoinOp,
		Children: []memo.GroupID{left.Group, right.Group},
		Private: &memo.JoinPrivate{
			JoinType:    memo.InnerJoin,
			LeftEqCols:  opt.ColList{1},
			RightEqCols: opt.ColList{3},
			Hint:        hint,
		},
	})
	return to, join
}

func TestBroadcastJoin(t *testing.T) {
	// The big side is distributed on b, not the join key, so a shuffle would
	// move all million rows. Broadcasting the small side moves a thousand.
	to, join := joinFixture(t, DefaultSettings(), 1 /* b */, 1000, memo.NoHint)
	plan := to.optimize(t, join.Group, physical.MakeGather())

	s := plan.String()
	require.Contains(t, s, "hash-join (inner)")
	require.Contains(t, s, "exchange (broadcast)")
	require.Contains(t, s, "exchange (gather)")
	require.Equal(t, memo.CostFlags(0), plan.Cost.Flags)
}

func TestShuffleJoinColocated(t *testing.T) {
	// The big side is already hashed on the join key; only the small side
	// needs to move, and shuffling it is cheaper than replicating it.
	to, join := joinFixture(t, DefaultSettings(), 0 /* a */, 1000, memo.NoHint)
	plan := to.optimize(t, join.Group, physical.MakeGather())

	s := plan.String()
	require.Contains(t, s, "exchange (hashed(3))")
	require.NotContains(t, s, "broadcast")
}

// broadcastedScans returns the tables of the scans feeding each broadcast
// exchange in the plan.
func broadcastedScans(n *PlanNode) []opt.TableID {
	var tabs []opt.TableID
	if n.Op == opt.ExchangeOp &&
		n.Private.(*memo.ExchangePrivate).Target.Type == physical.Broadcast {
		for s := n; ; s = s.Children[0] {
			if s.Op == opt.PhysicalScanOp {
				tabs = append(tabs, s.Private.(*memo.ScanPrivate).Table)
				break
			}
			if len(s.Children) == 0 {
				break
			}
		}
	}
	for _, c := range n.Children {
		tabs = append(tabs, broadcastedScans(c)...)
	}
	return tabs
}

func TestBroadcastRowCountLimit(t *testing.T) {
	// The build side exceeds the broadcast limit, so broadcast is rejected
	// even though the probe side is poorly distributed for a shuffle. With
	// commutation off there is no other build side to replicate, so no
	// broadcast appears at all.
	settings := DefaultSettings()
	settings.JoinReorderEnabled = false
	to, join := joinFixture(t, settings, 1 /* b */, 20e6, memo.NoHint)
	plan := to.optimize(t, join.Group, physical.MakeGather())

	s := plan.String()
	require.NotContains(t, s, "broadcast")
	require.Contains(t, s, "exchange (hashed(1))")
	require.Equal(t, memo.CostFlags(0), plan.Cost.Flags)

	// With commutation on, the join may flip and broadcast the million-row
	// side instead. That is allowed; replicating the twenty-million-row
	// side is not.
	to, join = joinFixture(t, DefaultSettings(), 1 /* b */, 20e6, memo.NoHint)
	plan = to.optimize(t, join.Group, physical.MakeGather())

	require.Equal(t, memo.CostFlags(0), plan.Cost.Flags)
	for _, tab := range broadcastedScans(plan.Root) {
		require.NotEqual(t, to.ids["small"], tab)
	}
}

func TestBroadcastHint(t *testing.T) {
	// A hinted broadcast is admitted past the row count limit and its
	// penalized exchange is re-costed to zero, so no penalty flag reaches
	// the final plan.
	to, join := joinFixture(t, DefaultSettings(), 1 /* b */, 20e6, memo.BroadcastHint)
	plan := to.optimize(t, join.Group, physical.MakeGather())

	s := plan.String()
	require.Contains(t, s, "exchange (broadcast)")
	require.Equal(t, memo.CostFlags(0), plan.Cost.Flags)
}

// aggFixture builds GROUP BY g over facts(g, v) distributed on v, so the
// complete stage always needs a redistribution. Columns: g=1, v=2; the
// aggregate output is column 3.
func aggFixture(t *testing.T, settings Settings, facts *testcat.Table) (*testOpt, memo.ExprID) {
	t.Helper()
	to := newTestOpt(t, settings, facts)
	scan := to.scanAll("facts")
	agg := to.o.Memo().Insert(memo.RelExpr{
		Op:       opt.GroupByOp,
		Children: []memo.GroupID{scan.Group},
		Private: &memo.GroupByPrivate{
			GroupingCols: opt.ColList{1},
			AggCols:      opt.ColList{3},
		},
	})
	return to, agg
}

func TestAggOnePhaseHighNDV(t *testing.T) {
	// A near-unique grouping key means pre-aggregation saves nothing: the
	// partial stage emits as many rows as it reads, so paying the full
	// exchange once and aggregating in one phase is cheaper.
	facts := testcat.NewTable("facts", "g", "v").
		WithDistribution(1 /* v */).
		WithRowCount(1e6).
		WithUniformStats(1e6)
	to, agg := aggFixture(t, DefaultSettings(), facts)
	plan := to.optimize(t, agg.Group, physical.MakeGather())

	s := plan.String()
	require.Contains(t, s, "hash-agg (complete)")
	require.NotContains(t, s, "hash-agg (final)")
}

func TestAggTwoPhaseLowNDV(t *testing.T) {
	// A hundred distinct groups collapse a million rows before the network,
	// so pre-aggregating locally and exchanging a hundred rows wins.
	facts := testcat.NewTable("facts", "g", "v").
		WithDistribution(1 /* v */).
		WithRowCount(1e6).
		WithUniformStats(100)
	to, agg := aggFixture(t, DefaultSettings(), facts)
	plan := to.optimize(t, agg.Group, physical.MakeGather())

	s := plan.String()
	require.Contains(t, s, "hash-agg (partial)")
	require.Contains(t, s, "hash-agg (final)")
	require.NotContains(t, s, "hash-agg (complete)")
}

func TestAggInaccurateStatsForcesTwoPhase(t *testing.T) {
	// The input row count is a guess, so the one-phase gamble on a skewed
	// redistribution is not admitted even though its estimate looks cheaper.
	facts := testcat.NewTable("facts", "g", "v").
		WithDistribution(1 /* v */).
		WithInaccurateRowCount(1e6).
		WithUniformStats(1e6)
	to, agg := aggFixture(t, DefaultSettings(), facts)
	plan := to.optimize(t, agg.Group, physical.MakeGather())

	require.Contains(t, plan.String(), "hash-agg (final)")
}

func TestAggStagePreferenceOverride(t *testing.T) {
	settings := DefaultSettings()
	settings.AggStage = AggStageOnePhase
	facts := testcat.NewTable("facts", "g", "v").
		WithDistribution(1 /* v */).
		WithInaccurateRowCount(1e6).
		WithUniformStats(1e6)
	to, agg := aggFixture(t, settings, facts)
	plan := to.optimize(t, agg.Group, physical.MakeGather())

	s := plan.String()
	require.Contains(t, s, "hash-agg (complete)")
	require.NotContains(t, s, "hash-agg (final)")

	settings.AggStage = AggStageTwoPhase
	to, agg = aggFixture(t, settings, facts)
	plan = to.optimize(t, agg.Group, physical.MakeGather())

	s = plan.String()
	require.Contains(t, s, "hash-agg (final)")
	require.NotContains(t, s, "hash-agg (complete)")
}

// statsCheckingCoster records any expression costed before its group or one
// of its child groups has a statistics estimate.
type statsCheckingCoster struct {
	inner      Coster
	violations []string
}

func (c *statsCheckingCoster) ComputeCost(m *memo.Memo, e *memo.GroupExpr) memo.Cost {
	if m.GroupStats(e.Group()) == nil {
		c.violations = append(c.violations, fmt.Sprintf("%v: group %d", e.Op, e.Group()))
	}
	for _, ch := range e.Children {
		if m.GroupStats(ch) == nil {
			c.violations = append(c.violations, fmt.Sprintf("%v: child group %d", e.Op, ch))
		}
	}
	return c.inner.ComputeCost(m, e)
}

func TestSplitAggDerivesPartialStats(t *testing.T) {
	// The final stage of a split aggregation is costed in the group of the
	// original aggregate, but its child is a group freshly created by the
	// rule; the child's estimate must be derived before any costing reads
	// it.
	for _, stage := range []AggStagePreference{AggStageAuto, AggStageTwoPhase} {
		settings := DefaultSettings()
		settings.AggStage = stage
		facts := testcat.NewTable("facts", "g", "v").
			WithDistribution(1 /* v */).
			WithRowCount(1e6).
			WithUniformStats(100)
		to, agg := aggFixture(t, settings, facts)
		sc := &statsCheckingCoster{inner: &coster{settings: to.o.Settings()}}
		to.o.SetCoster(sc)
		plan := to.optimize(t, agg.Group, physical.MakeGather())

		require.Empty(t, sc.violations)
		require.Contains(t, plan.String(), "hash-agg (partial)")
	}
}

func TestSortGatherMerge(t *testing.T) {
	// Requiring gathered, ordered output from a distributed scan: sorting
	// each stream first and merging at the gather is the expected shape.
	tab := testcat.NewTable("t", "a", "b").
		WithDistribution(0).
		WithRowCount(1e6).
		WithUniformStats(1e6)
	to := newTestOpt(t, DefaultSettings(), tab)
	scan := to.scanAll("t")

	required := physical.Props{
		Distribution: physical.Distribution{Type: physical.Gather},
		Ordering:     opt.Ordering{opt.MakeOrderingColumn(1, false)},
	}
	plan := to.optimize(t, scan.Group, required)

	s := plan.String()
	require.Contains(t, s, "exchange (gather, merge +1)")
	require.Contains(t, s, "physical-sort (+1)")
	// The sort sits below the exchange, above the scan.
	root := plan.Root
	require.Equal(t, opt.ExchangeOp, root.Op)
	require.Equal(t, opt.PhysicalSortOp, root.Children[0].Op)
	require.Equal(t, opt.PhysicalScanOp, root.Children[0].Children[0].Op)
}

func TestLimitGathersInput(t *testing.T) {
	tab := testcat.NewTable("t", "a", "b").
		WithDistribution(0).
		WithRowCount(1e6).
		WithUniformStats(1e6)
	to := newTestOpt(t, DefaultSettings(), tab)
	scan := to.scanAll("t")
	lim := to.o.Memo().Insert(memo.RelExpr{
		Op:       opt.LimitOp,
		Children: []memo.GroupID{scan.Group},
		Private:  &memo.LimitPrivate{Limit: 10},
	})
	plan := to.optimize(t, lim.Group, physical.Min)

	root := plan.Root
	require.Equal(t, opt.PhysicalLimitOp, root.Op)
	require.Equal(t, opt.ExchangeOp, root.Children[0].Op)
	require.Equal(t, 10.0, root.RowCount)
}

// countingCoster counts scan costings to verify that a group shared by
// several parents is optimized once per required property.
type countingCoster struct {
	inner Coster
	scans int
}

func (c *countingCoster) ComputeCost(m *memo.Memo, e *memo.GroupExpr) memo.Cost {
	if e.Op == opt.PhysicalScanOp {
		c.scans++
	}
	return c.inner.ComputeCost(m, e)
}

func TestMemoizationOfSharedInput(t *testing.T) {
	// Two filters over the same scan, unioned. The scan group is reached
	// through both branches but costed for only one required property: once
	// for the initial estimate and once for the post-binding refresh.
	tab := testcat.NewTable("t", "a", "b").
		WithDistribution(0).
		WithRowCount(1e6).
		WithUniformStats(1e6)
	to := newTestOpt(t, DefaultSettings(), tab)
	cc := &countingCoster{inner: &coster{settings: to.o.Settings()}}
	to.o.SetCoster(cc)

	scan := to.scanAll("t")
	m := to.o.Memo()
	sel1 := m.Insert(memo.RelExpr{
		Op:       opt.SelectOp,
		Children: []memo.GroupID{scan.Group},
		Private:  &memo.SelectPrivate{FilterCols: opt.MakeColSet(1)},
	})
	sel2 := m.Insert(memo.RelExpr{
		Op:       opt.SelectOp,
		Children: []memo.GroupID{scan.Group},
		Private:  &memo.SelectPrivate{FilterCols: opt.MakeColSet(2)},
	})
	union := m.Insert(memo.RelExpr{
		Op:       opt.UnionOp,
		Children: []memo.GroupID{sel1.Group, sel2.Group},
		Private:  &memo.SetPrivate{All: true, OutCols: opt.MakeColSet(1, 2)},
	})

	to.optimize(t, union.Group, physical.Min)
	require.Equal(t, 2, cc.scans)
}

func TestPruningAbandonsBranch(t *testing.T) {
	// An upper bound nothing can beat: the child's search records no winner
	// and the parent abandons the assignment instead of panicking. A later
	// pass with full headroom still finds the plan.
	tab := testcat.NewTable("t", "a", "b").
		WithDistribution(0).
		WithRowCount(1000).
		WithUniformStats(1000)
	to := newTestOpt(t, DefaultSettings(), tab)
	scan := to.scanAll("t")
	sel := to.o.Memo().Insert(memo.RelExpr{
		Op:       opt.SelectOp,
		Children: []memo.GroupID{scan.Group},
		Private:  &memo.SelectPrivate{FilterCols: opt.MakeColSet(1)},
	})

	m := to.o.Memo()
	m.SetRoot(sel.Group)
	req := m.InternPhysicalProps(physical.MakeGather())
	to.o.push(&optimizeGroupTask{
		ctx:   &taskContext{required: req, upperBound: memo.Cost{C: 1e-6}},
		group: sel.Group,
	})
	require.NotPanics(t, func() { to.o.run() })

	_, _, ok := m.Winner(sel.Group, req)
	require.False(t, ok)

	plan, err := to.o.Optimize(physical.MakeGather())
	require.NoError(t, err)
	require.NotNil(t, plan)
}

// verifyWinnerCostSum recursively checks that every winner's recorded cost
// is its expression's local cost plus the winners' costs of its inputs.
func verifyWinnerCostSum(
	t *testing.T, o *Optimizer, g memo.GroupID, required memo.PhysicalPropsID,
) memo.Cost {
	m := o.Memo()
	wid, wcost, ok := m.Winner(g, required)
	require.True(t, ok, "no winner for group %d", g)
	e := m.Expr(wid)
	inputs, _ := e.InputsFor(required)

	total := o.coster.ComputeCost(m, e)
	for i, c := range e.Children {
		childReq := memo.MinPhysPropsID
		if i < len(inputs) {
			childReq = inputs[i]
		}
		total.Add(verifyWinnerCostSum(t, o, c, childReq))
	}
	require.False(t, wcost.Less(total) || total.Less(wcost),
		"winner cost %s differs from recomputed %s for group %d", wcost, total, g)
	return wcost
}

func TestWinnerCostIsSumOfParts(t *testing.T) {
	to, join := joinFixture(t, DefaultSettings(), 0 /* a */, 1000, memo.NoHint)
	plan := to.optimize(t, join.Group, physical.MakeGather())

	m := to.o.Memo()
	req := m.InternPhysicalProps(physical.MakeGather())
	root := verifyWinnerCostSum(t, to.o, m.Root(), req)
	require.Equal(t, plan.Cost, root)
}

func TestDeterministicPlans(t *testing.T) {
	build := func() (*testOpt, memo.ExprID) {
		return joinFixture(t, DefaultSettings(), 1, 1000, memo.NoHint)
	}
	to1, join1 := build()
	to2, join2 := build()
	plan1 := to1.optimize(t, join1.Group, physical.MakeGather())
	plan2 := to2.optimize(t, join2.Group, physical.MakeGather())
	require.Equal(t, plan1.String(), plan2.String())
	require.Equal(t, plan1.Cost, plan2.Cost)
}

// faultyRule panics on every scan it is offered.
type faultyRule struct{}

func (faultyRule) Name() RuleName { return "faulty-rule" }

func (faultyRule) Matches(o *Optimizer, e *memo.GroupExpr) bool {
	return e.Op == opt.ScanOp
}

func (faultyRule) Transform(o *Optimizer, id memo.ExprID) []memo.ExprID {
	panic(errors.New("injected failure"))
}

func TestRuleFailureSkipsRule(t *testing.T) {
	tab := testcat.NewTable("t", "a", "b").
		WithDistribution(0).
		WithRowCount(1000).
		WithUniformStats(1000)
	to := newTestOpt(t, DefaultSettings(), tab)
	to.o.SetRules(NewRuleSet(faultyRule{}, implementScanRule{}))

	var failures []RuleName
	to.o.NotifyOnRuleFailure(func(rule RuleName, err error) {
		failures = append(failures, rule)
		require.ErrorContains(t, err, "injected failure")
	})

	scan := to.scanAll("t")
	plan := to.optimize(t, scan.Group, physical.Min)

	require.Equal(t, []RuleName{"faulty-rule"}, failures)
	require.Equal(t, opt.PhysicalScanOp, plan.Root.Op)
}

func TestNoPlan(t *testing.T) {
	tab := testcat.NewTable("t", "a").WithRowCount(100)
	to := newTestOpt(t, DefaultSettings(), tab)
	// Veto every rule: no physical alternative is ever produced.
	to.o.NotifyOnMatchedRule(func(RuleName) bool { return false })

	scan := to.scanAll("t")
	to.o.Memo().SetRoot(scan.Group)
	_, err := to.o.Optimize(physical.Min)
	require.ErrorIs(t, err, ErrNoPlan)
}

func TestCompileBudget(t *testing.T) {
	settings := DefaultSettings()
	settings.CompileBudget = time.Nanosecond
	tab := testcat.NewTable("t", "a").WithRowCount(100)
	to := newTestOpt(t, settings, tab)

	scan := to.scanAll("t")
	to.o.Memo().SetRoot(scan.Group)
	_, err := to.o.Optimize(physical.Min)
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestCanceledContext(t *testing.T) {
	tab := testcat.NewTable("t", "a").WithRowCount(100)
	c := testcat.New()
	c.AddTable(tab)
	md := &opt.Metadata{}
	tid := md.AddTable(tab)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := &Optimizer{}
	o.Init(ctx, md, c, DefaultSettings())
	scan := o.Memo().Insert(memo.RelExpr{
		Op:      opt.ScanOp,
		Private: &memo.ScanPrivate{Table: tid, Cols: opt.MakeColSet(1)},
	})
	o.Memo().SetRoot(scan.Group)
	_, err := o.Optimize(physical.Min)
	require.ErrorIs(t, err, context.Canceled)
}
