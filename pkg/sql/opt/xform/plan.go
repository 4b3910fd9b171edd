// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
	"github.com/keplerdb/kepler/pkg/sql/opt/props/physical"
)

// Plan is the cheapest complete physical plan extracted from an optimized
// memo: a self-contained operator tree annotated with costs, row estimates,
// and the physical properties each node was required to and does deliver.
type Plan struct {
	Root *PlanNode

	// Cost is the estimated cost of the whole plan.
	Cost memo.Cost
}

// PlanNode is one operator of an extracted plan.
type PlanNode struct {
	Op      opt.Operator
	Private memo.Private

	// Cost is the cumulative cost of the subtree rooted here.
	Cost memo.Cost

	// RowCount is the estimated output row count.
	RowCount float64

	// Required is the property the node was optimized under; Provided is the
	// property it delivers, which may be stronger.
	Required physical.Props
	Provided physical.Props

	Children []*PlanNode
}

// buildPlan walks the winner tables from the root group downward, following
// each winner's recorded child required properties into the child groups.
func (o *Optimizer) buildPlan(g memo.GroupID, required memo.PhysicalPropsID) *Plan {
	root := o.extractNode(g, required)
	return &Plan{Root: root, Cost: root.Cost}
}

func (o *Optimizer) extractNode(g memo.GroupID, required memo.PhysicalPropsID) *PlanNode {
	m := &o.mem
	wid, wcost, ok := m.Winner(g, required)
	if !ok {
		panic(errors.AssertionFailedf("no winner for group %d under %s",
			g, m.LookupPhysicalProps(required)))
	}
	e := m.Expr(wid)
	inputs, _ := e.InputsFor(required)
	provided, _ := e.ProvidedFor(required)

	node := &PlanNode{
		Op:       e.Op,
		Private:  e.Private,
		Cost:     wcost,
		Required: m.LookupPhysicalProps(required),
		Provided: m.LookupPhysicalProps(provided),
	}
	if stats := m.GroupStats(g); stats != nil {
		node.RowCount = stats.RowCount
	}
	// An enforcer's single child is its own group under the pre-enforcement
	// property; the recursion bottoms out because each step weakens the
	// property.
	for i, c := range e.Children {
		childReq := memo.MinPhysPropsID
		if i < len(inputs) {
			childReq = inputs[i]
		}
		node.Children = append(node.Children, o.extractNode(c, childReq))
	}
	return node
}

func (p *Plan) String() string {
	var buf bytes.Buffer
	p.Root.format(&buf, 0)
	return buf.String()
}

func (n *PlanNode) format(buf *bytes.Buffer, level int) {
	buf.WriteString(strings.Repeat("  ", level))
	buf.WriteString(n.describe())
	fmt.Fprintf(buf, " [rows=%.6g cost=%s]", n.RowCount, n.Cost)
	if n.Provided.Defined() {
		fmt.Fprintf(buf, " %s", n.Provided)
	}
	buf.WriteByte('\n')
	for _, c := range n.Children {
		c.format(buf, level+1)
	}
}

// describe returns the operator name plus the payload details that
// distinguish plan shapes, e.g. the aggregation stage or exchange target.
func (n *PlanNode) describe() string {
	switch n.Op {
	case opt.PhysicalScanOp:
		return fmt.Sprintf("%v t%d", n.Op, n.Private.(*memo.ScanPrivate).Table)
	case opt.HashJoinOp:
		p := n.Private.(*memo.JoinPrivate)
		return fmt.Sprintf("%v (%v)", n.Op, p.JoinType)
	case opt.HashAggOp:
		p := n.Private.(*memo.GroupByPrivate)
		return fmt.Sprintf("%v (%v)", n.Op, p.Stage)
	case opt.ExchangeOp:
		p := n.Private.(*memo.ExchangePrivate)
		if !p.MergeOrdering.Any() {
			return fmt.Sprintf("%v (%s, merge %s)", n.Op, p.Target, p.MergeOrdering)
		}
		return fmt.Sprintf("%v (%s)", n.Op, p.Target)
	case opt.PhysicalSortOp:
		return fmt.Sprintf("%v (%s)", n.Op, n.Private.(*memo.SortPrivate).Ordering)
	}
	return n.Op.String()
}
