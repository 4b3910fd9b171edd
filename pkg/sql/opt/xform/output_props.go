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

// deriveOutputProps derives the physical properties the expression actually
// delivers, given the properties its bound children deliver. The output may
// over-deliver relative to the requirement; the caller records both keys.
// Exchange enforcers are handled inline by the enforcement path and never
// reach here.
func (o *Optimizer) deriveOutputProps(
	e *memo.GroupExpr, required memo.PhysicalPropsID, childProvided []memo.PhysicalPropsID,
) memo.PhysicalPropsID {
	m := &o.mem
	child := func(i int) physical.Props { return m.LookupPhysicalProps(childProvided[i]) }

	switch e.Op {
	case opt.PhysicalScanOp:
		return m.InternPhysicalProps(o.scanOutputProps(e.Private.(*memo.ScanPrivate)))

	case opt.PhysicalSelectOp, opt.PhysicalLimitOp:
		return childProvided[0]

	case opt.PhysicalProjectOp:
		p := e.Private.(*memo.ProjectPrivate)
		props := child(0)
		// Properties keyed on columns the projection drops no longer hold.
		if !props.Ordering.ColSet().SubsetOf(p.Cols) {
			props.Ordering = nil
		}
		if props.Distribution.Type == physical.Hashed &&
			!props.Distribution.Columns.ToSet().SubsetOf(p.Cols) {
			props.Distribution = physical.Distribution{Type: physical.RoundRobin}
		}
		return m.InternPhysicalProps(props)

	case opt.HashJoinOp, opt.HashAggOp:
		// Probe-side placement survives; hash table iteration order is
		// arbitrary, so no ordering does. A hashed placement keyed on columns
		// the operator no longer outputs degrades to round-robin.
		dist := child(0).Distribution
		if dist.Type == physical.Hashed &&
			!dist.Columns.ToSet().SubsetOf(m.OutputCols(e.Group())) {
			dist = physical.Distribution{Type: physical.RoundRobin}
		}
		return m.InternPhysicalProps(physical.Props{Distribution: dist})

	case opt.PhysicalSortOp:
		return m.InternPhysicalProps(physical.Props{
			Distribution: child(0).Distribution,
			Ordering:     e.Private.(*memo.SortPrivate).Ordering,
		})

	case opt.PhysicalUnionOp:
		if !e.Private.(*memo.SetPrivate).All {
			// Children were gathered for de-duplication.
			return m.InternPhysicalProps(physical.MakeGather())
		}
		return m.InternPhysicalProps(physical.Props{
			Distribution: physical.Distribution{Type: physical.RoundRobin},
		})

	case opt.PhysicalWindowOp:
		// Window computation preserves its input's placement and order.
		return childProvided[0]

	case opt.PhysicalTableFuncOp:
		return m.InternPhysicalProps(physical.Props{
			Distribution: physical.Distribution{Type: physical.RoundRobin},
		})
	}

	panic(errors.AssertionFailedf("no output property derivation for operator %v", e.Op))
}

// scanOutputProps returns a scan's delivered properties: hashed on the
// table's distribution key when the scan projects all of its columns,
// otherwise round-robin.
func (o *Optimizer) scanOutputProps(p *memo.ScanPrivate) physical.Props {
	md := o.mem.Metadata()
	tab := md.Table(p.Table)
	ords := tab.DistributionOrdinals()
	if len(ords) == 0 {
		return physical.Props{Distribution: physical.Distribution{Type: physical.RoundRobin}}
	}
	cols := make(opt.ColList, len(ords))
	for i, ord := range ords {
		cols[i] = md.TableColumn(p.Table, ord)
	}
	if !cols.ToSet().SubsetOf(p.Cols) {
		return physical.Props{Distribution: physical.Distribution{Type: physical.RoundRobin}}
	}
	return physical.Props{Distribution: physical.Distribution{Type: physical.Hashed, Columns: cols}}
}
