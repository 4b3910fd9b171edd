// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import (
	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
)

// deriveStatsTask derives the statistics estimate of a group. Estimates are
// built bottom-up, so when any child group lacks an estimate the task pushes
// its own continuation followed by a task per missing child; the children
// run first under the LIFO discipline and the continuation finds them done.
type deriveStatsTask struct {
	group memo.GroupID
}

func (t *deriveStatsTask) execute(o *Optimizer) {
	m := &o.mem
	if m.GroupStats(t.group) != nil {
		return
	}
	e := m.Expr(m.FirstExpr(t.group))

	var missing []memo.GroupID
	for _, c := range e.Children {
		if m.GroupStats(c) == nil {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		o.push(t)
		for _, c := range missing {
			o.push(&deriveStatsTask{group: c})
		}
		return
	}

	o.sb.BuildGroup(m, t.group)
}
