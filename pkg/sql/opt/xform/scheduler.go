// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import (
	"time"

	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
)

// task is one unit of search work. Tasks may push further tasks, including
// themselves: a task that needs a child group optimized first pushes its own
// continuation and then the child's task, so the child runs first under the
// LIFO discipline.
type task interface {
	execute(o *Optimizer)
}

// taskContext is the optimization goal shared by the tasks spawned for one
// (group, required property) pair: the property to satisfy and the running
// branch-and-bound upper bound. The bound is shared by pointer so that a
// complete plan costed by one task immediately tightens the bound seen by
// its siblings.
type taskContext struct {
	required   memo.PhysicalPropsID
	upperBound memo.Cost
}

func (o *Optimizer) push(t task) {
	o.stack = append(o.stack, t)
}

// run drains the task stack. It returns true if the search stopped because
// the compile budget expired, with tasks still pending.
func (o *Optimizer) run() (exhausted bool) {
	for len(o.stack) > 0 {
		if err := o.ctx.Err(); err != nil {
			panic(err)
		}
		if !o.deadline.IsZero() && time.Now().After(o.deadline) {
			return true
		}
		t := o.stack[len(o.stack)-1]
		o.stack = o.stack[:len(o.stack)-1]
		t.execute(o)
	}
	return false
}
