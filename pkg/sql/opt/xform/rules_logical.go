// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import (
	"github.com/keplerdb/kepler/pkg/sql/opt"
	"github.com/keplerdb/kepler/pkg/sql/opt/memo"
)

// joinCommuteRule produces the commuted form of an inner join. The output
// column set is unchanged, so the new expression joins the original group.
// Outer, semi and anti joins are side-sensitive and are not commuted.
type joinCommuteRule struct{}

func (joinCommuteRule) Name() RuleName { return "join-commute" }

func (joinCommuteRule) Matches(o *Optimizer, e *memo.GroupExpr) bool {
	if !o.settings.JoinReorderEnabled {
		return false
	}
	if e.Op != opt.JoinOp {
		return false
	}
	return e.Private.(*memo.JoinPrivate).JoinType == memo.InnerJoin
}

func (joinCommuteRule) Transform(o *Optimizer, id memo.ExprID) []memo.ExprID {
	e := o.mem.Expr(id)
	p := e.Private.(*memo.JoinPrivate)
	commuted := memo.JoinPrivate{
		JoinType:    p.JoinType,
		LeftEqCols:  p.RightEqCols,
		RightEqCols: p.LeftEqCols,
		Hint:        p.Hint,
		ExtraCols:   p.ExtraCols,
	}
	n := o.mem.ExprCount(id.Group)
	nid := o.mem.InsertIntoGroup(memo.RelExpr{
		Op:       opt.JoinOp,
		Children: []memo.GroupID{e.Children[1], e.Children[0]},
		Private:  &commuted,
	}, id.Group)
	if nid.Expr < n {
		// Commuting the commuted form rediscovers the original.
		return nil
	}
	return []memo.ExprID{nid}
}
