// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package xform

import "github.com/cockroachdb/errors"

// ErrNoPlan is reported when the search completes without recording any
// winner for the root requirement: no combination of rules and enforcers
// produced a physical plan. Pruned subtrees are indistinguishable from
// missing ones until the whole search completes, so this is only raised at
// the very end.
var ErrNoPlan = errors.New("no physical plan found for query")

// ErrBudgetExceeded is reported when the compile budget expires before any
// complete plan has been found. If a plan exists when the budget expires,
// the search stops and returns it instead.
var ErrBudgetExceeded = errors.New("optimizer compile budget exceeded")
