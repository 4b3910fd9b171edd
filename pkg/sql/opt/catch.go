// Copyright 2024 The Kepler Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the /LICENSE file.

package opt

import (
	"runtime"

	"github.com/cockroachdb/errors"
)

// CatchOptimizerError converts a recovered panic value from optimizer
// functions into an error. This allows the optimizer to propagate errors
// internally as panics without adding error checks everywhere. This is only
// possible because the optimizer code does not update shared state and does
// not manipulate locks. Callers invoke recover directly in a deferred
// function and pass the result here:
//
//	defer func() {
//		if r := recover(); r != nil {
//			err = opt.CatchOptimizerError(r)
//		}
//	}()
func CatchOptimizerError(r interface{}) error {
	err, ok := r.(error)
	if !ok {
		// Not an error object. For serious internal errors e.g. in the
		// scheduler, bad goroutine state, allocator problem etc, the go runtime
		// throws a string which does not implement error. So in this case we
		// suspect we are not able to recover, and must crash.
		panic(r)
	}
	if errors.HasInterface(err, (*runtime.Error)(nil)) {
		// Convert runtime errors to assertion failures, which include stacks.
		return errors.HandleAsAssertionFailure(err)
	}
	return err
}
