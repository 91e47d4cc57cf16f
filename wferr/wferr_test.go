// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wferr

import (
	"testing"

	"github.com/cpmech/gosl/chk"
)

func Test_failure_tagging(tst *testing.T) {

	chk.PrintTitle("failure_tagging. reason, residual, terminating surface")

	f := New(StopMiss, "residual %g mm exceeds tol", 0.42).WithResidual(0.42)
	if f.Reason() != StopMiss {
		tst.Errorf("expected StopMiss, got %v", f.Reason())
	}
	mm, ok := f.Residual()
	chk.Scalar(tst, "residual", 1e-15, mm, 0.42)
	if !ok {
		tst.Error("expected residual to be set")
	}

	f2 := New(EvalUnreachable, "blocked").WithTerminatingSurface(3, "stop")
	idx, kind, ok2 := f2.TerminatingSurface()
	if !ok2 || idx != 3 || kind != "stop" {
		tst.Errorf("unexpected terminating surface: %d %q %v", idx, kind, ok2)
	}

	if f.Error() == "" {
		tst.Error("expected non-empty error string")
	}
}

func Test_reason_string(tst *testing.T) {
	chk.PrintTitle("reason_string. every reason has a name")
	for r := InvalidInput; r <= Cancelled; r++ {
		if r.String() == "unknown" {
			tst.Errorf("reason %d missing a name", r)
		}
	}
}
