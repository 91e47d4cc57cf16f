// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package newton

import (
	"testing"

	"github.com/cpmech/gosl/chk"
)

func Test_newton_linear_system(tst *testing.T) {

	chk.PrintTitle("newton_linear_system. converges on an exactly-linear residual")

	target := Vec2{2, -3}
	f := func(off Vec2) Vec2 {
		return Vec2{off[0] - target[0], off[1] - target[1]}
	}
	res := Solve(f, Vec2{0, 0}, Options{Delta: 1e-4, Damping: 1.0, Tol: 1e-9, MaxIter: 20})
	if !res.Converged {
		tst.Fatal("expected convergence on a linear residual")
	}
	chk.Vector(tst, "offset", 1e-6, res.Offset[:], target[:])
}

func Test_newton_damped_nonlinear(tst *testing.T) {

	chk.PrintTitle("newton_damped_nonlinear. mildly nonlinear residual with damping")

	f := func(off Vec2) Vec2 {
		return Vec2{off[0]*off[0] - 4, off[1] - 1}
	}
	res := Solve(f, Vec2{3, 3}, Options{Delta: 1e-4, Damping: 0.7, Tol: 1e-7, MaxIter: 100})
	if !res.Converged {
		tst.Fatal("expected convergence")
	}
	chk.Scalar(tst, "x", 1e-4, res.Offset[0], 2)
	chk.Scalar(tst, "y", 1e-4, res.Offset[1], 1)
}

func Test_newton_singular_jacobian(tst *testing.T) {

	chk.PrintTitle("newton_singular_jacobian. constant residual has zero Jacobian")

	f := func(off Vec2) Vec2 { return Vec2{1, 1} }
	res := Solve(f, Vec2{0, 0}, Options{Delta: 1e-4, Damping: 0.7, Tol: 1e-9, MaxIter: 5})
	if res.Converged {
		tst.Fatal("expected failure on a singular Jacobian")
	}
	if !res.Singular {
		tst.Error("expected Singular flag to be set")
	}
}
