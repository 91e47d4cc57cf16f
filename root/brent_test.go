// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package root

import (
	"math"
	"testing"

	"github.com/cpmech/gosl/chk"
)

func Test_brent_polynomial_root(tst *testing.T) {

	chk.PrintTitle("brent_polynomial_root. x^2 - 2 = 0 brackets sqrt(2)")

	f := func(x float64) float64 { return x*x - 2 }
	res := Brent(f, 0, 2, 1e-12, 100)
	if !res.Converged {
		tst.Fatal("expected convergence")
	}
	chk.Scalar(tst, "root", 1e-9, res.X, math.Sqrt2)
}

func Test_brent_cosine_root(tst *testing.T) {

	chk.PrintTitle("brent_cosine_root. cos(x) = 0 near pi/2")

	f := math.Cos
	res := Brent(f, 1, 2, 1e-12, 100)
	if !res.Converged {
		tst.Fatal("expected convergence")
	}
	chk.Scalar(tst, "root", 1e-8, res.X, math.Pi/2)
}

func Test_brent_widens_bracket(tst *testing.T) {

	chk.PrintTitle("brent_widens_bracket. root outside initial [a,b]")

	f := func(x float64) float64 { return x - 5 }
	res := Brent(f, 0, 1, 1e-10, 100)
	if !res.Bracketed {
		tst.Fatal("expected widening to find the root at x=5")
	}
	chk.Scalar(tst, "root", 1e-6, res.X, 5)
}

func Test_brent_unbracketable_returns_zero(tst *testing.T) {

	chk.PrintTitle("brent_unbracketable_returns_zero. same-sign everywhere")

	f := func(x float64) float64 { return x*x + 1 } // never crosses zero
	res := Brent(f, -1, 1, 1e-10, 50)
	if res.Bracketed {
		tst.Fatal("expected no bracket to be found")
	}
	chk.Scalar(tst, "fallback x", 1e-15, res.X, 0)
}
