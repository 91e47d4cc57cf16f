// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package root implements the 1-D hybrid inverse-quadratic/secant/bisection
// root finder. No other package of this module calls it: the finite-field
// chief-ray solve and the marginal-ray rim fallback use package newton.
// Its tolerance floor is gosl/num's EPS constant.
package root

import (
	"math"

	"github.com/cpmech/gosl/num"
)

// Func is the scalar function whose root is sought.
type Func func(x float64) float64

// Result carries the root estimate plus whether it converged within tol.
type Result struct {
	X         float64
	FX        float64
	Converged bool
	Iters     int
	Bracketed bool
}

// tolFloor is the minimum meaningful tolerance, below which floating-point
// noise would make further iteration pointless.
var tolFloor = num.EPS

// Brent finds x in (near) [a,b] with f(x) within tol of zero, using the
// classic Brent (1973) combination of inverse-quadratic interpolation,
// secant, and bisection, widening the bracket by integer multiples of the
// original interval (up to 10x) when f(a) and f(b) do not bracket a root.
//
// The widening step scales *both* endpoints by the same integer
// multiplier; for intervals whose sign pattern does not simply flip with
// scale this can fail to bracket a root. Result.Bracketed is false when
// widening never found a bracket; Brent itself logs nothing.
func Brent(f Func, a, b, tol float64, maxIter int) Result {
	if tol < tolFloor {
		tol = tolFloor
	}

	fa, fb := f(a), f(b)
	bracketed := sign(fa)*sign(fb) < 0
	if !bracketed {
		a, b, fa, fb, bracketed = widen(f, a, b)
	}
	if !bracketed {
		return Result{X: 0, FX: 0, Converged: false, Bracketed: false}
	}

	if math.Abs(fa) < math.Abs(fb) {
		a, b = b, a
		fa, fb = fb, fa
	}

	c, fc := a, fa
	d, e := b-a, b-a
	mflag := true

	for it := 0; it < maxIter; it++ {
		if math.Abs(fb) <= tol {
			return Result{X: b, FX: fb, Converged: true, Iters: it, Bracketed: true}
		}
		if fa != fc && fb != fc {
			// inverse quadratic interpolation
			p1 := a * fb * fc / ((fa - fb) * (fa - fc))
			p2 := b * fa * fc / ((fb - fa) * (fb - fc))
			p3 := c * fa * fb / ((fc - fa) * (fc - fb))
			d, e = e, d
			s := p1 + p2 + p3
			d = s - b
		} else {
			// secant
			s := b - fb*(b-a)/(fb-fa)
			d, e = e, d
			d = s - b
		}

		s := b + d
		cond := needsBisection(a, b, c, d, e, s, tol, mflag)
		if cond {
			s = (a + b) / 2
			d, e = b-a, b-a
			mflag = true
		} else {
			mflag = false
		}

		fs := f(s)
		c, fc = b, fb
		if sign(fa) != sign(fs) {
			b, fb = s, fs
		} else {
			a, fa = s, fs
		}
		if math.Abs(fa) < math.Abs(fb) {
			a, b = b, a
			fa, fb = fb, fa
		}
	}
	return Result{X: b, FX: fb, Converged: math.Abs(fb) <= tol, Iters: maxIter, Bracketed: true}
}

// needsBisection implements Brent's contraction test: bisect when the
// tentative step s violates |2p| >= min(3mq - |tol1*q|, |e*q|) translated to
// the a/b/c bookkeeping used above.
func needsBisection(a, b, c, d, e, s, tol float64, mflag bool) bool {
	cond1 := !between(s, (3*a+b)/4, b)
	var cond2, cond3, cond4, cond5 bool
	if mflag {
		cond2 = math.Abs(s-b) >= math.Abs(b-c)/2
	} else {
		cond2 = math.Abs(s-b) >= math.Abs(c-d)/2
	}
	if mflag {
		cond3 = math.Abs(b-c) < tol
	}
	if !mflag {
		cond4 = math.Abs(c-d) < tol
	}
	cond5 = false
	return cond1 || cond2 || cond3 || cond4 || cond5
}

func between(s, lo, hi float64) bool {
	if lo > hi {
		lo, hi = hi, lo
	}
	return s >= lo && s <= hi
}

func sign(x float64) float64 {
	if x > 0 {
		return 1
	}
	if x < 0 {
		return -1
	}
	return 0
}

// widen implements the interval-widening fallback: scale both endpoints by
// integer multiples 2..10 of the original half-width until a sign change is
// found, or give up.
func widen(f Func, a, b float64) (na, nb, fa, fb float64, ok bool) {
	mid := (a + b) / 2
	half := (b - a) / 2
	for k := 2; k <= 10; k++ {
		na = mid - float64(k)*half
		nb = mid + float64(k)*half
		fa = f(na)
		fb = f(nb)
		if sign(fa)*sign(fb) < 0 {
			return na, nb, fa, fb, true
		}
	}
	return a, b, f(a), f(b), false
}
