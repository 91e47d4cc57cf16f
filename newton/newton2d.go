// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package newton implements the damped 2-D Newton iteration with a
// numerical (central-difference) Jacobian shared by the chief-ray origin
// refinement and the marginal-ray Jacobian polish: both need "take a
// 2-vector offset, measure a 2-vector stop-local residual, correct" and
// neither wants its own copy of the bookkeeping. The central-difference
// step follows gosl/num.DerivCen's convention; the 2×2 linear solve itself
// is closed-form arithmetic rather than a library call, since no call site
// exposes a small fixed-size dense solve.
package newton

import "math"

// Vec2 is a 2-D offset or residual.
type Vec2 = [2]float64

// Residual evaluates the 2-D residual at a given 2-D offset from some
// caller-defined base point.
type Residual func(offset Vec2) Vec2

// Options configures the damped Newton iteration.
type Options struct {
	Delta      float64 // central-difference step
	Damping    float64 // step damping factor
	Tol        float64 // residual-magnitude convergence tolerance
	MaxIter    int
	Lambda     float64 // Tikhonov regularization for damped least squares (0 disables)
	LineSearch []float64
}

// Result carries the converged offset, final residual, and diagnostics.
type Result struct {
	Offset    Vec2
	Residual  Vec2
	Converged bool
	Iters     int
	Singular  bool
}

// Solve runs the damped Newton iteration starting from start, evaluating f
// at each trial offset: a numerical 2×2 Jacobian (central differences),
// a damping factor, a tolerance on the residual magnitude, and a failure
// flag if |det J| falls below 1e-15.
func Solve(f Residual, start Vec2, opt Options) Result {
	x := start
	for it := 0; it < opt.MaxIter; it++ {
		r := f(x)
		mag := math.Hypot(r[0], r[1])
		if mag <= opt.Tol {
			return Result{Offset: x, Residual: r, Converged: true, Iters: it}
		}
		j, ok := jacobian(f, x, opt.Delta)
		if !ok {
			return Result{Offset: x, Residual: r, Converged: false, Iters: it, Singular: true}
		}
		step, ok := solve2x2(j, r, opt.Lambda)
		if !ok {
			return Result{Offset: x, Residual: r, Converged: false, Iters: it, Singular: true}
		}
		scales := opt.LineSearch
		if len(scales) == 0 {
			scales = []float64{opt.Damping}
		}
		bestMag := mag
		bestX := x
		improved := false
		for _, s := range scales {
			trial := Vec2{x[0] - s*step[0], x[1] - s*step[1]}
			tr := f(trial)
			tm := math.Hypot(tr[0], tr[1])
			if tm < bestMag {
				bestMag = tm
				bestX = trial
				improved = true
				break
			}
		}
		if !improved {
			// no scale improved the residual; damp once more with the
			// smallest scale and continue rather than stalling forever.
			s := scales[len(scales)-1]
			bestX = Vec2{x[0] - s*step[0], x[1] - s*step[1]}
		}
		x = bestX
	}
	r := f(x)
	return Result{Offset: x, Residual: r, Converged: math.Hypot(r[0], r[1]) <= opt.Tol, Iters: opt.MaxIter}
}

// jacobian computes the 2×2 central-difference Jacobian of f at x.
func jacobian(f Residual, x Vec2, delta float64) ([2][2]float64, bool) {
	if delta <= 0 {
		return [2][2]float64{}, false
	}
	fxp := f(Vec2{x[0] + delta, x[1]})
	fxm := f(Vec2{x[0] - delta, x[1]})
	fyp := f(Vec2{x[0], x[1] + delta})
	fym := f(Vec2{x[0], x[1] - delta})
	var j [2][2]float64
	j[0][0] = (fxp[0] - fxm[0]) / (2 * delta)
	j[1][0] = (fxp[1] - fxm[1]) / (2 * delta)
	j[0][1] = (fyp[0] - fym[0]) / (2 * delta)
	j[1][1] = (fyp[1] - fym[1]) / (2 * delta)
	return j, true
}

// solve2x2 solves J·step = r, optionally with Tikhonov damping
// (J^T J + λI) step = J^T r when lambda > 0 (a damped least-squares step).
func solve2x2(j [2][2]float64, r Vec2, lambda float64) (Vec2, bool) {
	if lambda > 0 {
		// normal equations for least squares with Tikhonov regularization
		jtj := [2][2]float64{
			{j[0][0]*j[0][0] + j[1][0]*j[1][0] + lambda, j[0][0]*j[0][1] + j[1][0]*j[1][1]},
			{j[0][1]*j[0][0] + j[1][1]*j[1][0], j[0][1]*j[0][1] + j[1][1]*j[1][1] + lambda},
		}
		jtr := Vec2{j[0][0]*r[0] + j[1][0]*r[1], j[0][1]*r[0] + j[1][1]*r[1]}
		return cramer(jtj, jtr)
	}
	return cramer(j, r)
}

func cramer(j [2][2]float64, r Vec2) (Vec2, bool) {
	det := j[0][0]*j[1][1] - j[0][1]*j[1][0]
	if math.Abs(det) < 1e-15 {
		return Vec2{}, false
	}
	x := (r[0]*j[1][1] - r[1]*j[0][1]) / det
	y := (j[0][0]*r[1] - j[1][0]*r[0]) / det
	return Vec2{x, y}, true
}
