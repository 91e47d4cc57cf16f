// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chief implements the chief/center-ray generator: a traceable ray
// from an object point (finite field) or angular direction (infinite
// field) that reaches the nominal stop center, with a cache of chief rays
// keyed by field (null results are never cached).
package chief

import (
	"github.com/cpmech/wavefront/field"
	"github.com/cpmech/wavefront/geom"
	"github.com/cpmech/wavefront/newton"
	"github.com/cpmech/wavefront/surface"
	"github.com/cpmech/wavefront/tracer"
)

// Tolerances for the infinite-field Newton refinement; reused for the
// finite-field fallback too.
const (
	newtonDelta   = 1e-5 // mm, central-difference step
	newtonDamping = 0.7
	newtonTol     = 1e-6 // mm
	newtonMaxIter = 50
)

// Generator produces and caches chief rays for a surface registry.
type Generator struct {
	reg         *surface.Registry
	tr          tracer.Tracer
	finiteExt   tracer.FiniteChiefSolver   // optional external collaborator
	infiniteExt tracer.InfiniteChiefSolver // optional external collaborator
	cache       map[field.Key]tracer.Ray
}

// New builds a chief-ray Generator. finiteExt/infiniteExt may be nil, in
// which case the geometric/Newton fallback is always used.
func New(reg *surface.Registry, tr tracer.Tracer, finiteExt tracer.FiniteChiefSolver, infiniteExt tracer.InfiniteChiefSolver) *Generator {
	return &Generator{reg: reg, tr: tr, finiteExt: finiteExt, infiniteExt: infiniteExt, cache: make(map[field.Key]tracer.Ray)}
}

// ChiefRay returns the cached or newly computed chief ray for the field,
// and whether generation succeeded.
func (g *Generator) ChiefRay(f field.Setting, lambda float64) (tracer.Ray, bool) {
	key := f.Key()
	if r, ok := g.cache[key]; ok {
		return r, true
	}
	var ray tracer.Ray
	var ok bool
	if f.Infinite() {
		ray, ok = g.infinite(f, lambda)
	} else {
		ray, ok = g.finite(f, lambda)
	}
	if ok {
		g.cache[key] = ray
	}
	return ray, ok
}

// InvalidateField drops any cached chief ray for the given field, used
// when a mode switch or surface-table mutation invalidates per-field state.
func (g *Generator) InvalidateField(f field.Setting) {
	delete(g.cache, f.Key())
}

// stopLocalHit traces ray to the stop and returns its stop-local (x,y)
// offset from the stop center, and whether the stop was reached at all.
func (g *Generator) stopLocalHit(ray tracer.Ray) (geom.Vec3, bool) {
	stopSurfIdx := g.reg.SurfaceIndex(g.reg.StopIndex())
	path := g.tr.Trace(ray, 1.0, stopSurfIdx)
	if !path.Reached(g.reg.StopIndex()) {
		return geom.Vec3{}, false
	}
	hit := path.Points[g.reg.StopIndex()+1]
	basis := g.reg.Axes(g.reg.StopIndex())
	origin := g.reg.Origin(g.reg.StopIndex())
	local := basis.ToLocal(origin, hit)
	return local, true
}

func (g *Generator) finite(f field.Setting, lambda float64) (tracer.Ray, bool) {
	O := f.ObjectPoint(g.reg.ObjectThickness())
	stopCenter := g.reg.Origin(g.reg.StopIndex())

	if g.finiteExt != nil {
		if dir, ok := g.finiteExt.SolveFinite(O, stopCenter, lambda); ok {
			return tracer.Ray{Origin: O, Dir: dir, Lambda: lambda}, true
		}
	}

	// fallback: aim at a virtual target point on the stop plane, corrected
	// by damped 2-D Newton on the stop-local residual.
	basis := g.reg.Axes(g.reg.StopIndex())
	residual := func(off newton.Vec2) newton.Vec2 {
		target := geom.Add(stopCenter, geom.Add(geom.Scale(off[0], basis.Ex), geom.Scale(off[1], basis.Ey)))
		dir := geom.Normalize(geom.Sub(target, O))
		ray := tracer.Ray{Origin: O, Dir: dir, Lambda: lambda}
		local, ok := g.stopLocalHit(ray)
		if !ok {
			return newton.Vec2{1e6, 1e6} // large residual: push the solver away from unreachable aim points
		}
		return newton.Vec2{local[0], local[1]}
	}
	res := newton.Solve(residual, newton.Vec2{0, 0}, newton.Options{
		Delta: newtonDelta, Damping: newtonDamping, Tol: newtonTol, MaxIter: newtonMaxIter,
	})
	if !res.Converged {
		return tracer.Ray{}, false
	}
	target := geom.Add(stopCenter, geom.Add(geom.Scale(res.Offset[0], basis.Ex), geom.Scale(res.Offset[1], basis.Ey)))
	dir := geom.Normalize(geom.Sub(target, O))
	return tracer.Ray{Origin: O, Dir: dir, Lambda: lambda}, true
}

func (g *Generator) infinite(f field.Setting, lambda float64) (tracer.Ray, bool) {
	dir := f.Direction()
	stopCenter := g.reg.Origin(g.reg.StopIndex())

	if g.infiniteExt != nil {
		if origin, ok := g.infiniteExt.SolveInfinite(dir, stopCenter, lambda); ok {
			return tracer.Ray{Origin: origin, Dir: dir, Lambda: lambda}, true
		}
	}

	init := GeometricBackProjection(dir, stopCenter, g.reg.FirstSurfaceZ())

	residual := func(off newton.Vec2) newton.Vec2 {
		origin := geom.Add(init, geom.Add(geom.Scale(off[0], geom.Vec3{1, 0, 0}), geom.Scale(off[1], geom.Vec3{0, 1, 0})))
		ray := tracer.Ray{Origin: origin, Dir: dir, Lambda: lambda}
		local, ok := g.stopLocalHit(ray)
		if !ok {
			return newton.Vec2{1e6, 1e6}
		}
		return newton.Vec2{local[0], local[1]}
	}
	res := newton.Solve(residual, newton.Vec2{0, 0}, newton.Options{
		Delta: newtonDelta, Damping: newtonDamping, Tol: newtonTol, MaxIter: newtonMaxIter,
	})
	if !res.Converged {
		return tracer.Ray{}, false
	}
	origin := geom.Add(init, geom.Vec3{res.Offset[0], res.Offset[1], 0})
	return tracer.Ray{Origin: origin, Dir: dir, Lambda: lambda}, true
}

// GeometricBackProjection implements the O_init formula shared by spec
// §4.3 (chief ray) and §4.4.2 (infinite marginal ray):
//
//	O_init = O_target − (d/d_z)·b,
//	b = max(15, 50, (O_target.z − z_first + 10))
//
// with O_target the stop-center point here (the marginal-ray solver calls
// this with its own per-sample stop-local target instead). b has no
// lateral-shift or slope term: the sideways offset of O_init is
// b·|d_xy|/d_z and is not limited.
func GeometricBackProjection(dir, target geom.Vec3, firstSurfaceZ float64) geom.Vec3 {
	if dir[2] == 0 {
		dir[2] = 1e-9 // guard against a pathological grazing direction
	}
	b := 50.0 // max(15, 50, ...) — the 50 mm floor dominates the 15 mm one
	zBudget := target[2] - firstSurfaceZ + 10
	if zBudget > b {
		b = zBudget
	}
	return geom.Sub(target, geom.Scale(b/dir[2], dir))
}
