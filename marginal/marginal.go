// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package marginal implements the marginal-ray solver: the core,
// hardest-engineering piece of the calculator. Given a pupil coordinate it
// produces a ray that intersects the stop plane at the requested
// stop-local target, across three regimes — finite-conjugate direction
// search, infinite-conjugate origin search with a Jacobian polish, and a
// best-effort entrance-pupil fallback for vignetted fields — tracked
// through an explicit solver state machine.
package marginal

import (
	"math"
	"math/rand"

	"github.com/cpmech/wavefront/chief"
	"github.com/cpmech/wavefront/field"
	"github.com/cpmech/wavefront/geom"
	"github.com/cpmech/wavefront/newton"
	"github.com/cpmech/wavefront/surface"
	"github.com/cpmech/wavefront/tracer"
	"github.com/cpmech/wavefront/wferr"
)

// PupilMode selects how the infinite-conjugate marginal ray is generated.
type PupilMode int

const (
	StopMode PupilMode = iota
	EntranceMode
)

// State names the solver's state machine, carried in Result for
// diagnostics.
type State int

const (
	Seeded State = iota
	StopSearch
	StopHit
	StopUnreachableSt
	Polish
	Accepted
	StopMissSt
	TraceEval
	OK
	EvalUnreachableSt
	StopCenterSearch
)

// Options configures one GenerateMarginalRay call.
type Options struct {
	Fast             bool
	IsReference      bool
	RelaxStopMissTol bool
	Mode             PupilMode
	NeighborHints    []geom.Vec3 // origin deltas, infinite mode only

	// ChiefOrigin, when non-nil, is the already-solved chief-ray launch
	// point for this field, used as the entrance-pupil origin instead of
	// searching for one.
	ChiefOrigin *geom.Vec3
	// EntranceScale overrides the entrance-mode pupil scale radius; 0 means
	// use the designed stop semi-diameter.
	EntranceScale float64
}

// Result is the per-sample outcome.
type Result struct {
	Ray         tracer.Ray
	Path        tracer.RayPath
	Valid       bool
	Failure     *wferr.Failure
	OriginDelta geom.Vec3 // origin - geometric guess, for neighbor-continuity hints
	State       State
}

// Solver holds the registry/tracer collaborators and the per-field caches
// (stop-center override, entrance pupil config).
type Solver struct {
	reg *surface.Registry
	tr  tracer.Tracer

	stopCenterOverride map[field.Key]geom.Vec3
	entranceCfg        map[field.Key]*entranceConfig
	rng                *rand.Rand
}

// New builds a marginal-ray Solver.
func New(reg *surface.Registry, tr tracer.Tracer) *Solver {
	return &Solver{
		reg:                reg,
		tr:                 tr,
		stopCenterOverride: make(map[field.Key]geom.Vec3),
		entranceCfg:        make(map[field.Key]*entranceConfig),
		rng:                rand.New(rand.NewSource(20240101)), // fixed seed for bit-identical reruns
	}
}

// InvalidateField drops per-field caches on mode switch or surface-table
// mutation.
func (s *Solver) InvalidateField(f field.Setting) {
	delete(s.stopCenterOverride, f.Key())
	delete(s.entranceCfg, f.Key())
}

// GenerateMarginalRay produces a marginal ray for pupil coordinate (px,py).
func (s *Solver) GenerateMarginalRay(px, py float64, f field.Setting, lambda float64, opt Options) Result {
	rho := math.Hypot(px, py)
	if rho > 1.0+1e-9 {
		return Result{Valid: false, Failure: wferr.New(wferr.InvalidInput, "pupil coordinate (%.4f,%.4f) outside unit pupil", px, py)}
	}
	if !f.Infinite() {
		return s.finite(px, py, rho, f, lambda, opt)
	}
	if opt.Mode == EntranceMode {
		return s.entrancePupil(px, py, f, lambda, opt)
	}
	return s.infiniteStop(px, py, rho, f, lambda, opt)
}

func (s *Solver) stopSurfaceIndex() int { return s.reg.SurfaceIndex(s.reg.StopIndex()) }
func (s *Solver) evalSurfaceIndex() int { return s.reg.SurfaceIndex(s.reg.EvalIndex()) }

// stopLocalHit traces ray to the stop and returns its stop-local (x,y,z)
// offset from the stop origin, and whether the stop was reached.
func (s *Solver) stopLocalHit(ray tracer.Ray) (geom.Vec3, tracer.RayPath, bool) {
	path := s.tr.Trace(ray, 1.0, s.stopSurfaceIndex())
	if !path.Reached(s.reg.StopIndex()) {
		return geom.Vec3{}, path, false
	}
	hit := path.Points[s.reg.StopIndex()+1]
	basis := s.reg.Axes(s.reg.StopIndex())
	origin := s.reg.Origin(s.reg.StopIndex())
	return basis.ToLocal(origin, hit), path, true
}

// traceToEval extends a stop-reaching path to the evaluation surface.
func (s *Solver) traceToEval(ray tracer.Ray) tracer.RayPath {
	return s.tr.Trace(ray, 1.0, s.evalSurfaceIndex())
}

func (s *Solver) targetStopPoint(px, py float64) geom.Vec3 {
	rstop := s.reg.StopSemiDiameter()
	tx, ty := px*rstop, py*rstop
	basis := s.reg.Axes(s.reg.StopIndex())
	center := s.reg.Origin(s.reg.StopIndex())
	return geom.Add(center, geom.Add(geom.Scale(tx, basis.Ex), geom.Scale(ty, basis.Ey)))
}

// effectiveStopCenter returns the cached stop-center override for this
// field, if a prior stop-center search found one, else the registry's
// nominal stop center.
func (s *Solver) effectiveStopCenter(f field.Setting) geom.Vec3 {
	if c, ok := s.stopCenterOverride[f.Key()]; ok {
		return c
	}
	return s.reg.Origin(s.reg.StopIndex())
}

// ---------------------------------------------------------------------
// finite field
// ---------------------------------------------------------------------

func (s *Solver) finite(px, py, rho float64, f field.Setting, lambda float64, opt Options) Result {
	rstop := s.reg.StopSemiDiameter()
	tx, ty := px*rstop, py*rstop
	stopBasis := s.reg.Axes(s.reg.StopIndex())
	stopCenter := s.reg.Origin(s.reg.StopIndex())
	O := f.ObjectPoint(s.reg.ObjectThickness())

	tol, gain, maxIters := 0.03, 0.70, 8
	if opt.Fast {
		tol, gain, maxIters = 0.06, 0.65, 5
	}
	maxStep := math.Max(0.5, 0.12*rstop)

	target := geom.Add(stopCenter, geom.Add(geom.Scale(tx, stopBasis.Ex), geom.Scale(ty, stopBasis.Ey)))
	dir := geom.Normalize(geom.Sub(target, O))

	var lastReached bool
	var errMag float64

	for it := 0; it < maxIters; it++ {
		ray := tracer.Ray{Origin: O, Dir: dir, Lambda: lambda}
		local, _, reached := s.stopLocalHit(ray)
		lastReached = reached
		if !reached {
			errMag = math.Inf(1)
			continue
		}
		errx, erry := local[0]-tx, local[1]-ty
		errMag = math.Hypot(errx, erry)
		if errMag <= tol {
			break
		}
		stepx, stepy := -gain*errx, -gain*erry
		stepMag := math.Hypot(stepx, stepy)
		if stepMag > maxStep {
			scale := maxStep / stepMag
			stepx, stepy = stepx*scale, stepy*scale
		}
		target = geom.Add(target, geom.Add(geom.Scale(stepx, stopBasis.Ex), geom.Scale(stepy, stopBasis.Ey)))
		dir = geom.Normalize(geom.Sub(target, O))
	}

	if !lastReached {
		return Result{Valid: false, Failure: wferr.New(wferr.StopUnreachable, "finite-field ray never reached the stop plane"), State: StopUnreachableSt}
	}

	nearRim := rho >= 0.9 && rho <= 1.01
	if errMag > 0.3 && nearRim {
		if fdir, ok := s.directionFallback(O, target, lambda); ok {
			dir = fdir
			ray := tracer.Ray{Origin: O, Dir: dir, Lambda: lambda}
			local, _, reached := s.stopLocalHit(ray)
			if reached {
				errMag = math.Hypot(local[0]-tx, local[1]-ty)
			}
		}
	}

	if errMag > stopMissTol(rho, f, opt) {
		return Result{Valid: false, Failure: wferr.New(wferr.StopMiss, "stop-local residual %.4f mm exceeds tolerance", errMag).WithResidual(errMag), State: StopMissSt}
	}

	ray := tracer.Ray{Origin: O, Dir: dir, Lambda: lambda}
	path := s.traceToEval(ray)
	if !path.Reached(s.reg.EvalIndex()) {
		return Result{Valid: false, Failure: wferr.New(wferr.EvalUnreachable, "ray reached the stop but not the evaluation surface"), State: EvalUnreachableSt}
	}
	return Result{Ray: ray, Path: path, Valid: true, State: OK}
}

// directionFallback re-derives the launch direction by falling back to the
// chief-style damped-Newton-in-stop-local-2D routine, aimed at a corrected
// target point rather than the stop center. Used for rim rays that
// converge slowly under the plain linear correction above.
func (s *Solver) directionFallback(O, target geom.Vec3, lambda float64) (geom.Vec3, bool) {
	stopBasis := s.reg.Axes(s.reg.StopIndex())
	residual := func(off newton.Vec2) newton.Vec2 {
		aim := geom.Add(target, geom.Add(geom.Scale(off[0], stopBasis.Ex), geom.Scale(off[1], stopBasis.Ey)))
		dir := geom.Normalize(geom.Sub(aim, O))
		local, _, ok := s.stopLocalHit(tracer.Ray{Origin: O, Dir: dir, Lambda: lambda})
		if !ok {
			return newton.Vec2{1e6, 1e6}
		}
		targetLocal := stopBasis.ToLocal(s.reg.Origin(s.reg.StopIndex()), target)
		return newton.Vec2{local[0] - targetLocal[0], local[1] - targetLocal[1]}
	}
	res := newton.Solve(residual, newton.Vec2{0, 0}, newton.Options{Delta: 1e-5, Damping: 0.7, Tol: 1e-6, MaxIter: 50})
	if !res.Converged {
		return geom.Vec3{}, false
	}
	aim := geom.Add(target, geom.Add(geom.Scale(res.Offset[0], stopBasis.Ex), geom.Scale(res.Offset[1], stopBasis.Ey)))
	return geom.Normalize(geom.Sub(aim, O)), true
}

// stopMissTol computes the stop-local miss tolerance, shared by both the
// finite and infinite paths' final gate.
func stopMissTol(rho float64, f field.Setting, opt Options) float64 {
	base := 0.10
	if opt.Fast {
		base = 0.12
	}
	t := base
	if rho >= 0.9 {
		t += 0.03
	}
	angle := f.AngleMagnitude()
	switch {
	case angle >= 10*math.Pi/180:
		t += 0.05
	case angle >= 2*math.Pi/180:
		t += 0.02
	}
	if opt.RelaxStopMissTol {
		t *= 2
	}
	return clamp(t, 0.06, 0.25)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ---------------------------------------------------------------------
// infinite field, stop mode
// ---------------------------------------------------------------------

func (s *Solver) infiniteStop(px, py, rho float64, f field.Setting, lambda float64, opt Options) Result {
	dir := f.Direction()
	rstop := s.reg.StopSemiDiameter()
	stopBasis := s.reg.Axes(s.reg.StopIndex())
	stopCenter := s.effectiveStopCenter(f)
	target := geom.Add(stopCenter, geom.Add(geom.Scale(px*rstop, stopBasis.Ex), geom.Scale(py*rstop, stopBasis.Ey)))
	targetLocal := stopBasis.ToLocal(s.reg.Origin(s.reg.StopIndex()), target)

	geomGuess := chief.GeometricBackProjection(dir, target, s.reg.FirstSurfaceZ())
	origin := geomGuess

	// step 1: neighbor continuity
	if len(opt.NeighborHints) > 0 {
		if opt.Fast {
			origin = geom.Add(geomGuess, clampVec(opt.NeighborHints[0], 50))
		} else {
			best := opt.NeighborHints[0]
			bestErr := math.Inf(1)
			for _, h := range opt.NeighborHints {
				trial := geom.Add(geomGuess, clampVec(h, 50))
				local, _, ok := s.stopLocalHit(tracer.Ray{Origin: trial, Dir: dir, Lambda: lambda})
				if !ok {
					continue
				}
				e := math.Hypot(local[0]-targetLocal[0], local[1]-targetLocal[1])
				if e < bestErr {
					bestErr, best = e, h
				}
			}
			origin = geom.Add(geomGuess, clampVec(best, 50))
		}
	}

	b := 50.0
	local, _, reached := s.stopLocalHit(tracer.Ray{Origin: origin, Dir: dir, Lambda: lambda})

	// step 2: recovery + stop-center-override search
	if !reached && opt.Fast {
		origin = geomGuess
		b = math.Min(200, math.Max(40, 0.5*b))
		recompute := geom.Sub(target, geom.Scale(b/dir[2], dir))
		origin = recompute
		local, _, reached = s.stopLocalHit(tracer.Ray{Origin: origin, Dir: dir, Lambda: lambda})

		if !reached && opt.IsReference && px == 0 && py == 0 {
			if override, ok := s.searchStopCenterOverride(f, dir, lambda); ok {
				s.stopCenterOverride[f.Key()] = override
				origin = chief.GeometricBackProjection(dir, override, s.reg.FirstSurfaceZ())
				local, _, reached = s.stopLocalHit(tracer.Ray{Origin: origin, Dir: dir, Lambda: lambda})
			}
		}
	}

	if !reached {
		if !opt.Fast {
			return Result{Valid: false, Failure: wferr.New(wferr.StopUnreachable, "infinite-field ray never reached the stop plane"), State: StopUnreachableSt}
		}
		// a fast-mode stop-unreachable result retries once in slow mode before failing.
		slowOpt := opt
		slowOpt.Fast = false
		return s.infiniteStop(px, py, rho, f, lambda, slowOpt)
	}

	errx, erry := local[0]-targetLocal[0], local[1]-targetLocal[1]
	errMag := math.Hypot(errx, erry)
	tightTol := 0.03
	if opt.Fast {
		tightTol = 0.08
	}
	missTol := stopMissTol(rho, f, opt)

	// step 3: gradient-descent refinement while not yet within tolerance.
	maxRefine := 20
	for it := 0; it < maxRefine && errMag > tightTol; it++ {
		if opt.Fast && errMag <= math.Max(tightTol, 0.65*missTol) {
			break
		}
		stepBudget := rho
		maxStep := 0.12
		if stepBudget >= 0.9 {
			maxStep = 0.18
		}
		maxStepMM := math.Max(0.5, s.reg.StopSemiDiameter()*maxStep)
		stepx, stepy := -errx, -erry
		stepMag := math.Hypot(stepx, stepy)
		if stepMag > maxStepMM {
			scale := maxStepMM / stepMag
			stepx, stepy = stepx*scale, stepy*scale
		}
		origin = geom.Add(origin, geom.Add(geom.Scale(stepx, stopBasis.Ex), geom.Scale(stepy, stopBasis.Ey)))
		local, _, reached = s.stopLocalHit(tracer.Ray{Origin: origin, Dir: dir, Lambda: lambda})
		if !reached {
			break
		}
		errx, erry = local[0]-targetLocal[0], local[1]-targetLocal[1]
		errMag = math.Hypot(errx, erry)
		if opt.Fast && errMag <= math.Max(tightTol, 0.65*missTol) {
			break
		}
	}

	// step 5/6: Jacobian polish (slow mode only)
	if !opt.Fast && reached {
		if rho >= 0.85 && errMag > 0.06 {
			origin, errx, erry, errMag = s.jacobianPolish(origin, dir, targetLocal, lambda, 0.3)
		}
		if rho >= 0.75 && errMag > missTol/2 && errMag < missTol {
			origin, errx, erry, errMag = s.nearThresholdPolish(origin, dir, targetLocal, lambda, rho)
		}
	}

	delta := geom.Sub(origin, geomGuess)

	if rho <= 1.0 && errMag > missTol {
		return Result{Valid: false, Failure: wferr.New(wferr.StopMiss, "stop-local residual %.4f mm exceeds tolerance %.4f mm", errMag, missTol).WithResidual(errMag), OriginDelta: delta, State: StopMissSt}
	}

	ray := tracer.Ray{Origin: origin, Dir: dir, Lambda: lambda}
	path := s.traceToEval(ray)
	if !path.Reached(s.reg.EvalIndex()) {
		return Result{Valid: false, Failure: wferr.New(wferr.EvalUnreachable, "ray reached the stop but not the evaluation surface"), OriginDelta: delta, State: EvalUnreachableSt}
	}
	return Result{Ray: ray, Path: path, Valid: true, OriginDelta: delta, State: OK}
}

func clampVec(v geom.Vec3, maxNorm float64) geom.Vec3 {
	n := geom.Norm(v)
	if n <= maxNorm || n == 0 {
		return v
	}
	return geom.Scale(maxNorm/n, v)
}

// jacobianPolish takes a damped-least-squares Newton step on the
// origin-local (x,y) offset with backtracking line search over scales
// {1,.7,.5,.3,.15}.
func (s *Solver) jacobianPolish(origin, dir geom.Vec3, targetLocal geom.Vec3, lambda, delta float64) (geom.Vec3, float64, float64, float64) {
	base := origin
	residual := func(off newton.Vec2) newton.Vec2 {
		trial := geom.Add(base, geom.Vec3{off[0], off[1], 0})
		local, _, ok := s.stopLocalHit(tracer.Ray{Origin: trial, Dir: dir, Lambda: lambda})
		if !ok {
			return newton.Vec2{1e6, 1e6}
		}
		return newton.Vec2{local[0] - targetLocal[0], local[1] - targetLocal[1]}
	}
	res := newton.Solve(residual, newton.Vec2{0, 0}, newton.Options{
		Delta: delta, Tol: 1e-9, MaxIter: 1, Lambda: 1e-3,
		LineSearch: []float64{1, .7, .5, .3, .15},
	})
	newOrigin := geom.Add(base, geom.Vec3{res.Offset[0], res.Offset[1], 0})
	return newOrigin, res.Residual[0], res.Residual[1], math.Hypot(res.Residual[0], res.Residual[1])
}

// nearThresholdPolish runs repeated Jacobian steps with shrinking delta,
// then an optional bounded multi-start.
func (s *Solver) nearThresholdPolish(origin, dir geom.Vec3, targetLocal geom.Vec3, lambda, rho float64) (geom.Vec3, float64, float64, float64) {
	delta := math.Max(0.3, 0.02*s.reg.StopSemiDiameter())
	var ex, ey, mag float64
	for it := 0; it < 12; it++ {
		origin, ex, ey, mag = s.jacobianPolish(origin, dir, targetLocal, lambda, delta)
		delta = math.Max(0.03, delta*0.85)
		if mag < 1e-6 {
			break
		}
	}
	// bounded multi-start: perturb the origin by 8 offsets and keep the best.
	offsetMag := math.Min(2.0, math.Max(0.6, 0.035*s.reg.StopSemiDiameter()))
	bestOrigin, bestEx, bestEy, bestMag := origin, ex, ey, mag
	for k := 0; k < 8; k++ {
		angle := 2 * math.Pi * float64(k) / 8
		trial := geom.Add(origin, geom.Vec3{offsetMag * math.Cos(angle), offsetMag * math.Sin(angle), 0})
		local, _, ok := s.stopLocalHit(tracer.Ray{Origin: trial, Dir: dir, Lambda: lambda})
		if !ok {
			continue
		}
		e0, e1 := local[0]-targetLocal[0], local[1]-targetLocal[1]
		m := math.Hypot(e0, e1)
		if m < bestMag {
			bestOrigin, bestEx, bestEy, bestMag = trial, e0, e1, m
		}
	}
	return bestOrigin, bestEx, bestEy, bestMag
}

// searchStopCenterOverride runs a sparse stop-local candidate grid search:
// a coarse ring of trial stop-plane targets, keeping the reachable one
// closest to the nominal stop center, tracked in a plain slice rather than
// a spatial-binning structure since the candidate set here is always a
// small fixed ring, never a spatial query.
func (s *Solver) searchStopCenterOverride(f field.Setting, dir geom.Vec3, lambda float64) (geom.Vec3, bool) {
	rstop := s.reg.StopSemiDiameter()
	fractions := []float64{0, 0.25, 0.5, 0.75, 0.9, 1.0}
	stopBasis := s.reg.Axes(s.reg.StopIndex())
	stopCenter := s.reg.Origin(s.reg.StopIndex())

	type candidate struct {
		point geom.Vec3
		dist  float64
	}
	var best *candidate
	for _, fr := range fractions {
		for _, sx := range []float64{-1, 1} {
			for _, sy := range []float64{-1, 1} {
				tx, ty := fr*rstop*sx, fr*rstop*sy
				point := geom.Add(stopCenter, geom.Add(geom.Scale(tx, stopBasis.Ex), geom.Scale(ty, stopBasis.Ey)))
				guess := chief.GeometricBackProjection(dir, point, s.reg.FirstSurfaceZ())
				if _, _, ok := s.stopLocalHit(tracer.Ray{Origin: guess, Dir: dir, Lambda: lambda}); ok {
					d := math.Hypot(tx, ty)
					if best == nil || d < best.dist {
						best = &candidate{point: point, dist: d}
					}
				}
			}
		}
	}
	if best == nil {
		return geom.Vec3{}, false
	}
	return best.point, true
}
