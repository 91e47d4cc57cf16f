// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package refray implements the reference-ray policy: a fallback ladder
// of strategies for locating a field's reference ray — strict solve,
// relaxed tolerance, a Newton-assisted mode switch, a geometric scan,
// and finally a diagnostic failure when nothing converges.
package refray

import (
	"github.com/cpmech/wavefront/chief"
	"github.com/cpmech/wavefront/field"
	"github.com/cpmech/wavefront/geom"
	"github.com/cpmech/wavefront/marginal"
	"github.com/cpmech/wavefront/opl"
	"github.com/cpmech/wavefront/surface"
	"github.com/cpmech/wavefront/tracer"
	"github.com/cpmech/wavefront/wferr"
	"github.com/cpmech/wavefront/wflog"
)

// ForcedMode pins the infinite-field pupil mode process-wide, disabling
// auto-switching and mid-map restarts.
type ForcedMode int

const (
	AutoMode ForcedMode = iota
	ForcedStop
	ForcedEntrance
)

// Reference is the cached result of solving for a field's reference ray.
type Reference struct {
	Ray        tracer.Ray
	Path       tracer.RayPath
	OPL        float64 // µm
	RelaxedTol bool
	Mode       marginal.PupilMode
}

// Policy resolves reference rays over a fixed registry/solver set.
type Policy struct {
	reg      *surface.Registry
	tr       tracer.Tracer
	chiefGen *chief.Generator
	marg     *marginal.Solver
	oplEval  *opl.Evaluator
	forced   ForcedMode
	log      wflog.Logger

	cache map[field.Key]*Reference
}

// New builds a reference-ray Policy.
func New(reg *surface.Registry, tr tracer.Tracer, chiefGen *chief.Generator, marg *marginal.Solver, oplEval *opl.Evaluator, forced ForcedMode, log wflog.Logger) *Policy {
	return &Policy{reg: reg, tr: tr, chiefGen: chiefGen, marg: marg, oplEval: oplEval, forced: forced, log: log, cache: make(map[field.Key]*Reference)}
}

// InvalidateField drops the cached reference ray for a field, e.g. after
// a surface-table mutation or an explicit mode switch.
func (p *Policy) InvalidateField(f field.Setting) {
	delete(p.cache, f.Key())
}

// SetReferenceRay resolves and caches the reference ray for field f.
func (p *Policy) SetReferenceRay(f field.Setting, lambda float64) (*Reference, error) {
	if ref, ok := p.cache[f.Key()]; ok {
		return ref, nil
	}
	ref, err := p.solve(f, lambda)
	if err != nil {
		return nil, err
	}
	p.cache[f.Key()] = ref
	return ref, nil
}

func (p *Policy) initialMode() marginal.PupilMode {
	if p.forced == ForcedEntrance {
		return marginal.EntranceMode
	}
	return marginal.StopMode
}

// solve runs the fallback ladder of strategies, falling through to a
// diagnostic failure if nothing works.
func (p *Policy) solve(f field.Setting, lambda float64) (*Reference, error) {
	mode := p.initialMode()
	switchedOnce := false

	for {
		// step 1: strict solve.
		res := p.marg.GenerateMarginalRay(0, 0, f, lambda, marginal.Options{IsReference: true, Mode: mode})
		if res.Valid {
			return p.finish(res, mode, false, f.Infinite()), nil
		}

		// step 2: relax the stop-miss tolerance.
		relaxed := p.marg.GenerateMarginalRay(0, 0, f, lambda, marginal.Options{IsReference: true, Mode: mode, RelaxStopMissTol: true})
		if relaxed.Valid {
			return p.finish(relaxed, mode, true, f.Infinite()), nil
		}
		res = relaxed

		// step 3: infinite + stop mode + stop_unreachable -> Newton chief-ray,
		// else (if not forced) switch to entrance mode and retry from step 1.
		if f.Infinite() && mode == marginal.StopMode && res.Failure != nil && res.Failure.Reason() == wferr.StopUnreachable {
			if _, ok := p.chiefGen.ChiefRay(f, lambda); !ok {
				if p.forced == AutoMode && !switchedOnce {
					switchedOnce = true
					mode = marginal.EntranceMode
					p.chiefGen.InvalidateField(f)
					p.marg.InvalidateField(f)
					p.log.Pf("refray: switching field to entrance-pupil mode after stop_unreachable\n")
					continue
				}
			}
		}
		break
	}

	// step 4: geometric fallback scan.
	if f.Infinite() {
		if ref, ok := p.geometricFallback(f, lambda); ok {
			return ref, nil
		}
	}

	// step 5: report failure with a vignetting-boundary diagnostic.
	hint := p.vignettingBoundary(f, lambda)
	return nil, wferr.New(wferr.NoReferenceRay, "no reference ray could be found for this field").WithVignetteAngle(hint)
}

func (p *Policy) finish(res marginal.Result, mode marginal.PupilMode, relaxed, infinite bool) *Reference {
	opdUm := p.oplEval.OpticalPathLength(res.Path, res.Ray.Lambda, infinite)
	return &Reference{Ray: res.Ray, Path: res.Path, OPL: opdUm, RelaxedTol: relaxed, Mode: mode}
}

// geometricFallback scans candidate start-Z and lateral offset
// combinations, accepting the first whose trace reaches the evaluation
// surface.
func (p *Policy) geometricFallback(f field.Setting, lambda float64) (*Reference, bool) {
	dir := f.Direction()
	evalSurf := p.reg.SurfaceIndex(p.reg.EvalIndex())

	zCandidates := []float64{-25, -50, -100, -200}
	lateralCandidates := []float64{0, 1, 3, 7, 15, 30, 60, 120}
	signs := []float64{1, -1}

	for _, z := range zCandidates {
		for _, lat := range lateralCandidates {
			for _, sign := range signs {
				if lat == 0 && sign < 0 {
					continue // (0, z) tried only once
				}
				origin := geom.Vec3{lat * sign, 0, z}
				ray := tracer.Ray{Origin: origin, Dir: dir, Lambda: lambda}
				path := p.tr.Trace(ray, 1.0, evalSurf)
				if path.Reached(p.reg.EvalIndex()) {
					opdUm := p.oplEval.OpticalPathLength(path, lambda, true)
					return &Reference{Ray: ray, Path: path, OPL: opdUm, Mode: marginal.StopMode}, true
				}
			}
		}
	}
	return nil, false
}

// vignettingBoundary bisects for the largest field-angle magnitude (along
// the requested field's direction) still reaching the evaluation surface,
// capped at 8 iterations.
func (p *Policy) vignettingBoundary(f field.Setting, lambda float64) float64 {
	if !f.Infinite() {
		return 0
	}
	mag := f.AngleMagnitude()
	if mag == 0 {
		return 0
	}
	ux, uy := f.AngleX/mag, f.AngleY/mag
	reaches := func(m float64) bool {
		trial := field.Angle(ux*m, uy*m)
		res := p.marg.GenerateMarginalRay(0, 0, trial, lambda, marginal.Options{IsReference: true, Mode: marginal.StopMode, Fast: true})
		return res.Valid
	}
	if !reaches(0) {
		return 0
	}
	lo, hi := 0.0, mag
	for it := 0; it < 8; it++ {
		mid := 0.5 * (lo + hi)
		if reaches(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}
