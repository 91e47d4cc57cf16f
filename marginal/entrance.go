// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package marginal

import (
	"math"

	"github.com/cpmech/wavefront/chief"
	"github.com/cpmech/wavefront/field"
	"github.com/cpmech/wavefront/geom"
	"github.com/cpmech/wavefront/tracer"
	"github.com/cpmech/wavefront/wferr"
)

// goldenAngle is the golden-angle increment (radians) used to spread
// candidate launch-origin offsets with low discrepancy.
const goldenAngle = 2.399963229728653

// entranceConfig is the per-field entrance-pupil config, built once and
// reused for every pupil sample at that field: a launch origin O_c and an
// effective entrance radius R_eff (kept for diagnostics only — marginal
// rays in entrance mode scale by the designed stop radius, not R_eff, to
// keep a consistent pupil scale across fields).
type entranceConfig struct {
	Oc   geom.Vec3
	Reff float64
}

// getEntranceConfig returns the cached config for f, computing it on first
// use via chiefOrigin (the chief-ray launch point, if the caller already
// solved one) or, failing that, a golden-angle spiral search over a set of
// candidate launch planes.
func (s *Solver) getEntranceConfig(f field.Setting, lambda float64, chiefOrigin *geom.Vec3) *entranceConfig {
	key := f.Key()
	if cfg, ok := s.entranceCfg[key]; ok {
		return cfg
	}
	oc := s.resolveLaunchOrigin(f, lambda, chiefOrigin)
	cfg := &entranceConfig{Oc: oc, Reff: s.bisectEntranceRadius(oc, f.Direction(), lambda)}
	s.entranceCfg[key] = cfg
	return cfg
}

// resolveLaunchOrigin picks O_c: the chief-ray launch point if the caller
// has one, else a golden-angle spiral search around the geometric
// back-projection on each candidate z-plane in turn, accepting the first
// offset whose ray reaches the evaluation surface. A fixed per-plane
// candidate count is used rather than a wall-clock time budget, so the
// search — and therefore the whole map — is reproducible bit-for-bit
// regardless of machine speed; see DESIGN.md.
func (s *Solver) resolveLaunchOrigin(f field.Setting, lambda float64, chiefOrigin *geom.Vec3) geom.Vec3 {
	if chiefOrigin != nil {
		return *chiefOrigin
	}
	dir := f.Direction()
	zFirst := s.reg.FirstSurfaceZ()
	zPlanes := []float64{zFirst - 10, zFirst - 50, zFirst - 500, zFirst - 1000, zFirst - 2000, -25, -50, -100, -200}
	guess := chief.GeometricBackProjection(dir, s.reg.Origin(s.reg.StopIndex()), zFirst)

	const candidatesPerPlane = 24
	jitterMax := 50.0
	for _, z := range zPlanes {
		base := geom.Vec3{guess[0], guess[1], z}
		for k := 0; k < candidatesPerPlane; k++ {
			r := jitterMax * math.Sqrt(float64(k+1)/float64(candidatesPerPlane))
			theta := float64(k) * goldenAngle
			trial := geom.Add(base, geom.Vec3{r * math.Cos(theta), r * math.Sin(theta), 0})
			path := s.tr.Trace(tracer.Ray{Origin: trial, Dir: dir, Lambda: lambda}, 1.0, s.evalSurfaceIndex())
			if path.Reached(s.reg.EvalIndex()) {
				return trial
			}
		}
	}
	return guess
}

// bisectEntranceRadius finds R_eff by bisection along ±eₓ, ±e_y from O_c
// for the largest offset whose traced ray still reaches the evaluation
// surface, using the min of the four (or the max, if some degenerate to
// zero).
func (s *Solver) bisectEntranceRadius(oc, dir geom.Vec3, lambda float64) float64 {
	dirs := []geom.Vec3{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}}
	radii := make([]float64, 0, 4)
	for _, e := range dirs {
		reaches := func(r float64) bool {
			origin := geom.Add(oc, geom.Scale(r, e))
			path := s.tr.Trace(tracer.Ray{Origin: origin, Dir: dir, Lambda: lambda}, 1.0, s.evalSurfaceIndex())
			return path.Reached(s.reg.EvalIndex())
		}
		if !reaches(0) {
			radii = append(radii, 0)
			continue
		}
		lo, hi := 0.0, 50.0
		for reaches(hi) && hi < 1e5 {
			hi *= 2
		}
		for it := 0; it < 12; it++ {
			mid := 0.5 * (lo + hi)
			if reaches(mid) {
				lo = mid
			} else {
				hi = mid
			}
		}
		radii = append(radii, lo)
	}
	minR, maxR := radii[0], radii[0]
	for _, r := range radii {
		if r < minR {
			minR = r
		}
		if r > maxR {
			maxR = r
		}
	}
	if minR > 0 {
		return minR
	}
	return maxR
}

// entrancePupil generates the marginal ray once O_c and R_eff are resolved
// for this field: the ray at (pₓ,p_y) is a plain offset from O_c scaled by
// the designed stop radius (never by R_eff, to keep a consistent pupil
// scale across fields); there is no stop-hit gating, only an
// eval-reachability check.
func (s *Solver) entrancePupil(px, py float64, f field.Setting, lambda float64, opt Options) Result {
	cfg := s.getEntranceConfig(f, lambda, opt.ChiefOrigin)
	dir := f.Direction()
	rScale := s.reg.StopSemiDiameter()
	if opt.EntranceScale > 0 {
		rScale = opt.EntranceScale
	}
	origin := geom.Add(cfg.Oc, geom.Add(geom.Scale(px*rScale, geom.Vec3{1, 0, 0}), geom.Scale(py*rScale, geom.Vec3{0, 1, 0})))
	ray := tracer.Ray{Origin: origin, Dir: dir, Lambda: lambda}
	path := s.tr.Trace(ray, 1.0, s.evalSurfaceIndex())
	if !path.Reached(s.reg.EvalIndex()) {
		return Result{Valid: false, Failure: wferr.New(wferr.EvalUnreachable, "entrance-pupil ray did not reach the evaluation surface"), State: EvalUnreachableSt}
	}
	return Result{Ray: ray, Path: path, Valid: true, State: OK}
}
