// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package opl implements the optical-path-length evaluator: per-segment
// medium lookup with a mirror-carries-previous-medium rule, a validation
// gate, a non-physical-segment-length rejection, and a per-(wavelength,
// table-shape) cache of the precomputed segment media.
package opl

import (
	"math"

	"github.com/cpmech/gosl/la"

	"github.com/cpmech/wavefront/surface"
	"github.com/cpmech/wavefront/tracer"
)

// cacheKey is (wavelength, |recorded|, stop_index, eval_index): a change
// to any of these invalidates the cache automatically through a key miss.
// numSurfaces holds the recorded count too, not the full table length, so
// a change confined to non-recorded rows (object, coordinate breaks) does
// not change the key.
type cacheKey struct {
	lambda      float64
	numSurfaces int
	numRecorded int
	stopIndex   int
	evalIndex   int
}

// Evaluator computes optical_path(ray_path) for a fixed surface registry.
type Evaluator struct {
	reg     *surface.Registry
	catalog tracer.GlassCatalog
	cache   map[cacheKey][]float64 // media[i] = refractive index for segment i
}

// New builds an Evaluator. catalog resolves material names to refractive
// index; it may be nil if every surface uses an explicit manual index or no
// surface carries a material at all.
func New(reg *surface.Registry, catalog tracer.GlassCatalog) *Evaluator {
	return &Evaluator{reg: reg, catalog: catalog, cache: make(map[cacheKey][]float64)}
}

// OpticalPathLength sums the per-segment optical path along a traced ray.
// infinite reports whether this ray path belongs to an infinite-conjugate
// field, in which case accumulation starts at the stop-plane point rather
// than the ray origin, to avoid an enormous, physically meaningless
// leading segment from the object at infinity.
func (e *Evaluator) OpticalPathLength(path tracer.RayPath, lambda float64, infinite bool) float64 {
	n := e.reg.NumReachable()
	if len(path.Points) < 1+n {
		return math.NaN()
	}

	media := e.segmentMedia(lambda)
	sumThickness := e.totalThickness()

	startSeg := 0
	if infinite {
		startSeg = e.reg.StopIndex() + 1
	}

	var totalUm float64
	for i := startSeg; i < n; i++ {
		p0 := path.Points[i]
		p1 := path.Points[i+1]
		distMM := la.VecNorm([]float64{p1[0] - p0[0], p1[1] - p0[1], p1[2] - p0[2]})
		if !isFinite(distMM) {
			return math.NaN()
		}
		if distMM > 5*sumThickness {
			return math.NaN()
		}
		contribution := distMM * 1000.0 * media[i] // mm -> µm
		if !isFinite(contribution) {
			return math.NaN()
		}
		totalUm += contribution
	}
	return totalUm
}

// segmentMedia returns the cached or newly computed per-segment refractive
// indices for this wavelength and table shape.
func (e *Evaluator) segmentMedia(lambda float64) []float64 {
	key := cacheKey{
		lambda:      lambda,
		numSurfaces: e.reg.NumRecorded(),
		numRecorded: e.reg.NumRecorded(),
		stopIndex:   e.reg.StopIndex(),
		evalIndex:   e.reg.EvalIndex(),
	}
	if m, ok := e.cache[key]; ok {
		return m
	}
	m := e.computeSegmentMedia(lambda)
	e.cache[key] = m
	return m
}

// computeSegmentMedia precomputes media[i], the refractive index of
// segment i (from recorded point i to point i+1): segment 0 uses the
// object-space index (vacuum — no immersion-medium concept exists in this
// table), segment k (k≥1) uses the medium of recorded surface k−1, and a
// mirror surface carries the previous medium forward unchanged.
func (e *Evaluator) computeSegmentMedia(lambda float64) []float64 {
	n := e.reg.NumRecorded()
	media := make([]float64, n)
	if n == 0 {
		return media
	}
	media[0] = 1.0
	current := media[0]
	for k := 1; k < n; k++ {
		s := e.reg.Table(k - 1)
		if s.Kind == surface.Mirror {
			media[k] = current
			continue
		}
		nn := e.indexAt(s, lambda)
		media[k] = nn
		current = nn
	}
	return media
}

// indexAt resolves a surface's refractive index: the glass catalog first,
// then the manual override, else vacuum.
func (e *Evaluator) indexAt(s surface.Surface, lambda float64) float64 {
	if e.catalog != nil {
		if n, ok := e.catalog.RefractiveIndex(s.Material, lambda); ok {
			return n
		}
	}
	if n, ok := s.ManualIndex(); ok {
		return n
	}
	return 1.0
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// totalThickness sums the thickness column of the object row (when
// finite) and of the recorded surfaces, the "Σ thicknesses" budget used to
// reject non-physical segments.
func (e *Evaluator) totalThickness() float64 {
	sum := e.reg.ObjectThickness()
	if !isFinite(sum) {
		sum = 0
	}
	for k := 0; k < e.reg.NumRecorded(); k++ {
		sum += e.reg.Table(k).Thickness
	}
	if sum <= 0 {
		return 1.0 // degenerate single-surface table: avoid a zero budget
	}
	return sum
}
