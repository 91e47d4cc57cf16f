// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tracer declares the external collaborator interfaces (sequential
// ray tracer, glass catalog, chief-ray direction/origin solvers) that this
// module consumes but does not own: an abstraction the solver depends on
// without implementing the physics itself. It also provides a small
// deterministic synthetic tracer used by this module's own test suite,
// since no such tracer is supplied by a caller in these tests.
package tracer

import "github.com/cpmech/wavefront/geom"

// Ray is (origin, direction, wavelength). ‖Dir‖ must be 1.
type Ray struct {
	Origin geom.Vec3
	Dir    geom.Vec3
	Lambda float64 // µm
}

// RayPath is the ordered sequence of ℝ³ points the tracer reached,
// beginning at the ray origin (point 0). Length < 1+len(recorded) signals
// an aperture block or a numerical intersection failure.
type RayPath struct {
	Points  []geom.Vec3
	Blocked bool
	// BlockedAt is the recorded-surface index (0-based into the recorded
	// list) where a physical aperture rejected the ray, valid only when
	// Blocked is true.
	BlockedAt int
}

// Reached reports whether the path contains a point for every recorded
// surface up to and including index idx (0-based into the recorded list).
func (p RayPath) Reached(idx int) bool {
	return len(p.Points) >= idx+2 // point 0 is the origin
}

// Tracer is the sequential ray tracer collaborator: sequential
// intersection + Snell refraction from surface 0 to maxSurfaceIndex
// inclusive. Must be deterministic given inputs.
type Tracer interface {
	Trace(ray Ray, nEntry float64, maxSurfaceIndex int) RayPath
}

// GlassCatalog resolves a material identifier and wavelength (µm) to a
// refractive index; priority is catalog → explicit manual index → 1.0,
// with the manual-index step applied by the caller (surface.Surface's
// ManualIndex), not by the catalog itself.
type GlassCatalog interface {
	RefractiveIndex(material string, wavelengthUm float64) (n float64, ok bool)
}

// FiniteChiefSolver is the external Brent-based inversion of the
// stop-residual for a finite object point.
type FiniteChiefSolver interface {
	SolveFinite(objectPoint geom.Vec3, stopCenter geom.Vec3, lambda float64) (dir geom.Vec3, ok bool)
}

// InfiniteChiefSolver is the external origin solver for an infinite-conjugate
// chief ray.
type InfiniteChiefSolver interface {
	SolveInfinite(dir geom.Vec3, stopCenter geom.Vec3, lambda float64) (origin geom.Vec3, ok bool)
}
