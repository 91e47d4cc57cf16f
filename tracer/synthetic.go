// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracer

import (
	"math"

	"github.com/cpmech/wavefront/geom"
	"github.com/cpmech/wavefront/surface"
)

// Synthetic is a minimal, deterministic sequential tracer over spherical
// and flat surfaces (conic=0, no asphere terms — those belong to the real
// tracer this package only stands in for). It exists solely to drive this
// module's own test suite end to end; production callers supply their own
// Tracer implementation.
type Synthetic struct {
	reg     *surface.Registry
	catalog GlassCatalog
}

// NewSynthetic builds a synthetic tracer over the given registry, using cat
// for refractive-index lookups (nil falls back to a built-in single-glass
// catalog good enough for the singlet test fixtures).
func NewSynthetic(reg *surface.Registry, cat GlassCatalog) *Synthetic {
	if cat == nil {
		cat = builtinCatalog{}
	}
	return &Synthetic{reg: reg, catalog: cat}
}

// builtinCatalog supplies a couple of fixed indices for test fixtures.
type builtinCatalog struct{}

func (builtinCatalog) RefractiveIndex(material string, wavelengthUm float64) (float64, bool) {
	switch material {
	case "N-BK7":
		return 1.5168, true
	case "N-SF11":
		return 1.7847, true
	case "":
		return 1.0, true
	}
	return 0, false
}

func indexAt(reg *surface.Registry, s surface.Surface, cat GlassCatalog, lambda float64) float64 {
	if n, ok := cat.RefractiveIndex(s.Material, lambda); ok {
		return n
	}
	if n, ok := s.ManualIndex(); ok {
		return n
	}
	return 1.0
}

// Trace implements Tracer.
func (t *Synthetic) Trace(ray Ray, nEntry float64, maxSurfaceIndex int) RayPath {
	path := RayPath{Points: []geom.Vec3{ray.Origin}}
	origin, dir := ray.Origin, ray.Dir
	nCurrent := nEntry

	recorded := t.reg.RecordedSurfaces()
	for rIdx, sIdx := range recorded {
		if sIdx > maxSurfaceIndex {
			break
		}
		s := t.reg.Table(rIdx)
		o := t.reg.Origin(rIdx)
		basis := t.reg.Axes(rIdx)

		hit, ok := intersect(origin, dir, o, basis, s.Curvature)
		if !ok {
			path.Blocked = true
			path.BlockedAt = rIdx
			return path
		}

		local := basis.ToLocal(o, hit)
		radial := math.Hypot(local[0], local[1])
		if s.SemiDiameter > 0 && radial > s.SemiDiameter+1e-9 {
			path.Blocked = true
			path.BlockedAt = rIdx
			return path
		}

		path.Points = append(path.Points, hit)

		normal := surfaceNormal(hit, o, basis, s.Curvature, dir)

		switch s.Kind {
		case surface.Mirror:
			dir = reflect(dir, normal)
			// medium unchanged across a mirror
		default:
			nNext := indexAt(t.reg, s, t.catalog, ray.Lambda)
			newDir, ok := refract(dir, normal, nCurrent, nNext)
			if !ok {
				path.Blocked = true
				path.BlockedAt = rIdx
				return path
			}
			dir = newDir
			nCurrent = nNext
		}
		origin = hit
	}
	return path
}

// intersect finds the ray-surface hit for a sphere (curvature c != 0,
// center = origin + (1/c)·ez) or a plane (c == 0), choosing the
// closest-ahead intersection.
func intersect(rayOrigin, rayDir, o geom.Vec3, basis geom.Basis, curvature float64) (geom.Vec3, bool) {
	if curvature == 0 {
		return geom.PlaneHit(rayOrigin, rayDir, o, basis.Ez)
	}
	radius := 1 / curvature
	center := geom.Add(o, geom.Scale(radius, basis.Ez))
	oc := geom.Sub(rayOrigin, center)
	b := geom.Dot(rayDir, oc)
	c := geom.Dot(oc, oc) - radius*radius
	disc := b*b - c
	if disc < 0 {
		return geom.Vec3{}, false
	}
	sq := math.Sqrt(disc)
	t1 := -b - sq
	t2 := -b + sq
	// prefer the smallest positive root whose hit point is on the surface's
	// physical side (near the vertex plane), matching the convention that
	// sequential optical surfaces intersect "just ahead" of the ray origin.
	for _, t := range sortedPositive(t1, t2) {
		if t > 1e-9 {
			return geom.Add(rayOrigin, geom.Scale(t, rayDir)), true
		}
	}
	return geom.Vec3{}, false
}

func sortedPositive(a, b float64) []float64 {
	if a > b {
		a, b = b, a
	}
	return []float64{a, b}
}

func surfaceNormal(hit, o geom.Vec3, basis geom.Basis, curvature float64, incident geom.Vec3) geom.Vec3 {
	var n geom.Vec3
	if curvature == 0 {
		n = basis.Ez
	} else {
		radius := 1 / curvature
		center := geom.Add(o, geom.Scale(radius, basis.Ez))
		n = geom.Normalize(geom.Sub(hit, center))
		if curvature < 0 {
			n = geom.Scale(-1, n)
		}
	}
	if geom.Dot(n, incident) > 0 {
		n = geom.Scale(-1, n)
	}
	return n
}

// refract implements vector Snell's law; ok is false on total internal
// reflection.
func refract(d, n geom.Vec3, n1, n2 float64) (geom.Vec3, bool) {
	ratio := n1 / n2
	cosI := -geom.Dot(d, n)
	sin2T := ratio * ratio * (1 - cosI*cosI)
	if sin2T > 1 {
		return geom.Vec3{}, false
	}
	cosT := math.Sqrt(1 - sin2T)
	t := geom.Add(geom.Scale(ratio, d), geom.Scale(ratio*cosI-cosT, n))
	return geom.Normalize(t), true
}

func reflect(d, n geom.Vec3) geom.Vec3 {
	return geom.Sub(d, geom.Scale(2*geom.Dot(d, n), n))
}
