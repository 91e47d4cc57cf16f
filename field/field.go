// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package field implements the tagged field-point setting used to specify
// where an object is located: either an infinite-conjugate angle (αx,αy)
// or a finite-conjugate object height (xh,yh).
package field

import "github.com/cpmech/wavefront/geom"

// Setting is a tagged field-point specification.
type Setting struct {
	infinite bool
	AngleX   float64 // radians
	AngleY   float64 // radians
	HeightX  float64 // mm
	HeightY  float64 // mm
}

// Angle builds an infinite-conjugate field setting.
func Angle(ax, ay float64) Setting {
	return Setting{infinite: true, AngleX: ax, AngleY: ay}
}

// Height builds a finite-conjugate field setting.
func Height(xh, yh float64) Setting {
	return Setting{infinite: false, HeightX: xh, HeightY: yh}
}

// Infinite reports whether this is an Angle (infinite-object) setting.
func (s Setting) Infinite() bool { return s.infinite }

// Key is the canonical (field-type, angle, height) tuple used to index
// per-field caches.
type Key struct {
	Infinite bool
	AngleX   float64
	AngleY   float64
	HeightX  float64
	HeightY  float64
}

// Key returns the canonical cache key for this setting.
func (s Setting) Key() Key {
	return Key{Infinite: s.infinite, AngleX: s.AngleX, AngleY: s.AngleY, HeightX: s.HeightX, HeightY: s.HeightY}
}

// Direction returns the fixed ray direction for an Angle setting:
// d = (sinαx·cosαy, sinαy·cosαx, cosαx·cosαy), normalized. Callers must
// not call this for a Height setting.
func (s Setting) Direction() geom.Vec3 {
	return geom.DirFromAngles(s.AngleX, s.AngleY)
}

// ObjectPoint returns the finite object point O=(xh,yh,-tObj) for a Height
// setting, given the object-space thickness. Callers must not call this
// for an Angle setting.
func (s Setting) ObjectPoint(tObj float64) geom.Vec3 {
	return geom.Vec3{s.HeightX, s.HeightY, -tObj}
}

// AngleMagnitude returns sqrt(αx²+αy²), used by the stop-miss tolerance
// widening and the vignetting-boundary diagnostic.
func (s Setting) AngleMagnitude() float64 {
	return hypot(s.AngleX, s.AngleY)
}

func hypot(a, b float64) float64 {
	return geom.Norm(geom.Vec3{a, b, 0})
}
