// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package geom implements the small set of vector and basis-composition
// operations shared by the surface registry, chief-ray and marginal-ray
// solvers, and the OPL evaluator.
package geom

import (
	"math"

	"github.com/cpmech/gosl/la"
	"github.com/cpmech/gosl/utl"
)

// Vec3 is a point or direction in ℝ³.
type Vec3 = [3]float64

// Add returns a+b.
func Add(a, b Vec3) Vec3 {
	return Vec3{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Sub returns a-b.
func Sub(a, b Vec3) Vec3 {
	return Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

// Scale returns s*a.
func Scale(s float64, a Vec3) Vec3 {
	return Vec3{s * a[0], s * a[1], s * a[2]}
}

// Dot returns a·b.
func Dot(a, b Vec3) float64 {
	v := []float64{a[0], a[1], a[2]}
	w := []float64{b[0], b[1], b[2]}
	return utl.Dot3d(v, w)
}

// Cross returns a×b.
func Cross(a, b Vec3) Vec3 {
	v := []float64{a[0], a[1], a[2]}
	w := []float64{b[0], b[1], b[2]}
	n := make([]float64, 3)
	utl.Cross3d(n, v, w)
	return Vec3{n[0], n[1], n[2]}
}

// Norm returns ‖a‖.
func Norm(a Vec3) float64 {
	return la.VecNorm([]float64{a[0], a[1], a[2]})
}

// Normalize returns a/‖a‖. If a is (numerically) zero it is returned
// unchanged, still of (near-)zero length.
func Normalize(a Vec3) Vec3 {
	n := Norm(a)
	if n < 1e-300 {
		return a
	}
	return Scale(1/n, a)
}

// Dist returns ‖a-b‖.
func Dist(a, b Vec3) float64 {
	return Norm(Sub(a, b))
}

// DirFromAngles builds the direction vector for a field angle pair
// (αx, αy) in radians: d = (sinαx·cosαy, sinαy·cosαx, cosαx·cosαy).
func DirFromAngles(αx, αy float64) Vec3 {
	d := Vec3{
		math.Sin(αx) * math.Cos(αy),
		math.Sin(αy) * math.Cos(αx),
		math.Cos(αx) * math.Cos(αy),
	}
	return Normalize(d)
}

// Basis is an orthonormal local frame (ex, ey, ez) attached to a surface
// origin, built by composing preceding coordinate-break decenters/tilts.
type Basis struct {
	Ex, Ey, Ez Vec3
}

// IdentityBasis returns the global (untilted, undecentred) basis.
func IdentityBasis() Basis {
	return Basis{Ex: Vec3{1, 0, 0}, Ey: Vec3{0, 1, 0}, Ez: Vec3{0, 0, 1}}
}

// ToLocal projects the global point p (relative to origin o) onto this
// basis, returning (local-x, local-y, local-z).
func (b Basis) ToLocal(o, p Vec3) Vec3 {
	r := Sub(p, o)
	return Vec3{Dot(r, b.Ex), Dot(r, b.Ey), Dot(r, b.Ez)}
}

// FromLocal reconstructs the global point from local coordinates about origin o.
func (b Basis) FromLocal(o Vec3, local Vec3) Vec3 {
	p := o
	p = Add(p, Scale(local[0], b.Ex))
	p = Add(p, Scale(local[1], b.Ey))
	p = Add(p, Scale(local[2], b.Ez))
	return p
}

// RotateTilt composes this basis with a rotation by tiltX, tiltY, tiltZ
// (radians, applied in X-then-Y-then-Z order, the convention coordinate
// breaks use), returning the new basis, built from 3×3 rotation matrices
// multiplied together.
func (b Basis) RotateTilt(tiltX, tiltY, tiltZ float64) Basis {
	rx := rotX(tiltX)
	ry := rotY(tiltY)
	rz := rotZ(tiltZ)
	r := matMul(matMul(rz, ry), rx)
	cols := [3]Vec3{b.Ex, b.Ey, b.Ez}
	var out [3]Vec3
	for c := 0; c < 3; c++ {
		v := cols[c]
		var o Vec3
		for i := 0; i < 3; i++ {
			o[i] = r[i][0]*v[0] + r[i][1]*v[1] + r[i][2]*v[2]
		}
		out[c] = o
	}
	return Basis{Ex: out[0], Ey: out[1], Ez: out[2]}
}

type mat3 = [3][3]float64

func rotX(t float64) mat3 {
	c, s := math.Cos(t), math.Sin(t)
	return mat3{{1, 0, 0}, {0, c, -s}, {0, s, c}}
}

func rotY(t float64) mat3 {
	c, s := math.Cos(t), math.Sin(t)
	return mat3{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
}

func rotZ(t float64) mat3 {
	c, s := math.Cos(t), math.Sin(t)
	return mat3{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}

func matMul(a, b mat3) mat3 {
	var o mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += a[i][k] * b[k][j]
			}
			o[i][j] = s
		}
	}
	return o
}

// PlaneHit intersects the ray (origin, dir) with the plane through o with
// normal n, returning the intersection point and false if the ray is
// parallel to the plane (|dir·n| below eps).
func PlaneHit(origin, dir, o, n Vec3) (Vec3, bool) {
	denom := Dot(dir, n)
	if math.Abs(denom) < 1e-14 {
		return Vec3{}, false
	}
	t := Dot(Sub(o, origin), n) / denom
	return Add(origin, Scale(t, dir)), true
}
