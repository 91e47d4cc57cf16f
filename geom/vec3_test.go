// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package geom

import (
	"math"
	"testing"

	"github.com/cpmech/gosl/chk"
)

func Test_vec_basics(tst *testing.T) {

	chk.PrintTitle("vec_basics. add, cross, dot, normalize")

	a := Vec3{1, 0, 0}
	b := Vec3{0, 1, 0}
	c := Cross(a, b)
	chk.Vector(tst, "a×b", 1e-15, c[:], []float64{0, 0, 1})
	chk.Scalar(tst, "a·b", 1e-15, Dot(a, b), 0)

	v := Vec3{3, 4, 0}
	chk.Scalar(tst, "‖v‖", 1e-15, Norm(v), 5)

	u := Normalize(v)
	chk.Scalar(tst, "‖normalize(v)‖", 1e-14, Norm(u), 1)
}

func Test_dir_from_angles(tst *testing.T) {

	chk.PrintTitle("dir_from_angles. on-axis and field angles")

	d := DirFromAngles(0, 0)
	chk.Vector(tst, "on-axis direction", 1e-15, d[:], []float64{0, 0, 1})
	chk.Scalar(tst, "‖d‖", 1e-14, Norm(d), 1)

	d2 := DirFromAngles(5*math.Pi/180, 0)
	if d2[2] <= 0 {
		tst.Errorf("expected forward-pointing direction, got %v", d2)
	}
}

func Test_basis_local_roundtrip(tst *testing.T) {

	chk.PrintTitle("basis_local_roundtrip. to-local then from-local recovers point")

	b := IdentityBasis().RotateTilt(0.1, 0.05, 0)
	o := Vec3{1, 2, 3}
	p := Vec3{4, -1, 7}
	local := b.ToLocal(o, p)
	back := b.FromLocal(o, local)
	chk.Vector(tst, "round-trip", 1e-12, back[:], p[:])
}

func Test_plane_hit(tst *testing.T) {

	chk.PrintTitle("plane_hit. ray-plane intersection")

	origin := Vec3{0, 0, -10}
	dir := Vec3{0, 0, 1}
	p, ok := PlaneHit(origin, dir, Vec3{0, 0, 5}, Vec3{0, 0, 1})
	if !ok {
		tst.Fatal("expected a hit")
	}
	chk.Vector(tst, "hit point", 1e-14, p[:], []float64{0, 0, 5})

	_, ok2 := PlaneHit(origin, Vec3{1, 0, 0}, Vec3{0, 0, 5}, Vec3{0, 0, 1})
	if ok2 {
		tst.Fatal("expected parallel-ray miss")
	}
}
