// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package opl

import (
	"math"
	"testing"

	"github.com/cpmech/gosl/chk"

	"github.com/cpmech/wavefront/geom"
	"github.com/cpmech/wavefront/surface"
	"github.com/cpmech/wavefront/tracer"
)

type fixedCatalog map[string]float64

func (c fixedCatalog) RefractiveIndex(material string, _ float64) (float64, bool) {
	n, ok := c[material]
	return n, ok
}

func singlet() *surface.Registry {
	table := []surface.Surface{
		{Kind: surface.Object, Thickness: 100},
		{Kind: surface.Refractive, SemiDiameter: 12.5, Thickness: 5, Material: "N-BK7"},
		{Kind: surface.Refractive, SemiDiameter: 12.5, Thickness: 20},
		{Kind: surface.Stop, SemiDiameter: 10, Thickness: 30},
		{Kind: surface.Image, SemiDiameter: 15},
	}
	return surface.New(table, false)
}

func Test_opl_straight_axial_path(tst *testing.T) {

	chk.PrintTitle("opl_straight_axial_path. on-axis straight path accumulates n*distance in microns")

	reg := singlet()
	ev := New(reg, fixedCatalog{"N-BK7": 1.5})

	path := tracer.RayPath{Points: []geom.Vec3{
		{0, 0, -100},
		{0, 0, 0},
		{0, 0, 5},
		{0, 0, 25},
		{0, 0, 55},
		{0, 0, 55}, // image surface coincides with stop+30mm in this toy fixture
	}}

	opd := ev.OpticalPathLength(path, 0.5876, false)
	if math.IsNaN(opd) {
		tst.Fatal("expected a finite OPL")
	}
	// segment 0 (object->surf1): 100mm * 1.0 = 100000 um
	// segment 1 (surf1->surf2): 5mm * 1.5 = 7500 um
	// segment 2 (surf2->surf3/stop): 20mm * 1.0 = 20000 um
	// segment 3 (surf3->surf4/image): 30mm * 1.0 = 30000 um
	want := 100000.0 + 7500.0 + 20000.0 + 30000.0
	chk.Scalar(tst, "opl", 1e-6, opd, want)
}

func Test_opl_infinite_starts_at_stop(tst *testing.T) {

	chk.PrintTitle("opl_infinite_starts_at_stop. infinite-field accumulation skips the leading segments before the stop")

	reg := singlet()
	ev := New(reg, fixedCatalog{"N-BK7": 1.5})

	path := tracer.RayPath{Points: []geom.Vec3{
		{0, 0, -5000},
		{0, 0, 0},
		{0, 0, 5},
		{0, 0, 25},
		{0, 0, 55},
		{0, 0, 55},
	}}

	opd := ev.OpticalPathLength(path, 0.5876, true)
	// only the final 30mm segment (stop at z=25 to image at z=55) counts, at
	// the image-cavity's vacuum index, versus 5057500 um if every leading
	// segment (including the 5000 mm object-to-surf1 one) were included.
	chk.Scalar(tst, "opl", 1e-6, opd, 30000.0)
}

func Test_opl_rejects_short_path(tst *testing.T) {

	chk.PrintTitle("opl_rejects_short_path. a path shorter than 1+|recorded| is NaN")

	reg := singlet()
	ev := New(reg, nil)

	path := tracer.RayPath{Points: []geom.Vec3{{0, 0, -100}, {0, 0, 0}}}
	opd := ev.OpticalPathLength(path, 0.5876, false)
	if !math.IsNaN(opd) {
		tst.Error("expected NaN for a too-short path")
	}
}

func Test_opl_rejects_nonphysical_segment(tst *testing.T) {

	chk.PrintTitle("opl_rejects_nonphysical_segment. a segment far beyond the system's total thickness is NaN")

	reg := singlet()
	ev := New(reg, fixedCatalog{"N-BK7": 1.5})

	path := tracer.RayPath{Points: []geom.Vec3{
		{0, 0, -100},
		{0, 0, 0},
		{0, 0, 1e6}, // absurd jump
		{0, 0, 25},
		{0, 0, 55},
		{0, 0, 55},
	}}
	opd := ev.OpticalPathLength(path, 0.5876, false)
	if !math.IsNaN(opd) {
		tst.Error("expected NaN for a non-physical segment length")
	}
}

func Test_opl_cache_reused_across_calls(tst *testing.T) {

	chk.PrintTitle("opl_cache_reused_across_calls. repeated calls at the same wavelength reuse cached media")

	reg := singlet()
	ev := New(reg, fixedCatalog{"N-BK7": 1.5})

	path := tracer.RayPath{Points: []geom.Vec3{
		{0, 0, -100},
		{0, 0, 0},
		{0, 0, 5},
		{0, 0, 25},
		{0, 0, 55},
		{0, 0, 55},
	}}
	first := ev.OpticalPathLength(path, 0.5876, false)
	if len(ev.cache) != 1 {
		tst.Fatalf("expected one cached media entry, got %d", len(ev.cache))
	}
	second := ev.OpticalPathLength(path, 0.5876, false)
	chk.Scalar(tst, "opl repeat", 1e-9, second, first)
	if len(ev.cache) != 1 {
		tst.Error("expected the second call to reuse the cached entry, not grow the cache")
	}
}
