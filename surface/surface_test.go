// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package surface

import (
	"testing"

	"github.com/cpmech/gosl/chk"
)

func singletTable() []Surface {
	return []Surface{
		{Kind: Object, Thickness: 1e6},
		{Kind: Refractive, Curvature: 0.02, SemiDiameter: 12.5, Thickness: 5, Material: "N-BK7"},
		{Kind: Refractive, Curvature: -0.015, SemiDiameter: 12.5, Thickness: 20},
		{Kind: Stop, SemiDiameter: 10, Thickness: 30},
		{Kind: Image, SemiDiameter: 15},
	}
}

func Test_recorded_and_point_index(tst *testing.T) {

	chk.PrintTitle("recorded_and_point_index. object and coord-breaks excluded")

	reg := New(singletTable(), false)
	rec := reg.RecordedSurfaces()
	chk.Ints(tst, "recorded", rec, []int{1, 2, 3, 4})

	pidx, ok := reg.PointIndexOf(1)
	if !ok || pidx != 1 {
		tst.Errorf("expected point index 1 for surface 1, got %d %v", pidx, ok)
	}
	pidx, ok = reg.PointIndexOf(4)
	if !ok || pidx != 4 {
		tst.Errorf("expected point index 4 for surface 4, got %d %v", pidx, ok)
	}
	_, ok = reg.PointIndexOf(0)
	if ok {
		tst.Error("object surface must not resolve to a point index")
	}
}

func Test_stop_selection_explicit(tst *testing.T) {

	chk.PrintTitle("stop_selection_explicit. explicit Stop kind wins")

	reg := New(singletTable(), false)
	chk.IntAssert(reg.StopIndex(), 2) // 3rd recorded surface (surface-table index 3)
	chk.IntAssert(reg.EvalIndex(), 3) // last recorded surface, also image-marked
}

func Test_stop_selection_by_comment(tst *testing.T) {

	chk.PrintTitle("stop_selection_by_comment. falls back to comment match")

	table := []Surface{
		{Kind: Object, Thickness: 1e6},
		{Kind: Refractive, Comment: "aperture stop here", SemiDiameter: 8, Thickness: 10},
		{Kind: Refractive, SemiDiameter: 12, Thickness: 10},
	}
	reg := New(table, false)
	chk.IntAssert(reg.StopIndex(), 0)
}

func Test_stop_selection_smallest_semidiameter(tst *testing.T) {

	chk.PrintTitle("stop_selection_smallest_semidiameter. rule 5 fallback")

	table := []Surface{
		{Kind: Object, Thickness: 1e6},
		{Kind: Refractive, SemiDiameter: 12, Thickness: 10},
		{Kind: Refractive, SemiDiameter: 4, Thickness: 10},
		{Kind: Refractive, SemiDiameter: 9, Thickness: 10},
	}
	reg := New(table, false)
	chk.IntAssert(reg.StopIndex(), 1) // surface with SemiDiameter=4 is recorded-index 1
}

func Test_basis_composition_with_coord_break(tst *testing.T) {

	chk.PrintTitle("basis_composition_with_coord_break. tilted stop basis")

	table := []Surface{
		{Kind: Object, Thickness: 1e6},
		{Kind: Refractive, SemiDiameter: 12, Thickness: 10},
		{Kind: CoordBreak, Tilt: [3]float64{0, 0.1, 0}},
		{Kind: Stop, SemiDiameter: 8, Thickness: 10},
	}
	reg := New(table, false)
	axes := reg.Axes(reg.StopIndex())
	// a Y-tilt rotates Ez away from the global Z axis.
	if axes.Ez[0] == 0 {
		tst.Error("expected coord-break tilt to rotate the stop's local z axis")
	}
}
