// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stats

import (
	"math"
	"testing"

	"github.com/cpmech/gosl/chk"
)

func Test_stats_accumulator_basic(tst *testing.T) {

	chk.PrintTitle("stats_accumulator_basic. streaming accumulator matches a hand count")

	a := NewAccumulator()
	for _, v := range []float64{1, 2, 3, 4, math.NaN(), 0, 5} {
		a.Add(v)
	}
	res := a.Result(false)
	chk.IntAssert(res.Count, 5)
	chk.Scalar(tst, "mean", 1e-9, res.Mean, 3.0)
	chk.Scalar(tst, "min", 1e-9, res.Min, 1.0)
	chk.Scalar(tst, "max", 1e-9, res.Max, 5.0)
	chk.Scalar(tst, "pv", 1e-9, res.PV, 4.0)
}

func Test_stats_accumulator_piston_removed_rms(tst *testing.T) {

	chk.PrintTitle("stats_accumulator_piston_removed_rms. piston removal recomputes RMS around the mean")

	a := NewAccumulator()
	for _, v := range []float64{2, 4, 6, 8} {
		a.Add(v)
	}
	raw := a.Result(false)
	centered := a.Result(true)
	if centered.RMS >= raw.RMS {
		tst.Errorf("expected piston-removed RMS (%g) < raw RMS (%g)", centered.RMS, raw.RMS)
	}
}

func Test_stats_array_matches_accumulator(tst *testing.T) {

	chk.PrintTitle("stats_array_matches_accumulator. the array convenience wrapper agrees with streaming")

	values := []float64{1, 2, 3, 4, 5, 0, math.Inf(1)}
	a := NewAccumulator()
	for _, v := range values {
		a.Add(v)
	}
	streamed := a.Result(false)
	arrayed := Array(values, false)
	chk.Scalar(tst, "mean", 1e-12, arrayed.Mean, streamed.Mean)
	chk.Scalar(tst, "rms", 1e-12, arrayed.RMS, streamed.RMS)
	chk.IntAssert(arrayed.Count, streamed.Count)
}

func Test_stats_fit_plane_recovers_coefficients(tst *testing.T) {

	chk.PrintTitle("stats_fit_plane_recovers_coefficients. a synthetic plane is recovered exactly")

	const a, b, c = 0.3, 1.2, -0.7
	axis := PupilAxis(9)
	var points []GridPoint
	for _, x := range axis {
		for _, y := range axis {
			points = append(points, GridPoint{X: x, Y: y, Z: a + b*x + c*y})
		}
	}
	plane, ok := FitPlane(points)
	if !ok {
		tst.Fatal("expected a well-conditioned plane fit")
	}
	chk.Scalar(tst, "a", 1e-9, plane.A, a)
	chk.Scalar(tst, "b", 1e-9, plane.B, b)
	chk.Scalar(tst, "c", 1e-9, plane.C, c)
}

func Test_stats_remove_plane_residual_is_flat(tst *testing.T) {

	chk.PrintTitle("stats_remove_plane_residual_is_flat. removing a pure plane leaves a near-zero residual")

	axis := PupilAxis(7)
	var points []GridPoint
	for _, x := range axis {
		for _, y := range axis {
			points = append(points, GridPoint{X: x, Y: y, Z: 0.5 + 2*x - y})
		}
	}
	residual := RemovePlane(points)
	for _, r := range residual {
		if math.Abs(r) > 1e-8 {
			tst.Errorf("expected near-zero residual, got %g", r)
		}
	}
}

func Test_stats_build_layer_tags(tst *testing.T) {

	chk.PrintTitle("stats_build_layer_tags. BuildLayer carries its kind and mode tags through")

	layer := BuildLayer(Primary, []float64{1, 2, 3}, "stop", "opd", false)
	if layer.Kind != Primary || layer.PupilMode != "stop" || layer.OPDMode != "opd" {
		tst.Error("expected BuildLayer to preserve its tags")
	}
	chk.IntAssert(layer.Stats.Count, 3)
}
