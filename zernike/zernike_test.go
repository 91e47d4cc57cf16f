// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zernike

import (
	"math"
	"testing"

	"github.com/cpmech/gosl/chk"
)

// grid builds a deterministic circular pupil sample set.
func grid(n int, f func(rho, theta float64) float64) []Sample {
	var out []Sample
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x := -1 + 2*float64(i)/float64(n-1)
			y := -1 + 2*float64(j)/float64(n-1)
			rho := math.Hypot(x, y)
			if rho > 1 {
				continue
			}
			theta := math.Atan2(y, x)
			out = append(out, Sample{Rho: rho, Theta: theta, OPD: f(rho, theta)})
		}
	}
	return out
}

func Test_zernike_value_tilt_matches_xy(tst *testing.T) {

	chk.PrintTitle("zernike_value_tilt_matches_xy. Z1=2y and Z2=2x under the chosen normalization")

	rho, theta := 0.6, 0.9
	x := rho * math.Cos(theta)
	y := rho * math.Sin(theta)

	chk.Scalar(tst, "Z1", 1e-12, Value(1, rho, theta), 2*y)
	chk.Scalar(tst, "Z2", 1e-12, Value(2, rho, theta), 2*x)
}

func Test_zernike_fit_recovers_pure_defocus(tst *testing.T) {

	chk.PrintTitle("zernike_fit_recovers_pure_defocus. a pure-Z4 surface fits with a dominant c4 and a small residual")

	const trueC4 = 0.35
	samples := grid(21, func(rho, theta float64) float64 {
		return trueC4 * Value(4, rho, theta)
	})

	res := Fit(samples, Options{MaxOrder: 6})
	if res.Skipped {
		tst.Fatal("expected a non-degenerate fit")
	}
	if res.MaxJ < 4 {
		tst.Fatalf("expected enough points for j=4, got maxJ=%d", res.MaxJ)
	}
	chk.Scalar(tst, "c4", 1e-2, res.Coeffs[4], trueC4)
	if res.ResidualRMS > 1e-2 {
		tst.Errorf("expected a small residual RMS, got %g", res.ResidualRMS)
	}
}

func Test_zernike_fit_piston_always_zero(tst *testing.T) {

	chk.PrintTitle("zernike_fit_piston_always_zero. piston coefficient is reported separately and never fit")

	samples := grid(15, func(rho, theta float64) float64 { return 1.7 })
	res := Fit(samples, Options{})
	chk.Scalar(tst, "c0", 1e-15, res.Coeffs[0], 0)
	chk.Scalar(tst, "piston", 1e-9, res.Piston, 1.7)
}

func Test_zernike_outlier_rejection_limits_damage(tst *testing.T) {

	chk.PrintTitle("zernike_outlier_rejection_limits_damage. a few spiked samples are excluded from the high-order fit")

	const trueC4 = 0.2
	samples := grid(21, func(rho, theta float64) float64 {
		return trueC4 * Value(4, rho, theta)
	})
	// spike a handful of samples badly.
	for i := 0; i < 5 && i < len(samples); i++ {
		samples[i].OPD += 50.0
	}

	res := Fit(samples, Options{MaxOrder: 6})
	if res.Excluded == 0 {
		tst.Error("expected the spiked samples to be excluded")
	}
	chk.Scalar(tst, "c4", 5e-2, res.Coeffs[4], trueC4)
}

func Test_zernike_too_few_points_skipped(tst *testing.T) {

	chk.PrintTitle("zernike_too_few_points_skipped. fewer than 3 valid samples yields a skipped result")

	res := Fit([]Sample{{Rho: 0, Theta: 0, OPD: 1}}, Options{})
	if !res.Skipped {
		tst.Error("expected Skipped for a near-empty sample set")
	}
}

func Test_zernike_removed_model_subset(tst *testing.T) {

	chk.PrintTitle("zernike_removed_model_subset. Evaluate with an index subset ignores other fitted terms")

	samples := grid(21, func(rho, theta float64) float64 {
		return 0.1*Value(1, rho, theta) + 0.4*Value(4, rho, theta) + 0.05*Value(6, rho, theta)
	})
	res := Fit(samples, Options{MaxOrder: 6})

	full := res.Evaluate(0.5, 0.3, nil)
	subset := res.Evaluate(0.5, 0.3, DefaultRemovedIndices)
	if math.Abs(full-subset) < 1e-6 {
		tst.Error("expected the full and subset evaluations to differ when j=6 carries weight")
	}
}
