// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stats implements the statistics and display-transform layer: a
// streaming count/mean/RMS/min/max/PV accumulator (no call-stack spreads,
// so it scales to large grids), an array convenience wrapper, least-squares
// plane-fit removal for the display view, and the four tagged report
// layers a wavefront map exposes (raw, primary, aberration, display).
package stats

import (
	"math"

	"github.com/cpmech/gosl/utl"
)

// Stats is one statistics summary over a sample set.
type Stats struct {
	Count int
	Mean  float64
	RMS   float64
	Min   float64
	Max   float64
	PV    float64 // peak-to-peak = Max-Min
}

// Accumulator streams count/mean/RMS/min/max without holding the full
// sample array.
type Accumulator struct {
	count      int
	sum, sumSq float64
	min, max   float64
}

// NewAccumulator returns an empty streaming accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{min: math.Inf(1), max: math.Inf(-1)}
}

// Add folds one sample into the accumulator. Non-finite and exact-zero
// values are excluded from the count (zero marks an unsampled or masked
// grid cell).
func (a *Accumulator) Add(v float64) {
	if !isFinite(v) || v == 0 {
		return
	}
	a.count++
	a.sum += v
	a.sumSq += v * v
	if v < a.min {
		a.min = v
	}
	if v > a.max {
		a.max = v
	}
}

// Result finalizes the accumulated statistics. removePiston recomputes RMS
// around the mean instead of around zero (optional piston removal:
// subtract mean, recompute).
func (a *Accumulator) Result(removePiston bool) Stats {
	if a.count == 0 {
		return Stats{}
	}
	n := float64(a.count)
	mean := a.sum / n
	rms := math.Sqrt(a.sumSq / n)
	if removePiston {
		variance := a.sumSq/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		rms = math.Sqrt(variance)
	}
	return Stats{Count: a.count, Mean: mean, RMS: rms, Min: a.min, Max: a.max, PV: a.max - a.min}
}

// Array computes the same statistics over an already-materialized slice,
// for callers that already hold a full grid array (the report-layer and
// render-from-Zernike paths). Non-finite and exact-zero values are
// excluded, matching Accumulator.
func Array(values []float64, removePiston bool) Stats {
	filtered := make([]float64, 0, len(values))
	for _, v := range values {
		if isFinite(v) && v != 0 {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) == 0 {
		return Stats{}
	}
	imin, imax := utl.DblArgMinMax(filtered)
	var sum, sumSq float64
	for _, v := range filtered {
		sum += v
		sumSq += v * v
	}
	n := float64(len(filtered))
	mean := sum / n
	rms := math.Sqrt(sumSq / n)
	if removePiston {
		variance := sumSq/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		rms = math.Sqrt(variance)
	}
	return Stats{Count: len(filtered), Mean: mean, RMS: rms, Min: filtered[imin], Max: filtered[imax], PV: filtered[imax] - filtered[imin]}
}

// PupilAxis returns g linearly spaced pupil coordinates in [-1,1], used by
// the orchestrator's (ix,iy) grid generation.
func PupilAxis(g int) []float64 {
	if g < 2 {
		return []float64{0}
	}
	return utl.LinSpace(-1, 1, g)
}

// GridPoint is one (x,y,z) sample for the plane-fit display transform.
type GridPoint struct {
	X, Y, Z float64
}

// Plane is a fitted z = A + B·x + C·y model.
type Plane struct {
	A, B, C float64
}

// Value evaluates the fitted plane at (x,y).
func (p Plane) Value(x, y float64) float64 {
	return p.A + p.B*x + p.C*y
}

// FitPlane solves the least-squares plane z=a+bx+cy over valid samples
// (the display-layer tilt/piston removal), via the 3x3 normal equations
// solved in closed form with Cramer's rule, the same small-fixed-size-solve
// idiom `newton` uses for its 2x2 system.
func FitPlane(points []GridPoint) (Plane, bool) {
	var n, sx, sy, sxx, sxy, syy, sz, sxz, syz float64
	for _, p := range points {
		if !isFinite(p.Z) || p.Z == 0 {
			continue
		}
		n++
		sx += p.X
		sy += p.Y
		sxx += p.X * p.X
		sxy += p.X * p.Y
		syy += p.Y * p.Y
		sz += p.Z
		sxz += p.X * p.Z
		syz += p.Y * p.Z
	}
	if n < 3 {
		return Plane{}, false
	}

	// | n  sx  sy | |a|   |sz |
	// | sx sxx sxy| |b| = |sxz|
	// | sy sxy syy| |c|   |syz|
	det := det3(
		n, sx, sy,
		sx, sxx, sxy,
		sy, sxy, syy,
	)
	if math.Abs(det) < 1e-12 {
		return Plane{}, false
	}
	a := det3(sz, sx, sy, sxz, sxx, sxy, syz, sxy, syy) / det
	b := det3(n, sz, sy, sx, sxz, sxy, sy, syz, syy) / det
	c := det3(n, sx, sz, sx, sxx, sxz, sy, sxy, syz) / det
	return Plane{A: a, B: b, C: c}, true
}

// RemovePlane returns the per-point residual after subtracting the fitted
// plane, a view transform that never mutates the input.
func RemovePlane(points []GridPoint) []float64 {
	plane, ok := FitPlane(points)
	out := make([]float64, len(points))
	for i, p := range points {
		if !ok || !isFinite(p.Z) || p.Z == 0 {
			out[i] = p.Z
			continue
		}
		out[i] = p.Z - plane.Value(p.X, p.Y)
	}
	return out
}

func det3(a, b, c, d, e, f, g, h, i float64) float64 {
	return a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// LayerKind tags which of the four report layers a Layer is.
type LayerKind int

const (
	Raw LayerKind = iota
	Primary
	Aberration
	Display
)

func (k LayerKind) String() string {
	switch k {
	case Raw:
		return "raw"
	case Primary:
		return "primary"
	case Aberration:
		return "aberration"
	case Display:
		return "display"
	}
	return "unknown"
}

// Layer is one tagged report layer: raw (as-measured), primary
// (piston-removed), aberration (low-order Zernike terms removed), or
// display (plane-fit removed).
type Layer struct {
	Kind           LayerKind
	Values         []float64
	Stats          Stats
	PupilMode      string
	OPDMode        string
	ZernikeSkipped bool
}

// BuildLayer wraps a values array into a tagged, statistics-summarized
// report layer. Primary layers report piston-removed RMS; the others
// report raw RMS (their values are already whatever the caller computed:
// as-measured, Zernike-residual, or plane-fit residual).
func BuildLayer(kind LayerKind, values []float64, pupilMode, opdMode string, zernikeSkipped bool) Layer {
	removePiston := kind == Primary
	return Layer{
		Kind:           kind,
		Values:         values,
		Stats:          Array(values, removePiston),
		PupilMode:      pupilMode,
		OPDMode:        opdMode,
		ZernikeSkipped: zernikeSkipped,
	}
}
