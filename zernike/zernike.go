// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zernike implements the orthonormal Zernike fitter: analytic
// piston/tilt, a modified-Gram-Schmidt least-squares fit for higher
// orders, and MAD-based outlier rejection. The Gram-Schmidt R matrix is a
// small `la.MatAlloc`-sized array filled and back-substituted in place
// rather than handed to a general dense-matrix library call; piston and
// tilt are closed form.
package zernike

import (
	"math"
	"sort"

	"github.com/cpmech/gosl/la"
)

// Sample is one (ρ,θ,OPD) point fed to Fit. Callers must pre-filter to
// ρ≤1 and finite OPD during preprocessing; Fit defends against stray
// NaNs but does not re-derive the pupil mask.
type Sample struct {
	Rho   float64
	Theta float64
	OPD   float64 // µm
}

// DefaultRemovedIndices is the display-transform subset used when
// presenting the residual wavefront: piston, both tilts, and defocus.
var DefaultRemovedIndices = []int{0, 1, 2, 4}

// Options configures one Fit call.
type Options struct {
	// MaxOrder is the requested max_j (OSA/ANSI index); 0 means the
	// default of 6.
	MaxOrder int
	// DisableOutlierRejection skips the MAD-based rejection step entirely.
	DisableOutlierRejection bool
	// OutlierK is the MAD multiplier; 0 means the default of 6.
	OutlierK float64
	// MinAbsThreshold is the floor on the outlier threshold (µm, already
	// in the internal scaled units is NOT required — this is applied in
	// the same µm units as the centered OPD before scaling).
	MinAbsThreshold float64
}

// Result is the fitted Zernike model and its fit diagnostics.
type Result struct {
	Coeffs      []float64 // c_j [µm], index 0..MaxJ; Coeffs[0] is always 0
	MaxJ        int
	Piston      float64 // µm, the mean removed before fitting (reported, never re-added)
	ResidualRMS float64 // µm, over all valid input samples
	NumFit      int     // samples used, after outlier exclusion
	Excluded    int
	Skipped     bool // true when too few samples for any meaningful fit
}

// Evaluate reconstructs the fitted model at an arbitrary (ρ,θ) using only
// the given subset of indices, e.g. to report a wavefront with piston,
// tilt, and defocus removed. A nil indices slice uses every fitted
// coefficient.
func (r Result) Evaluate(rho, theta float64, indices []int) float64 {
	if indices == nil {
		var sum float64
		for j, c := range r.Coeffs {
			if c != 0 {
				sum += c * Value(j, rho, theta)
			}
		}
		return sum
	}
	var sum float64
	for _, j := range indices {
		if j < 0 || j >= len(r.Coeffs) {
			continue
		}
		sum += r.Coeffs[j] * Value(j, rho, theta)
	}
	return sum
}

// Fit runs the full pipeline: center, scale, analytic piston/tilt, MAD
// outlier rejection, modified-Gram-Schmidt residual fit.
func Fit(samples []Sample, opt Options) Result {
	valid := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Rho <= 1 && isFinite(s.OPD) {
			valid = append(valid, s)
		}
	}
	if len(valid) < 3 {
		return Result{Coeffs: []float64{0}, MaxJ: 0, Skipped: true}
	}

	mean := 0.0
	for _, s := range valid {
		mean += s.OPD
	}
	mean /= float64(len(valid))

	centered := make([]float64, len(valid))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, s := range valid {
		c := s.OPD - mean
		centered[i] = c
		if c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	scale := math.Max(1.0, hi-lo)

	// Analytic tilt: for a pupil-symmetric sample set the 2x2
	// normal-equation system decouples onto the two axes.
	var sumRho2, sumOpdX, sumOpdY float64
	for i, s := range valid {
		x := s.Rho * math.Cos(s.Theta)
		y := s.Rho * math.Sin(s.Theta)
		sumRho2 += s.Rho * s.Rho
		sumOpdX += (centered[i] / scale) * x
		sumOpdY += (centered[i] / scale) * y
	}
	var c1, c2 float64 // c1 -> Z1=2y, c2 -> Z2=2x
	if sumRho2 > 0 {
		c1 = sumOpdY / sumRho2
		c2 = sumOpdX / sumRho2
	}

	residual := make([]float64, len(valid))
	for i, s := range valid {
		tilt := c1*Value(1, s.Rho, s.Theta) + c2*Value(2, s.Rho, s.Theta)
		residual[i] = centered[i]/scale - tilt
	}

	included := make([]int, len(valid))
	for i := range included {
		included[i] = i
	}
	excluded := 0
	if !opt.DisableOutlierRejection {
		k := opt.OutlierK
		if k == 0 {
			k = 6
		}
		kept := outlierFilter(residual, k, opt.MinAbsThreshold/scale)
		if len(kept) >= 10 {
			excluded = len(valid) - len(kept)
			included = kept
		}
	}

	requested := opt.MaxOrder
	if requested == 0 {
		requested = 6
	}
	conservative := int(math.Sqrt(float64(len(included)) / 3.0))
	maxJ := requested
	if conservative < maxJ {
		maxJ = conservative
	}
	if maxJ < 2 {
		maxJ = 2
	}

	coeffs := make([]float64, maxJ+1)
	coeffs[1] = c1
	coeffs[2] = c2

	if maxJ >= 3 {
		highOrder := gramSchmidtFit(valid, included, residual, 3, maxJ)
		for j := 3; j <= maxJ; j++ {
			coeffs[j] = highOrder[j-3]
		}
	}

	for j := range coeffs {
		coeffs[j] *= scale
	}
	coeffs[0] = 0 // piston: reported separately, never re-added

	var sumSq float64
	for _, s := range valid {
		model := mean
		for j, c := range coeffs {
			if c != 0 {
				model += c * Value(j, s.Rho, s.Theta)
			}
		}
		d := s.OPD - model
		sumSq += d * d
	}
	rms := math.Sqrt(sumSq / float64(len(valid)))

	return Result{
		Coeffs:      coeffs,
		MaxJ:        maxJ,
		Piston:      mean,
		ResidualRMS: rms,
		NumFit:      len(included),
		Excluded:    excluded,
	}
}

// gramSchmidtFit runs modified Gram-Schmidt QR on the basis columns
// Z_jStart..Z_jEnd (restricted to the `included` sample indices), then
// solves R·c = Qᵀ·target by back-substitution.
func gramSchmidtFit(valid []Sample, included []int, target []float64, jStart, jEnd int) []float64 {
	ncols := jEnd - jStart + 1
	n := len(included)

	basis := make([][]float64, ncols)
	for c := 0; c < ncols; c++ {
		j := jStart + c
		col := make([]float64, n)
		for i, idx := range included {
			s := valid[idx]
			col[i] = Value(j, s.Rho, s.Theta)
		}
		basis[c] = col
	}

	q := make([][]float64, ncols)
	r := la.MatAlloc(ncols, ncols)
	degenerate := make([]bool, ncols)

	for j := 0; j < ncols; j++ {
		bNorm := dot(basis[j], basis[j])
		tol := 1e-12 * math.Sqrt(bNorm)

		v := append([]float64(nil), basis[j]...)
		for i := 0; i < j; i++ {
			r[i][j] = dot(q[i], v)
			for k := range v {
				v[k] -= r[i][j] * q[i][k]
			}
		}
		norm := math.Sqrt(dot(v, v))
		if norm <= tol {
			degenerate[j] = true
			q[j] = make([]float64, n)
			r[j][j] = 0
			continue
		}
		r[j][j] = norm
		for k := range v {
			v[k] /= norm
		}
		q[j] = v
	}

	g := make([]float64, ncols)
	restricted := make([]float64, n)
	for i, idx := range included {
		restricted[i] = target[idx]
	}
	for j := 0; j < ncols; j++ {
		g[j] = dot(q[j], restricted)
	}

	c := make([]float64, ncols)
	for j := ncols - 1; j >= 0; j-- {
		if degenerate[j] {
			c[j] = 0
			continue
		}
		sum := g[j]
		for k := j + 1; k < ncols; k++ {
			sum -= r[j][k] * c[k]
		}
		c[j] = sum / r[j][j]
	}
	return c
}

// outlierFilter returns the indices surviving MAD-based rejection:
// threshold = max(minAbs, k·1.4826·MAD) around the median.
func outlierFilter(residual []float64, k, minAbs float64) []int {
	sorted := append([]float64(nil), residual...)
	sort.Float64s(sorted)
	median := percentileSorted(sorted, 0.5)

	absdev := make([]float64, len(residual))
	for i, v := range residual {
		absdev[i] = math.Abs(v - median)
	}
	sortedDev := append([]float64(nil), absdev...)
	sort.Float64s(sortedDev)
	mad := percentileSorted(sortedDev, 0.5)

	threshold := math.Max(minAbs, k*1.4826*mad)
	kept := make([]int, 0, len(residual))
	for i, v := range residual {
		if math.Abs(v-median) <= threshold {
			kept = append(kept, i)
		}
	}
	return kept
}

func percentileSorted(sorted []float64, frac float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	pos := frac * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	t := pos - float64(lo)
	return sorted[lo]*(1-t) + sorted[hi]*t
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// NM returns the (radial degree, azimuthal frequency) pair for an OSA/ANSI
// Zernike index j.
func NM(j int) (n, m int) {
	nf := math.Ceil((-3 + math.Sqrt(9+8*float64(j))) / 2)
	n = int(nf)
	m = 2*j - n*(n+2)
	return
}

// Value evaluates the orthonormal Zernike polynomial Z_j at (ρ,θ), with
// normalization √(n+1) for m=0 and √(2(n+1)) otherwise: this convention
// makes Z_1=2y and Z_2=2x exactly.
func Value(j int, rho, theta float64) float64 {
	n, m := NM(j)
	rad := radial(n, absInt(m), rho)
	norm := math.Sqrt(float64(n + 1))
	if m != 0 {
		norm = math.Sqrt(2 * float64(n+1))
	}
	var ang float64
	switch {
	case m == 0:
		ang = 1
	case m > 0:
		ang = math.Cos(float64(m) * theta)
	default:
		ang = math.Sin(float64(-m) * theta)
	}
	return norm * rad * ang
}

// radial evaluates the Zernike radial polynomial R_n^m(ρ) via its direct
// factorial-sum formula (m here is already |m|).
func radial(n, m int, rho float64) float64 {
	if (n-m)%2 != 0 {
		return 0
	}
	var sum float64
	for k := 0; k <= (n-m)/2; k++ {
		num := factorial(n - k)
		den := factorial(k) * factorial((n+m)/2-k) * factorial((n-m)/2-k)
		coef := num / den
		if k%2 == 1 {
			coef = -coef
		}
		sum += coef * math.Pow(rho, float64(n-2*k))
	}
	return sum
}

func factorial(n int) float64 {
	if n <= 1 {
		return 1
	}
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
