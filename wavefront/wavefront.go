// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wavefront implements the wavefront-map orchestrator and its
// public API: it wires the surface registry, tracer, chief-ray and
// marginal-ray solvers, reference-ray policy, OPL evaluator, Zernike
// fitter, and statistics layer into a long-lived Calculator exposing
// reference-ray solving, single-point OPD evaluation, and full pupil-grid
// wavefront-map generation, assembling its collaborators once and then
// iterating a center-out BFS sweep over pupil samples with
// progress/cancellation hooks.
package wavefront

import (
	"math"
	"sort"
	"sync"

	"github.com/cpmech/wavefront/chief"
	"github.com/cpmech/wavefront/field"
	"github.com/cpmech/wavefront/geom"
	"github.com/cpmech/wavefront/marginal"
	"github.com/cpmech/wavefront/opl"
	"github.com/cpmech/wavefront/refray"
	"github.com/cpmech/wavefront/stats"
	"github.com/cpmech/wavefront/surface"
	"github.com/cpmech/wavefront/tracer"
	"github.com/cpmech/wavefront/wferr"
	"github.com/cpmech/wavefront/wflog"
	"github.com/cpmech/wavefront/zernike"
)

// Pattern selects how pupil samples are laid out over the grid.
type Pattern int

const (
	Circular Pattern = iota
	Rectangular
)

// OPDMode selects the reference used to compute each sample's OPD.
type OPDMode int

const (
	Simple OPDMode = iota
	ReferenceSphere
)

func (m OPDMode) String() string {
	if m == ReferenceSphere {
		return "reference_sphere"
	}
	return "simple"
}

// DisplayMode selects whether the map's primary OPD arrays are returned
// as-measured or with the analytic piston/tilt terms (Zernike indices
// {0,1,2}) removed.
type DisplayMode int

const (
	DefaultDisplay DisplayMode = iota
	PistonTiltRemoved
)

var pistonTiltIndices = []int{0, 1, 2}

// displayTrimRho is the default display-transform cutoff: samples beyond
// this pupil radius are excluded from the display layer and from
// render-from-Zernike output.
const displayTrimRho = 0.995

// CancelToken is a cooperative cancellation signal: the caller sets it
// from another goroutine; the orchestrator checks it between samples,
// never mid-trace.
type CancelToken struct {
	mu      sync.Mutex
	reason  string
	stopped bool
}

// Cancel marks the token as tripped with a human-readable reason.
func (c *CancelToken) Cancel(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.reason = reason
}

// Cancelled reports whether the token has been tripped.
func (c *CancelToken) Cancelled() (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason, c.stopped
}

// ProgressFunc receives phase-boundary and periodic progress callbacks:
// at most 100 linearly spaced points during the sweep, plus each phase
// boundary.
type ProgressFunc func(done, total int, phase string)

// Config configures a Calculator at construction time. A Calculator is
// built once and stays long-lived; afterward only its solver caches
// (reference, chief and per-field marginal state) and its last-call
// diagnostic change.
type Config struct {
	Verbose                 bool
	Forced                  refray.ForcedMode
	DefaultGridSize         int
	ZernikeMaxOrder         int
	ZernikeOutlierK         float64
	DisableOutlierRejection bool
}

// Calculator is the single long-lived object a caller constructs once
// per optical system and reuses across field points.
type Calculator struct {
	reg     *surface.Registry
	tr      tracer.Tracer
	catalog tracer.GlassCatalog
	lambda  float64

	chiefGen *chief.Generator
	marg     *marginal.Solver
	oplEval  *opl.Evaluator
	refPol   *refray.Policy

	log wflog.Logger
	cfg Config

	lastDiag Diagnostic
}

// Diagnostic is the record returned by GetLastRayCalculation: the solver
// state and, when the failure carries one, the terminating surface. None
// of this module's solvers attaches a terminating surface to a failure,
// so HasTerminating is false for physical-aperture blocks too. It
// carries only the FINAL stop-local residual rather than the full
// intermediate-iteration trace — threading a residual history out of
// marginal's hot loop would complicate every branch of that solver for a
// diagnostics-only consumer; see DESIGN.md.
type Diagnostic struct {
	Ray                tracer.Ray
	Success            bool
	Reason             wferr.Reason
	State              marginal.State
	ResidualMM         float64
	HasResidual        bool
	TerminatingSurface int
	TerminatingKind    string
	HasTerminating     bool
}

func diagnosticFromResult(res marginal.Result) Diagnostic {
	d := Diagnostic{Ray: res.Ray, Success: res.Valid, State: res.State}
	if res.Valid {
		return d
	}
	if res.Failure != nil {
		d.Reason = res.Failure.Reason()
		d.ResidualMM, d.HasResidual = res.Failure.Residual()
		d.TerminatingSurface, d.TerminatingKind, d.HasTerminating = res.Failure.TerminatingSurface()
	}
	return d
}

// NewCalculator validates the surface table, builds the registry and
// every collaborator solver, and returns a ready-to-use Calculator,
// reporting InvalidInput if the table is malformed.
func NewCalculator(table []surface.Surface, wavelengthUm float64, tr tracer.Tracer, catalog tracer.GlassCatalog, finiteExt tracer.FiniteChiefSolver, infiniteExt tracer.InfiniteChiefSolver, cfg Config) (*Calculator, error) {
	if err := surface.Validate(table); err != nil {
		return nil, wferr.New(wferr.InvalidInput, "%s", err.Error())
	}
	reg := surface.New(table, cfg.Verbose)
	log := wflog.Logger{Verbose: cfg.Verbose}
	chiefGen := chief.New(reg, tr, finiteExt, infiniteExt)
	marg := marginal.New(reg, tr)
	oplEval := opl.New(reg, catalog)
	refPol := refray.New(reg, tr, chiefGen, marg, oplEval, cfg.Forced, log)
	return &Calculator{
		reg: reg, tr: tr, catalog: catalog, lambda: wavelengthUm,
		chiefGen: chiefGen, marg: marg, oplEval: oplEval, refPol: refPol,
		log: log, cfg: cfg,
	}, nil
}

// SetReferenceRay solves and caches the on-axis reference ray for f via
// the reference-ray policy ladder, returning its optical path length in
// µm.
func (c *Calculator) SetReferenceRay(f field.Setting) (float64, error) {
	ref, err := c.refPol.SetReferenceRay(f, c.lambda)
	if err != nil {
		c.lastDiag = diagnosticFromFailure(err)
		return math.NaN(), err
	}
	c.lastDiag = Diagnostic{Ray: ref.Ray, Success: true, State: marginal.OK}
	return ref.OPL, nil
}

func diagnosticFromFailure(err error) Diagnostic {
	d := Diagnostic{Success: false}
	if f, ok := err.(*wferr.Failure); ok && f != nil {
		d.Reason = f.Reason()
		d.ResidualMM, d.HasResidual = f.Residual()
		d.TerminatingSurface, d.TerminatingKind, d.HasTerminating = f.TerminatingSurface()
	}
	return d
}

// GetLastRayCalculation returns the diagnostic record of the most recent
// SetReferenceRay or CalculateOPD call on this Calculator.
func (c *Calculator) GetLastRayCalculation() Diagnostic {
	return c.lastDiag
}

// CalculateOPD evaluates the optical path difference at pupil coordinate
// (px,py) for the given field: the reference ray is solved (and cached)
// first, then the sample ray is generated in the same pupil mode the
// reference settled on, and its OPD is the difference in optical path
// length from the reference, optionally corrected for the
// reference-sphere curvature.
func (c *Calculator) CalculateOPD(px, py float64, f field.Setting, mode OPDMode) (float64, error) {
	ref, err := c.refPol.SetReferenceRay(f, c.lambda)
	if err != nil {
		c.lastDiag = diagnosticFromFailure(err)
		return math.NaN(), err
	}
	if px == 0 && py == 0 {
		c.lastDiag = Diagnostic{Ray: ref.Ray, Success: true, State: marginal.OK}
		return 0, nil
	}
	res := c.marg.GenerateMarginalRay(px, py, f, c.lambda, marginal.Options{Mode: ref.Mode})
	c.lastDiag = diagnosticFromResult(res)
	if !res.Valid {
		return math.NaN(), res.Failure
	}
	opdUm := c.oplEval.OpticalPathLength(res.Path, c.lambda, f.Infinite()) - ref.OPL
	if mode == ReferenceSphere {
		corrected, _ := c.referenceSphereCorrection(res, ref, opdUm)
		return corrected, nil
	}
	return opdUm, nil
}

// referenceSphereCorrection computes the reference-sphere OPD mode: the
// geometric correction is the sag between
// the reference sphere (centered on the reference ray's evaluation-surface
// landing point, with radius equal to the distance from the stop-plane
// point along the reference ray to that landing point) and the candidate
// ray's own landing point, projected transverse to the reference-ray
// direction. A correction whose magnitude exceeds 10 mm is judged
// numerically unreliable and the mode falls back to the simple
// (plane-wave) reference, reported via the second return value. simple is
// the caller's already-computed simple-mode OPD for res, in µm.
func (c *Calculator) referenceSphereCorrection(res marginal.Result, ref *refray.Reference, simple float64) (float64, bool) {
	evalIdx := c.reg.EvalIndex()
	if !ref.Path.Reached(evalIdx) || !res.Path.Reached(evalIdx) {
		return simple, true
	}
	pChief := ref.Path.Points[len(ref.Path.Points)-1]
	pRay := res.Path.Points[len(res.Path.Points)-1]
	dir := ref.Ray.Dir

	stopIdx := c.reg.StopIndex()
	stopPoint := ref.Ray.Origin
	if sp := stopIdx + 1; ref.Path.Reached(stopIdx) && sp < len(ref.Path.Points) {
		stopPoint = ref.Path.Points[sp]
	}
	radius := geom.Dist(stopPoint, pChief)

	transverse := geom.Sub(pRay, pChief)
	along := geom.Dot(transverse, dir)
	lateral := geom.Sub(transverse, geom.Scale(along, dir))
	rho := geom.Norm(lateral)

	var correctionMM float64
	if radius > 0 && rho < radius {
		correctionMM = radius - math.Sqrt(radius*radius-rho*rho)
	}
	if math.Abs(correctionMM) > 10 {
		return simple, true
	}
	return simple - correctionMM*1000.0, false
}

// WavefrontMap is GenerateWavefrontMap's result: per-cell pupil
// coordinates, validity mask, OPD in both µm and waves, the fitted
// Zernike model, the four tagged report layers (raw, primary, aberration,
// display), and orchestrator metadata (pupil/opd mode, restart count,
// invalid-reason histogram, plane-wave-fallback flag).
type WavefrontMap struct {
	GridSize int
	Pattern  Pattern

	PupilX []float64
	PupilY []float64
	Valid  []bool
	OPDUm  []float64
	OPDLam []float64

	Zernike zernike.Result
	Layers  map[stats.LayerKind]stats.Layer

	Rendered []float64    // populated only when MapOptions.RenderFromZernike is set
	Rays     []tracer.Ray // populated only when MapOptions.RecordRays is set

	PhysicalRadiusMM  float64
	PupilMode         string
	OPDModeName       string
	RestartCount      int
	InvalidHistogram  map[wferr.Reason]int
	PlaneWaveFallback bool
}

// MapOptions configures one GenerateWavefrontMap call.
type MapOptions struct {
	OPDMode           OPDMode
	DisplayMode       DisplayMode
	ZernikeMaxOrder   int // 0 uses the Config default
	RenderFromZernike bool
	RecordRays        bool
	Cancel            *CancelToken
	Progress          ProgressFunc
}

type cell struct {
	ix, iy int
	px, py float64
	rho    float64
}

// GenerateWavefrontMap builds the pupil grid for field f, evaluates OPD
// at every valid cell in center-out BFS order with neighbor-continuity
// hints, retries a full pass once in entrance-pupil mode (infinite field,
// auto mode) when the chief-ray sample (px=py=0) reports stop_unreachable
// in stop mode or when a stop-mode pass yields no valid sample, fits a
// Zernike model, and assembles the four report layers.
func (c *Calculator) GenerateWavefrontMap(f field.Setting, gridSize int, pattern Pattern, opts MapOptions) (*WavefrontMap, error) {
	if gridSize < 2 {
		return nil, wferr.New(wferr.InvalidInput, "grid size %d is below the minimum of 2", gridSize)
	}

	ref, err := c.refPol.SetReferenceRay(f, c.lambda)
	if err != nil {
		return nil, err
	}

	cells := buildGrid(gridSize, pattern)
	order := bfsOrder(gridSize, cells)
	n := len(cells)

	maxPasses := 1
	if f.Infinite() && c.cfg.Forced == refray.AutoMode {
		maxPasses = 2
	}

	pupilMode := ref.Mode
	restartCount := 0

	opdUm := make([]float64, n)
	valid := make([]bool, n)
	histogram := make(map[wferr.Reason]int)
	var planeWaveFallback bool
	var rays []tracer.Ray
	if opts.RecordRays {
		rays = make([]tracer.Ray, n)
	}

	total := n + 1 // +1 for the Zernike/stats phase boundary
	progressEvery := (total + 99) / 100
	if progressEvery < 1 {
		progressEvery = 1
	}
	yieldEvery := 256

	pass := 0
	for {
		for i := range opdUm {
			opdUm[i] = math.NaN()
			valid[i] = false
			if rays != nil {
				rays[i] = tracer.Ray{}
			}
		}
		for k := range histogram {
			delete(histogram, k)
		}
		planeWaveFallback = false

		deltas := make([]geom.Vec3, n)
		hasDelta := make([]bool, n)
		restart := false

		if reason, cancelled := opts.Cancel.Cancelled(); cancelled {
			return nil, wferr.New(wferr.Cancelled, "generate_wavefront_map cancelled: %s", reason)
		}

		for done, idx := range order {
			cl := cells[idx]

			if done%yieldEvery == 0 {
				if reason, cancelled := opts.Cancel.Cancelled(); cancelled {
					return nil, wferr.New(wferr.Cancelled, "generate_wavefront_map cancelled: %s", reason)
				}
			}
			if opts.Progress != nil && done%progressEvery == 0 {
				opts.Progress(done, total, "sweep")
			}

			if pattern == Circular && cl.rho > 1.0+1e-9 {
				continue
			}

			hints := neighborHints(cl, gridSize, cells, deltas, hasDelta)
			res := c.marg.GenerateMarginalRay(cl.px, cl.py, f, c.lambda, marginal.Options{
				Mode: pupilMode, Fast: true, NeighborHints: hints,
			})
			if !res.Valid && res.Failure != nil && res.Failure.Reason() == wferr.StopUnreachable {
				res = c.marg.GenerateMarginalRay(cl.px, cl.py, f, c.lambda, marginal.Options{
					Mode: pupilMode, Fast: false, NeighborHints: hints,
				})
			}

			if !res.Valid {
				if res.Failure != nil {
					histogram[res.Failure.Reason()]++
					if f.Infinite() && pupilMode == marginal.StopMode && cl.px == 0 && cl.py == 0 && res.Failure.Reason() == wferr.StopUnreachable {
						restart = true
						break
					}
				}
				continue
			}

			deltas[idx] = res.OriginDelta
			hasDelta[idx] = true
			if rays != nil {
				rays[idx] = res.Ray
			}

			raw := c.oplEval.OpticalPathLength(res.Path, c.lambda, f.Infinite()) - ref.OPL
			if opts.OPDMode == ReferenceSphere {
				corrected, fellBack := c.referenceSphereCorrection(res, ref, raw)
				raw = corrected
				if fellBack {
					planeWaveFallback = true
				}
			}
			opdUm[idx] = raw
			valid[idx] = true
		}

		if !restart && f.Infinite() && pupilMode == marginal.StopMode {
			anyValid := false
			for _, v := range valid {
				if v {
					anyValid = true
					break
				}
			}
			if !anyValid {
				// a wholly failed pass gets one automatic retry in
				// entrance mode before becoming fatal.
				restart = true
			}
		}

		if restart && pass+1 < maxPasses {
			pupilMode = marginal.EntranceMode
			c.marg.InvalidateField(f)
			c.chiefGen.InvalidateField(f)
			restartCount++
			pass++
			continue
		}
		break
	}

	if opts.Progress != nil {
		opts.Progress(n, total, "fit")
	}

	numValid := 0
	for _, v := range valid {
		if v {
			numValid++
		}
	}
	if numValid == 0 {
		return nil, wferr.New(wferr.NoValidSamples, "every pupil sample in this grid failed")
	}

	samples := make([]zernike.Sample, 0, numValid)
	for i, cl := range cells {
		if valid[i] {
			samples = append(samples, zernike.Sample{Rho: cl.rho, Theta: math.Atan2(cl.py, cl.px), OPD: opdUm[i]})
		}
	}
	maxOrder := opts.ZernikeMaxOrder
	if maxOrder == 0 {
		maxOrder = c.cfg.ZernikeMaxOrder
	}
	zfit := zernike.Fit(samples, zernike.Options{
		MaxOrder:                maxOrder,
		DisableOutlierRejection: c.cfg.DisableOutlierRejection,
		OutlierK:                c.cfg.ZernikeOutlierK,
	})

	aberration := make([]float64, n)
	for i, cl := range cells {
		if !valid[i] {
			continue
		}
		theta := math.Atan2(cl.py, cl.px)
		aberration[i] = opdUm[i] - zfit.Evaluate(cl.rho, theta, zernike.DefaultRemovedIndices)
	}

	rawOPD := append([]float64(nil), opdUm...)
	if opts.DisplayMode == PistonTiltRemoved {
		for i, cl := range cells {
			if !valid[i] {
				continue
			}
			theta := math.Atan2(cl.py, cl.px)
			opdUm[i] -= zfit.Evaluate(cl.rho, theta, pistonTiltIndices)
		}
	}

	var planePoints []stats.GridPoint
	for i, cl := range cells {
		if valid[i] && cl.rho <= displayTrimRho {
			planePoints = append(planePoints, stats.GridPoint{X: cl.px, Y: cl.py, Z: aberration[i]})
		}
	}
	plane, haveDisplay := stats.FitPlane(planePoints)
	display := make([]float64, n)
	for i, cl := range cells {
		if !valid[i] || cl.rho > displayTrimRho {
			display[i] = math.NaN()
			continue
		}
		if haveDisplay {
			display[i] = aberration[i] - plane.Value(cl.px, cl.py)
		} else {
			display[i] = aberration[i]
		}
	}

	var rendered []float64
	if opts.RenderFromZernike {
		rendered = make([]float64, n)
		for i, cl := range cells {
			if !valid[i] || cl.rho > displayTrimRho {
				rendered[i] = math.NaN()
				continue
			}
			rendered[i] = zfit.Evaluate(cl.rho, math.Atan2(cl.py, cl.px), nil)
		}
	}

	opdLam := make([]float64, n)
	pupilX := make([]float64, n)
	pupilY := make([]float64, n)
	for i, cl := range cells {
		pupilX[i], pupilY[i] = cl.px, cl.py
		if valid[i] {
			opdLam[i] = opdUm[i] / c.lambda
		} else {
			opdLam[i] = math.NaN()
		}
	}

	pupilModeName := "stop"
	if pupilMode == marginal.EntranceMode {
		pupilModeName = "entrance"
	}

	layers := map[stats.LayerKind]stats.Layer{
		stats.Raw:        stats.BuildLayer(stats.Raw, rawOPD, pupilModeName, opts.OPDMode.String(), zfit.Skipped),
		stats.Primary:    stats.BuildLayer(stats.Primary, opdUm, pupilModeName, opts.OPDMode.String(), zfit.Skipped),
		stats.Aberration: stats.BuildLayer(stats.Aberration, aberration, pupilModeName, opts.OPDMode.String(), zfit.Skipped),
		stats.Display:    stats.BuildLayer(stats.Display, display, pupilModeName, opts.OPDMode.String(), zfit.Skipped),
	}

	return &WavefrontMap{
		GridSize: gridSize, Pattern: pattern,
		PupilX: pupilX, PupilY: pupilY, Valid: valid, OPDUm: opdUm, OPDLam: opdLam,
		Zernike: zfit, Layers: layers, Rendered: rendered, Rays: rays,
		PhysicalRadiusMM: c.reg.StopSemiDiameter(),
		PupilMode:        pupilModeName, OPDModeName: opts.OPDMode.String(),
		RestartCount: restartCount, InvalidHistogram: histogram, PlaneWaveFallback: planeWaveFallback,
	}, nil
}

// buildGrid lays out a gridSize×gridSize axis-aligned grid of pupil
// samples; when gridSize is even (so the symmetric axis never lands
// exactly on 0), an extra on-axis center sample is appended rather than
// nudging any existing cell, so every other cell keeps its exact linspace
// coordinate.
func buildGrid(gridSize int, pattern Pattern) []cell {
	axis := stats.PupilAxis(gridSize)
	cells := make([]cell, 0, gridSize*gridSize+1)
	hasCenter := false
	for _, v := range axis {
		if math.Abs(v) < 1e-12 {
			hasCenter = true
			break
		}
	}
	for iy, y := range axis {
		for ix, x := range axis {
			cells = append(cells, cell{ix: ix, iy: iy, px: x, py: y, rho: math.Hypot(x, y)})
		}
	}
	if !hasCenter {
		cells = append(cells, cell{ix: gridSize, iy: gridSize, px: 0, py: 0, rho: 0})
	}
	return cells
}

// bfsOrder computes the deterministic center-out BFS visiting order:
// start from the four cells closest to the pupil center, expand through
// 4-neighbor adjacency on the (ix,iy) grid, tie-breaking by
// iy*gridSize+ix. The appended even-grid center cell (if any) has no grid
// neighbors and is always visited first, since it is the truest on-axis
// sample.
func bfsOrder(gridSize int, cells []cell) []int {
	n := len(cells)
	index := make(map[[2]int]int, n)
	for i, cl := range cells {
		index[[2]int{cl.ix, cl.iy}] = i
	}

	order := make([]int, 0, n)
	visited := make([]bool, n)

	if gridSize*gridSize < n {
		centerIdx := n - 1
		order = append(order, centerIdx)
		visited[centerIdx] = true
	}

	type seed struct {
		i   int
		rho float64
		key int
	}
	var seeds []seed
	for i := 0; i < gridSize*gridSize; i++ {
		cl := cells[i]
		seeds = append(seeds, seed{i: i, rho: cl.rho, key: cl.iy*gridSize + cl.ix})
	}
	sort.Slice(seeds, func(a, b int) bool {
		if seeds[a].rho != seeds[b].rho {
			return seeds[a].rho < seeds[b].rho
		}
		return seeds[a].key < seeds[b].key
	})
	seedCount := 4
	if seedCount > len(seeds) {
		seedCount = len(seeds)
	}

	queue := make([]int, 0, n)
	for k := 0; k < seedCount; k++ {
		i := seeds[k].i
		if !visited[i] {
			visited[i] = true
			queue = append(queue, i)
		}
	}

	dirs := [][2]int{{0, -1}, {0, 1}, {-1, 0}, {1, 0}}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		cl := cells[i]
		for _, d := range dirs {
			nx, ny := cl.ix+d[0], cl.iy+d[1]
			if nx < 0 || ny < 0 || nx >= gridSize || ny >= gridSize {
				continue
			}
			ni, ok := index[[2]int{nx, ny}]
			if !ok || visited[ni] {
				continue
			}
			visited[ni] = true
			queue = append(queue, ni)
		}
	}
	return order
}

// neighborHints gathers the origin deltas of already-visited 4-neighbors
// of cl, for the infinite-field neighbor-continuity start point. Finite
// fields ignore NeighborHints inside marginal, so this is harmless
// overhead there.
func neighborHints(cl cell, gridSize int, cells []cell, deltas []geom.Vec3, hasDelta []bool) []geom.Vec3 {
	if cl.ix >= gridSize || cl.iy >= gridSize {
		return nil
	}
	var hints []geom.Vec3
	offsets := [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	for _, off := range offsets {
		nx, ny := cl.ix+off[0], cl.iy+off[1]
		if nx < 0 || ny < 0 || nx >= gridSize || ny >= gridSize {
			continue
		}
		ni := ny*gridSize + nx
		if ni < len(hasDelta) && hasDelta[ni] {
			hints = append(hints, deltas[ni])
		}
	}
	return hints
}
