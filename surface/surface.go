// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package surface implements the surface registry: it enumerates
// recorded (non-break, non-object) surfaces, maps surface index to
// ray-path point index, and exposes each recorded surface's global
// origin and local basis composed from preceding coordinate breaks.
package surface

import (
	"strings"

	"github.com/cpmech/gosl/fun"

	"github.com/cpmech/wavefront/geom"
	"github.com/cpmech/wavefront/wferr"
	"github.com/cpmech/wavefront/wflog"
)

// Kind enumerates the surface roles in a surface table.
type Kind int

const (
	Object Kind = iota
	Refractive
	Mirror
	CoordBreak
	Stop
	Image
)

// legacyAperture is the historical sentinel value used by rule (4) of the
// stop-selection order: a semi-diameter of exactly this value marks an
// "infinite aperture" surface that must never itself be mistaken for the
// stop unless nothing else matches first.
const legacyAperture = 1.0e10

// Surface is one row of the input surface table.
type Surface struct {
	Kind         Kind
	Comment      string
	Curvature    float64
	Conic        float64
	Params       fun.Prms // asphere coefficients / manual index, named-parameter style
	SemiDiameter float64
	Thickness    float64
	Material     string
	Decenter     [2]float64 // (dx, dy)
	Tilt         [3]float64 // (tiltX, tiltY, tiltZ) radians
	LegacyType   string     // legacy type marker, rule (3) of stop selection
}

// ManualIndex reports whether the surface carries an explicit override
// refractive index, used only when the glass catalog has no entry for the
// material (priority: catalog → manual → 1.0).
func (s Surface) ManualIndex() (float64, bool) {
	for _, p := range s.Params {
		if p.N == "manualIndex" {
			return p.V, true
		}
	}
	return 0, false
}

// Registry exposes the derived surface-table view: recorded surfaces,
// surface-to-point-index mapping, per-surface origin/axes, and the
// resolved stop and evaluation surfaces.
type Registry struct {
	table     []Surface
	recorded  []int // surface indices, excluding object/coord-break
	pointOf   map[int]int
	origins   []geom.Vec3
	bases     []geom.Basis
	stopIdx   int
	evalIdx   int
	log       wflog.Logger
}

// Validate checks the surface table for the conditions that make it
// unusable: an empty table, or a table with no recordable (non-object,
// non-coord-break) surface at all.
func Validate(table []Surface) error {
	if len(table) == 0 {
		return wferr.Check("surface table is empty")
	}
	recordable := 0
	for _, s := range table {
		if s.Kind != Object && s.Kind != CoordBreak {
			recordable++
		}
	}
	if recordable == 0 {
		return wferr.Check("surface table has no recordable surfaces (all object/coord-break)")
	}
	return nil
}

// New builds a Registry from the surface table, performing the stop/eval
// selection and basis-composition work once at construction time; the
// result is immutable thereafter. Callers should call Validate first; New
// itself assumes a non-empty, recordable table.
func New(table []Surface, verbose bool) *Registry {
	r := &Registry{table: table, log: wflog.Logger{Verbose: verbose}}
	r.buildRecorded()
	r.composeBases()
	r.selectStop()
	r.selectEval()
	return r
}

func (r *Registry) buildRecorded() {
	r.pointOf = make(map[int]int)
	for i, s := range r.table {
		if s.Kind == Object || s.Kind == CoordBreak {
			continue
		}
		r.pointOf[i] = len(r.recorded)
		r.recorded = append(r.recorded, i)
	}
}

// composeBases walks the full table (including coordinate breaks, which
// contribute transforms only and are never recorded) accumulating the
// decenter/tilt composition, and snapshots (origin, basis) at each
// recorded surface, as an accumulated chain of coordinate-break
// transforms.
func (r *Registry) composeBases() {
	origin := geom.Vec3{0, 0, 0}
	basis := geom.IdentityBasis()
	z := 0.0
	r.origins = make([]geom.Vec3, 0, len(r.recorded))
	r.bases = make([]geom.Basis, 0, len(r.recorded))
	for _, s := range r.table {
		if s.Kind == CoordBreak {
			// decenter applies in the surface's current local plane, then tilt
			// rotates the basis for everything that follows.
			origin = basis.FromLocal(origin, geom.Vec3{s.Decenter[0], s.Decenter[1], 0})
			basis = basis.RotateTilt(s.Tilt[0], s.Tilt[1], s.Tilt[2])
			continue
		}
		if s.Kind == Object {
			continue
		}
		// advance along the current local z-axis by the *previous* surface's
		// thickness before recording this surface's origin.
		origin = geom.Add(origin, geom.Scale(z, basis.Ez))
		r.origins = append(r.origins, origin)
		r.bases = append(r.bases, basis)
		z = s.Thickness
	}
}

// selectStop resolves the aperture stop: first hit wins among
// (1) explicit Stop kind, (2) comment mentions stop/aperture/絞り,
// (3) legacy type marker, (4) legacy-infinite-aperture sentinel,
// (5) strictly smallest positive semi-diameter.
func (r *Registry) selectStop() {
	for idx, s := range r.recorded {
		if r.table[s].Kind == Stop {
			r.stopIdx = idx
			return
		}
	}
	for idx, s := range r.recorded {
		c := strings.ToLower(r.table[s].Comment)
		if strings.Contains(c, "stop") || strings.Contains(c, "aperture") || strings.Contains(r.table[s].Comment, "絞り") {
			r.stopIdx = idx
			return
		}
	}
	for idx, s := range r.recorded {
		if r.table[s].LegacyType != "" {
			r.stopIdx = idx
			return
		}
	}
	for idx, s := range r.recorded {
		if r.table[s].SemiDiameter == legacyAperture {
			r.stopIdx = idx
			return
		}
	}
	best := -1
	bestSD := 0.0
	for idx, s := range r.recorded {
		sd := r.table[s].SemiDiameter
		if sd > 0 && (best == -1 || sd < bestSD) {
			best = idx
			bestSD = sd
		}
	}
	if best >= 0 {
		r.stopIdx = best
		return
	}
	// failure: clamp to middle of table and log.
	r.stopIdx = len(r.recorded) / 2
	wflog.Warn("stop surface could not be identified; clamped to middle surface %d\n", r.stopIdx)
}

// selectEval picks the last image-marked recorded surface, else the last
// recorded surface.
func (r *Registry) selectEval() {
	for idx := len(r.recorded) - 1; idx >= 0; idx-- {
		if r.table[r.recorded[idx]].Kind == Image {
			r.evalIdx = idx
			return
		}
	}
	r.evalIdx = len(r.recorded) - 1
}

// RecordedSurfaces returns the surface-table indices of every recorded surface.
func (r *Registry) RecordedSurfaces() []int {
	out := make([]int, len(r.recorded))
	copy(out, r.recorded)
	return out
}

// PointIndexOf maps a surface-table index to its ray-path point index
// (point 0 is the ray origin; point k corresponds to recorded surface k-1).
func (r *Registry) PointIndexOf(surfaceIndex int) (int, bool) {
	p, ok := r.pointOf[surfaceIndex]
	if !ok {
		return 0, false
	}
	return p + 1, true
}

// Origin returns the global origin of recorded surface s (index into the
// recorded list, 0-based).
func (r *Registry) Origin(s int) geom.Vec3 {
	if s < 0 || s >= len(r.origins) {
		wferr.Panic("surface registry: origin index %d out of range [0,%d)", s, len(r.origins))
	}
	return r.origins[s]
}

// Axes returns the local basis of recorded surface s.
func (r *Registry) Axes(s int) geom.Basis {
	if s < 0 || s >= len(r.bases) {
		wferr.Panic("surface registry: axes index %d out of range [0,%d)", s, len(r.bases))
	}
	return r.bases[s]
}

// StopIndex returns the recorded-list index of the aperture stop.
func (r *Registry) StopIndex() int { return r.stopIdx }

// EvalIndex returns the recorded-list index of the evaluation surface.
func (r *Registry) EvalIndex() int { return r.evalIdx }

// Table returns the raw surface table row for a recorded-list index.
func (r *Registry) Table(s int) Surface {
	return r.table[r.recorded[s]]
}

// StopSemiDiameter returns R_stop, the stop surface's semi-diameter.
func (r *Registry) StopSemiDiameter() float64 {
	return r.Table(r.stopIdx).SemiDiameter
}

// SurfaceIndex returns the original surface-table index of recorded-list
// index s (the inverse of the mapping built into RecordedSurfaces).
func (r *Registry) SurfaceIndex(s int) int {
	return r.recorded[s]
}

// NumRecorded returns the number of recorded surfaces.
func (r *Registry) NumRecorded() int {
	return len(r.recorded)
}

// ObjectThickness returns the object-space thickness (distance from the
// object point to the first physical surface), 0 if the table is empty or
// does not begin with an Object row.
func (r *Registry) ObjectThickness() float64 {
	if len(r.table) == 0 || r.table[0].Kind != Object {
		return 0
	}
	return r.table[0].Thickness
}

// FirstSurfaceZ returns the global z-coordinate of the first recorded
// surface, used by the geometric back-projection formulas.
func (r *Registry) FirstSurfaceZ() float64 {
	if len(r.origins) == 0 {
		return 0
	}
	return r.origins[0][2]
}

// MaxSurfaceIndex returns max(eval_index, stop_index) in the *original*
// surface-table numbering, the bound the tracer contract traces to.
func (r *Registry) MaxSurfaceIndex() int {
	se := r.recorded[r.evalIdx]
	ss := r.recorded[r.stopIdx]
	if se > ss {
		return se
	}
	return ss
}

// NumReachable returns the number of recorded surfaces a trace can ever
// return points for: max(eval_index, stop_index)+1. A recorded surface
// past both the stop and the evaluation surface (e.g. a trailing detector
// row) is never traced to, so callers validating a ray path's length must
// bound against this count, not NumRecorded.
func (r *Registry) NumReachable() int {
	if r.evalIdx > r.stopIdx {
		return r.evalIdx + 1
	}
	return r.stopIdx + 1
}
