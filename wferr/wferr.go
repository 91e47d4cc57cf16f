// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wferr implements the calculator's error taxonomy: a single
// tagged Failure value rather than a deep hierarchy of error types,
// tagging one error constructor with a descriptive, greppable message
// instead of inventing a new error type per failure site.
package wferr

import (
	"github.com/cpmech/gosl/chk"
	"github.com/cpmech/gosl/io"
)

// Reason tags the kind of failure a calculator operation can report.
type Reason int

const (
	// InvalidInput: empty/invalid surface table, out-of-range stop index, sampling size < 2.
	InvalidInput Reason = iota
	// NoReferenceRay: all reference-ray strategies failed.
	NoReferenceRay
	// NoValidSamples: the whole grid produced zero finite OPD samples.
	NoValidSamples
	// StopUnreachable: a per-sample marginal ray never reached the stop plane.
	StopUnreachable
	// StopMiss: the ray reached the stop plane but missed the target beyond stopMissTol.
	StopMiss
	// EvalUnreachable: the ray reached the stop but not the evaluation surface.
	EvalUnreachable
	// NumericFailure: non-finite OPL, singular Jacobian, Brent non-convergence.
	NumericFailure
	// Cancelled: cooperative cancellation signal.
	Cancelled
)

// String names the reason for diagnostics and histogram keys.
func (r Reason) String() string {
	switch r {
	case InvalidInput:
		return "invalid_input"
	case NoReferenceRay:
		return "no_reference_ray"
	case NoValidSamples:
		return "no_valid_samples"
	case StopUnreachable:
		return "stop_unreachable"
	case StopMiss:
		return "stop_miss"
	case EvalUnreachable:
		return "eval_unreachable"
	case NumericFailure:
		return "numeric_failure"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Failure is the value returned (never panicked) by solver code for any
// per-call or per-sample failure kind. It carries a diagnostic payload
// useful for caller-side display: stop-miss residual in mm, terminating
// surface index/kind for physical-aperture blocks, and a one-line
// human-readable hint.
type Failure struct {
	reason        Reason
	hint          string
	residualMM    float64
	haveResidual  bool
	termSurface   int
	termKind      string
	haveTermInfo  bool
	vignetteAngle float64
	haveVignette  bool
}

// New builds a Failure of the given reason with a formatted hint, in the
// same spirit as chk.Err's single-constructor-with-message idiom.
func New(reason Reason, format string, args ...interface{}) *Failure {
	return &Failure{reason: reason, hint: io.Sf(format, args...)}
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return io.Sf("%s: %s", f.reason, f.hint)
}

// Reason returns the tagged failure kind.
func (f *Failure) Reason() Reason {
	if f == nil {
		return InvalidInput
	}
	return f.reason
}

// WithResidual attaches a stop-miss residual (mm) to the failure.
func (f *Failure) WithResidual(mm float64) *Failure {
	f.residualMM = mm
	f.haveResidual = true
	return f
}

// Residual returns the stop-miss residual, if any was attached.
func (f *Failure) Residual() (float64, bool) {
	if f == nil {
		return 0, false
	}
	return f.residualMM, f.haveResidual
}

// WithTerminatingSurface records the surface index/kind where a physical
// aperture block terminated the ray.
func (f *Failure) WithTerminatingSurface(index int, kind string) *Failure {
	f.termSurface = index
	f.termKind = kind
	f.haveTermInfo = true
	return f
}

// TerminatingSurface returns the recorded terminating surface, if any.
func (f *Failure) TerminatingSurface() (index int, kind string, ok bool) {
	if f == nil {
		return 0, "", false
	}
	return f.termSurface, f.termKind, f.haveTermInfo
}

// WithVignetteAngle records the field-angle magnitude found by the
// vignetting-boundary bisection search.
func (f *Failure) WithVignetteAngle(rad float64) *Failure {
	f.vignetteAngle = rad
	f.haveVignette = true
	return f
}

// VignetteAngle returns the recorded vignetting-boundary angle, if any.
func (f *Failure) VignetteAngle() (float64, bool) {
	if f == nil {
		return 0, false
	}
	return f.vignetteAngle, f.haveVignette
}

// Panic is reserved for broken internal invariants (not caller-input
// errors): "this should never happen" conditions inside a package whose
// own construction-time validation already ran.
func Panic(format string, args ...interface{}) {
	chk.Panic(format, args...)
}

// Check re-exports chk.Err for sites that want a plain error without a
// Reason attached (construction-time validation that never reaches a
// solver loop).
func Check(format string, args ...interface{}) error {
	return chk.Err(format, args...)
}
