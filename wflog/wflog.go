// Copyright 2024 The Wavefront Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wflog implements the calculator's verbosity-gated diagnostic
// printing.
package wflog

import "github.com/cpmech/gosl/io"

// Logger gates diagnostic output behind a Verbose flag.
type Logger struct {
	Verbose bool
}

// Pf prints a formatted diagnostic line if verbose output is enabled.
func (l *Logger) Pf(format string, args ...interface{}) {
	if l == nil || !l.Verbose {
		return
	}
	io.Pf(format, args...)
}

// Warn prints a formatted warning line regardless of verbosity, in yellow,
// for non-fatal anomalies (e.g. a stop surface that could not be
// identified and was clamped).
func Warn(format string, args ...interface{}) {
	io.Pfyel("warning: "+format, args...)
}
