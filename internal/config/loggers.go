// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import "log"

// Loggers holds the standard loggers and a verbosity flag, the same shape
// as golang-dep's cmd/dep/loggers.go. It is carried on Session rather than
// kept in a package-level global; cmd/entropy-core reports its failures
// through Errf. The resolver, solver, fetcher and executor do not take a
// *Loggers and do not log.
type Loggers struct {
	Out, Err *log.Logger
	Verbose  bool
}

// Logf writes to Out only when Verbose is set.
func (l *Loggers) Logf(format string, args ...interface{}) {
	if l == nil || l.Out == nil || !l.Verbose {
		return
	}
	l.Out.Printf(format, args...)
}

// Errf always writes to Err, regardless of verbosity.
func (l *Loggers) Errf(format string, args ...interface{}) {
	if l == nil || l.Err == nil {
		return
	}
	l.Err.Printf(format, args...)
}
