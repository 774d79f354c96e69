// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package logging defines the logger that bag readers, writers and storage
// backends report diagnostics through.
package logging

// L receives diagnostics from gorosbag packages.
//
// Configuration structs such as rosbag.Config and storage.Options hold an L;
// a nil L is replaced with Nop by Must. Command line tools pass the result of
// New, which writes through logf.
type L interface {
	// Error reports a failure that ends the current operation.
	Error(args ...interface{})
	// Warn reports a skipped item or a tolerated inconsistency, such as an
	// unreadable message during a copy.
	Warn(args ...interface{})
	// Info reports completed bag-level work: files written, bags copied.
	Info(args ...interface{})
	// Debug reports per-file detail, such as staging and chunk handling.
	Debug(args ...interface{})

	Errorf(fmt string, args ...interface{})
	Warnf(fmt string, args ...interface{})
	Infof(fmt string, args ...interface{})
	Debugf(fmt string, args ...interface{})
}

// Nop discards everything.
var Nop L = nopLogger{}

// Must returns l, or Nop if l is nil.
func Must(l L) L {
	if l != nil {
		return l
	}
	return Nop
}

type nopLogger struct{}

func (nopLogger) Error(...interface{}) {}
func (nopLogger) Warn(...interface{})  {}
func (nopLogger) Info(...interface{})  {}
func (nopLogger) Debug(...interface{}) {}

func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}
