// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package logging

import (
	"fmt"
	"io"

	"github.com/zerodha/logf"
)

// logfLogger adapts a logf.Logger to L.
//
// Formatted messages become the logf message; unformatted arguments are
// joined like fmt.Sprint.
type logfLogger struct {
	lo logf.Logger
}

// Logf returns an L that writes to lo.
func Logf(lo logf.Logger) L { return &logfLogger{lo: lo} }

// New returns an L writing logfmt lines to w. If debug is true, debug
// messages are included.
func New(w io.Writer, debug bool) L {
	opts := logf.Opts{
		Writer:               w,
		EnableCaller:         debug,
		CallerSkipFrameCount: 3,
	}
	if debug {
		opts.Level = logf.DebugLevel
	}
	return Logf(logf.New(opts))
}

func (l *logfLogger) Error(args ...interface{}) { l.lo.Error(fmt.Sprint(args...)) }
func (l *logfLogger) Warn(args ...interface{})  { l.lo.Warn(fmt.Sprint(args...)) }
func (l *logfLogger) Info(args ...interface{})  { l.lo.Info(fmt.Sprint(args...)) }
func (l *logfLogger) Debug(args ...interface{}) { l.lo.Debug(fmt.Sprint(args...)) }

func (l *logfLogger) Errorf(f string, args ...interface{}) { l.lo.Error(fmt.Sprintf(f, args...)) }
func (l *logfLogger) Warnf(f string, args ...interface{})  { l.lo.Warn(fmt.Sprintf(f, args...)) }
func (l *logfLogger) Infof(f string, args ...interface{})  { l.lo.Info(fmt.Sprintf(f, args...)) }
func (l *logfLogger) Debugf(f string, args ...interface{}) { l.lo.Debug(fmt.Sprintf(f, args...)) }
