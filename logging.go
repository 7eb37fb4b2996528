// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"github.com/intuitivelabs/slog"
)

// Log is the generic alloctrack logger. Fatal bookkeeping violations
// (double free, slot exhaustion) go through Log.PANIC.
var Log slog.Log = slog.New(slog.LNOTICE,
	slog.LbackTraceS|slog.LlocInfoS, slog.LStdErr)

// DBGon returns true if debug messages are enabled.
func DBGon() bool {
	return Log.DBGon()
}

// WARNon returns true if warning messages are enabled.
func WARNon() bool {
	return Log.WARNon()
}

func DBG(f string, a ...interface{}) {
	Log.DBG(f, a...)
}

func INFO(f string, a ...interface{}) {
	Log.INFO(f, a...)
}

func WARN(f string, a ...interface{}) {
	Log.WARN(f, a...)
}

func ERR(f string, a ...interface{}) {
	Log.ERR(f, a...)
}

func BUG(f string, a ...interface{}) {
	Log.BUG(f, a...)
}
