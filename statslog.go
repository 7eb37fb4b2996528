// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"sync/atomic"
	"time"

	"github.com/intuitivelabs/timestamp"
	"github.com/intuitivelabs/wtimer"
)

// periodic usage summary logging, driven by a timer wheel.

// timer wheel for the periodic stats logger
var statsTimers wtimer.WTimer

var statsLnk wtimer.TimerLnk

const statsTimersFlags = 0
const statsTimerTick = 100 * time.Millisecond // timer tick length

// 1 while the periodic logger runs, atomic
var statsOn uint32

var startTS = timestamp.Now()

// StartStatsLog starts logging a one-line usage summary every intvl
// (intvl <= 0 falls back to the configured StatsIntvl). It returns false
// if the logger is already running.
func StartStatsLog(intvl time.Duration) bool {
	if intvl <= 0 {
		intvl = GetCfg().StatsIntvl
	}
	if !atomic.CompareAndSwapUint32(&statsOn, 0, 1) {
		return false
	}
	// tick values should not be too low (< 50ms), the expire error is
	// +/- tick most of the time
	if err := statsTimers.Init(statsTimerTick); err != nil {
		Log.PANIC("stats timers init failed: %s\n", err)
	}
	statsTimers.Start()
	if err := statsTimers.InitTimer(&statsLnk, statsTimersFlags); err != nil {
		Log.PANIC("stats timer init failed: %s\n", err)
	}
	if err := statsTimers.Add(&statsLnk, intvl, statsLogTimer,
		intvl); err != nil {
		Log.PANIC("stats timer add failed for interval %s: %s\n", intvl, err)
	}
	return true
}

// StopStatsLog stops the periodic logger (waiting for an in-flight run
// to finish) and shuts its timer wheel down.
func StopStatsLog() {
	if !atomic.CompareAndSwapUint32(&statsOn, 1, 0) {
		return
	}
	statsTimers.DelWait(&statsLnk)
	statsTimers.Shutdown()
}

// statsLogTimer is the periodic timeout handler, registered as a wtimer
// callback. It returns true and the interval to keep the timer periodic.
func statsLogTimer(wt *wtimer.WTimer, h *wtimer.TimerLnk,
	arg interface{}) (bool, time.Duration) {
	intvl := arg.(time.Duration)
	uptime := timestamp.Now().Sub(startTS)
	Log.INFO("stats: uptime %s live allocs %d goroutines %d in use %s\n",
		uptime.Round(time.Second), LiveAllocs(), slotsInUse(),
		Size(InUseBytes()))
	return true, intvl
}
