// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"testing"
	"time"
)

func TestStatsLogStartStop(t *testing.T) {
	if !StartStatsLog(time.Second) {
		t.Fatalf("StartStatsLog failed")
	}
	if StartStatsLog(time.Second) {
		t.Errorf("second StartStatsLog succeeded while running")
	}
	StopStatsLog()
	StopStatsLog() // stopping a stopped logger is a no-op
}
