// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack_test

import (
	"fmt"
	"os"

	"github.com/intuitivelabs/alloctrack"
)

// Wrap the build-selected backend, attribute some traffic and render the
// reports.
func Example() {
	track := alloctrack.New(alloctrack.DefaultAllocator, alloctrack.BtShort)
	alloctrack.SetGoroutineLabel("main")

	p := track.Alloc(1024)
	fmt.Printf("in use: %s\n", alloctrack.Size(alloctrack.InUseBytes()))

	done := make(chan struct{})
	go func() {
		alloctrack.SetGoroutineLabel("worker")
		track.Free(p, 1024)
		close(done)
	}()
	<-done

	fmt.Print(alloctrack.GetThreadReport())

	report := alloctrack.GetBacktraceReport(
		func(bt *alloctrack.Backtrace, m *alloctrack.BacktraceMetric) bool {
			return m.Allocated >= 1024
		})
	os.Stdout.WriteString(report.CSV())
}
