// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build linux

package alloctrack

import (
	"os"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// osThreadID returns the kernel thread id of the calling goroutine's
// current OS thread.
func osThreadID() uint32 {
	return uint32(unix.Gettid())
}

// osThreadNames maps the kernel thread ids of the current process to
// their comm names (one /proc walk). Failures degrade to an empty map:
// the affected slots are simply skipped in the thread report.
func osThreadNames() map[uint32]string {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		if WARNon() {
			WARN("proc fs not available: %s\n", err)
		}
		return nil
	}
	procs, err := fs.AllThreads(os.Getpid())
	if err != nil {
		if WARNon() {
			WARN("thread listing failed: %s\n", err)
		}
		return nil
	}
	names := make(map[uint32]string, len(procs))
	for _, p := range procs {
		comm, err := p.Comm()
		if err != nil {
			continue // thread exited mid-walk
		}
		names[uint32(p.PID)] = comm
	}
	return names
}
