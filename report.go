// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"sort"
)

// report generation. Reports are immutable value objects built on
// demand; they hold no references back into the live ledgers. They run
// with the calling goroutine's reentrancy guard engaged, so the
// allocations they perform (output slices, clones, resolved symbols) do
// not perturb the state they are reading.

// BacktraceMetric is the allocation information of one call site.
type BacktraceMetric struct {
	// bytes allocated here
	Allocated uint64
	// bytes allocated here that have since been freed
	Freed uint64
	// number of allocations
	Allocations uint64
	// capture mode of the owning tracker (selects rendering detail)
	Mode BacktraceMode
}

// InUse returns the bytes currently allocated and not freed, saturating
// at 0 (timing skew can make Freed overshoot momentarily).
func (m *BacktraceMetric) InUse() uint64 {
	if m.Freed > m.Allocated {
		return 0
	}
	return m.Allocated - m.Freed
}

// AvgAllocation returns the average allocation size (0 with no
// allocations).
func (m *BacktraceMetric) AvgAllocation() float64 {
	if m.Allocations == 0 {
		return 0
	}
	return float64(m.Allocated) / float64(m.Allocations)
}

// BacktraceEntry is one (resolved backtrace, metric) report line.
type BacktraceEntry struct {
	Trace  Backtrace
	Metric BacktraceMetric
}

// BacktraceReport is the per-call-site usage report, sorted ascending by
// in-use bytes (the biggest consumers render last, closest to the
// reader's eye at a terminal).
type BacktraceReport struct {
	Entries []BacktraceEntry
}

// BtFilterF decides whether a call site makes it into the report. It
// runs on an unresolved backtrace (resolution happens after filtering,
// only for passing entries) and outside any bookkeeping lock.
type BtFilterF func(bt *Backtrace, m *BacktraceMetric) bool

// GetBacktraceReport builds the call-site usage report. With capture
// disabled (or before any tracked allocation) the report is empty. A nil
// filter passes everything.
func GetBacktraceReport(filter BtFilterF) *BacktraceReport {
	_, ts := curSlot()
	prev := ts.enterOp()
	defer ts.exitOp(prev)

	snaps := traceLedger.snapshot()
	out := make([]BacktraceEntry, 0, len(snaps))
	for i := range snaps {
		bt := Backtrace{pcs: snaps[i].pcs, hash: snaps[i].hash}
		if filter != nil && !filter(&bt, &snaps[i].metric) {
			continue
		}
		// deferred, expensive: only entries that passed the filter
		bt.resolve()
		out = append(out, BacktraceEntry{Trace: bt, Metric: snaps[i].metric})
	}
	// stable: equal in-use entries keep ledger iteration order
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Metric.InUse() < out[j].Metric.InUse()
	})
	return &BacktraceReport{Entries: out}
}

// ThreadMetric is the per-display-name allocation summary.
// Same-named goroutines are merged.
type ThreadMetric struct {
	// total bytes allocated by this thread
	TotalAlloc uint64
	// bytes of this thread's allocations that have been freed
	// (by any named thread, itself included)
	TotalDidFree uint64
	// bytes this thread freed, whoever allocated them
	TotalFreed uint64
	// bytes allocated by this thread and not freed (saturating)
	CurrentUsed uint64
	// this thread's allocations freed per freeing thread name
	FreedBy map[string]uint64
}

// ThreadReport maps thread display names to their metrics.
type ThreadReport struct {
	Threads map[string]*ThreadMetric
}

// ThreadNamer resolves OS thread ids to names for the slots that have no
// goroutine label. Replaceable (tests, other platforms); the default
// walks /proc on linux and resolves nothing elsewhere.
var ThreadNamer func() map[uint32]string = osThreadNames

// slotNames resolves a display name per assigned slot: the goroutine
// label when set, else the OS thread name for the captured tid. An empty
// name means the slot is skipped from the thread report (its counters
// keep the bytes, only this report omits them).
func slotNames(n int) []string {
	names := make([]string, n)
	var osNames map[uint32]string
	osNamesDone := false
	for i := 0; i < n; i++ {
		if name, ok := threadStore[i].getLabel(); ok {
			names[i] = name
			continue
		}
		tid := threadStore[i].osTID()
		if tid == 0 {
			continue
		}
		if !osNamesDone {
			// one /proc walk per report, and only if some slot
			// actually needs it
			osNamesDone = true
			if ThreadNamer != nil {
				osNames = ThreadNamer()
			}
		}
		names[i] = osNames[tid]
	}
	return names
}

// GetThreadReport builds the per-thread usage report.
// Note that the numbers are not a synchronized snapshot and have slight
// timing skew under traffic.
func GetThreadReport() *ThreadReport {
	_, ts := curSlot()
	prev := ts.enterOp()
	defer ts.exitOp(prev)

	n := slotsInUse()
	names := slotNames(n)
	metrics := make(map[string]*ThreadMetric)

	for i := 0; i < n; i++ {
		if names[i] == "" {
			continue
		}
		tm := metrics[names[i]]
		if tm == nil {
			tm = &ThreadMetric{FreedBy: make(map[string]uint64)}
			metrics[names[i]] = tm
		}
		alloced := threadStore[i].alloc.Get()
		tm.TotalAlloc += alloced

		// bytes allocated by slot i, freed by any named slot j
		var totalFree uint64
		for j := 0; j < n; j++ {
			if names[j] == "" {
				continue
			}
			freed := threadStore[j].free[i].Get()
			if freed == 0 {
				continue
			}
			totalFree += freed
			tm.FreedBy[names[j]] += freed
		}
		tm.TotalDidFree += totalFree

		// bytes slot i itself freed, any origin
		var didFree uint64
		for j := 0; j < n; j++ {
			didFree += threadStore[i].free[j].Get()
		}
		tm.TotalFreed += didFree

		if alloced > totalFree {
			tm.CurrentUsed += alloced - totalFree
		}
	}
	return &ThreadReport{Threads: metrics}
}

// Names returns the report's thread names in render order (sorted).
func (r *ThreadReport) Names() []string {
	names := make([]string, 0, len(r.Threads))
	for name := range r.Threads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
