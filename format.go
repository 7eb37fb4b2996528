// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// report rendering: human readable text and CSV. Pure presentation,
// everything here consumes report values only.

// Size renders a byte count with B/KB/MB suffixes (1024 based, integer
// division like the rest of the unix tooling).
type Size uint64

func (s Size) String() string {
	switch {
	case s < 1024:
		return fmt.Sprintf("%d B", uint64(s))
	case s < 1024*1024:
		return fmt.Sprintf("%d KB", uint64(s)/1024)
	default:
		return fmt.Sprintf("%d MB", uint64(s)/1024/1024)
	}
}

// SizeF64 is Size for fractional values (averages).
type SizeF64 float64

func (s SizeF64) String() string {
	switch {
	case s < 1024:
		return fmt.Sprintf("%.1f B", float64(s))
	case s < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(s)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(s)/1024/1024)
	}
}

func (m *BacktraceMetric) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "allocated: %s\n", Size(m.Allocated))
	fmt.Fprintf(&b, "allocations: %d\n", m.Allocations)
	fmt.Fprintf(&b, "avg_allocation: %s\n", SizeF64(m.AvgAllocation()))
	fmt.Fprintf(&b, "freed: %s\n", Size(m.Freed))
	fmt.Fprintf(&b, "total_used: %s\n", Size(m.InUse()))
	return b.String()
}

func (tm *ThreadMetric) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "total_alloc: %s\n", Size(tm.TotalAlloc))
	fmt.Fprintf(&b, "total_did_free: %s\n", Size(tm.TotalDidFree))
	fmt.Fprintf(&b, "total_freed: %s\n", Size(tm.TotalFreed))
	fmt.Fprintf(&b, "current_used: %s\n", Size(tm.CurrentUsed))
	names := make([]string, 0, len(tm.FreedBy))
	for name := range tm.FreedBy {
		names = append(names, name)
	}
	// stable, human diff-able output
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "freed by %s: %s\n", name, Size(tm.FreedBy[name]))
	}
	return b.String()
}

func (r *ThreadReport) String() string {
	var b strings.Builder
	for _, name := range r.Names() {
		fmt.Fprintf(&b, "%s:\n%s\n", name, r.Threads[name])
	}
	return b.String()
}

// function name prefixes hidden in short mode: the tracker's own
// frames, runtime/allocator internals and the start-up machinery
var btHideFuncs = []string{
	"github.com/intuitivelabs/alloctrack.",
	"runtime.",
	"runtime/",
	"testing.",
}

func hiddenFrame(fn string) bool {
	for _, pfx := range btHideFuncs {
		if strings.HasPrefix(fn, pfx) {
			return true
		}
	}
	return false
}

// Format renders the resolved backtrace, one frame per line pair
// (function, then file:line). full == false filters the
// library-internal frames and truncates paths to the current working
// directory; a backtrace left empty by the filter degrades to the raw
// pc list instead of rendering nothing.
func (bt *Backtrace) Format(full bool) string {
	var b strings.Builder
	cwd, _ := os.Getwd()
	n := 0
	for _, fr := range bt.frames {
		if !full && fr.Func != "" && hiddenFrame(fr.Func) {
			continue
		}
		writeFrame(&b, fr, full, cwd)
		n++
	}
	if n == 0 {
		for _, fr := range bt.frames {
			writeFrame(&b, fr, true, "")
		}
	}
	return b.String()
}

func writeFrame(b *strings.Builder, fr Frame, full bool, cwd string) {
	if fr.Func == "" {
		// unwinder could not describe this frame, keep it raw
		fmt.Fprintf(b, "%#x\n\t<unknown>\n", fr.PC)
		return
	}
	file := fr.File
	if !full && cwd != "" {
		if rel := strings.TrimPrefix(file, cwd+"/"); rel != file {
			file = rel
		}
	}
	fmt.Fprintf(b, "%s\n\t%s:%d\n", fr.Func, file, fr.Line)
}

func (e *BacktraceEntry) String() string {
	return e.Trace.Format(e.Metric.Mode == BtFull) + e.Metric.String()
}

func (r *BacktraceReport) String() string {
	var b strings.Builder
	for i := range r.Entries {
		b.WriteString(r.Entries[i].String())
		b.WriteString("\n\n")
	}
	return b.String()
}

// CSV renders the report as comma separated values:
// one header row, then one row per entry with the backtrace field
// quoted, backslashes and newlines escaped (in that order, so the
// escaping is recoverable).
func (r *BacktraceReport) CSV() string {
	var b strings.Builder
	b.WriteString("allocated,allocations,avg_allocation,freed," +
		"total_used,backtrace\n")
	for i := range r.Entries {
		e := &r.Entries[i]
		fmt.Fprintf(&b, "%d,%d,%s,%d,%d,\"%s\"\n",
			e.Metric.Allocated,
			e.Metric.Allocations,
			strconv.FormatFloat(e.Metric.AvgAllocation(), 'f', -1, 64),
			e.Metric.Freed,
			e.Metric.InUse(),
			csvEscape(e.Trace.Format(e.Metric.Mode == BtFull)))
	}
	return b.String()
}

func csvEscape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}
