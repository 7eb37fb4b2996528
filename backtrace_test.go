// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"strings"
	"testing"
	"unsafe"
)

func TestHashPCs(t *testing.T) {
	a := []uintptr{0x1000, 0x2000, 0x3000}
	b := []uintptr{0x1000, 0x2000, 0x3001}

	ha := hashPCs(a)
	if ha == 0 {
		t.Errorf("hash 0 is reserved for capture-disabled")
	}
	if ha != hashPCs(a) {
		t.Errorf("hash not deterministic")
	}
	if ha == hashPCs(b) {
		t.Errorf("different stacks hashed equal: %016x", ha)
	}
	if hashPCs(nil) == 0 {
		t.Errorf("empty stack hashed to the reserved value")
	}
}

func TestCaptureModeNone(t *testing.T) {
	pcs, hash := captureBacktrace(BtNone)
	if pcs != nil || hash != 0 {
		t.Errorf("BtNone captured %d frames, hash %016x", len(pcs), hash)
	}
}

// one call deep so the first captured frame is the caller of this helper
func captureHere() ([]uintptr, uint64) {
	return captureBacktrace(BtFull)
}

func TestBacktraceResolve(t *testing.T) {
	pcs, hash := captureHere()
	if hash == 0 || len(pcs) == 0 {
		t.Fatalf("capture failed: %d frames, hash %016x", len(pcs), hash)
	}
	bt := Backtrace{pcs: pcs, hash: hash}
	bt.resolve()
	frames := bt.Frames()
	if len(frames) == 0 {
		t.Fatalf("no frames resolved from %d pcs", len(pcs))
	}
	if !strings.Contains(frames[0].Func, "TestBacktraceResolve") {
		t.Errorf("first frame = %q, expected the calling test",
			frames[0].Func)
	}
	if frames[0].Line == 0 || frames[0].File == "" {
		t.Errorf("frame missing location: %+v", frames[0])
	}
}

func TestBacktraceReportDisabled(t *testing.T) {
	ResetStats()
	ta := newTestAllocator()
	at := New(ta, BtNone)

	p := at.Alloc(100)
	defer at.Free(p, 100)
	if r := GetBacktraceReport(nil); len(r.Entries) != 0 {
		t.Errorf("%d report entries with capture disabled", len(r.Entries))
	}
}

func TestBacktraceDedupe(t *testing.T) {
	ResetStats()
	ta := newTestAllocator()
	at := New(ta, BtShort)

	ptrs := make([]unsafe.Pointer, 0, 4)
	for i := 0; i < 4; i++ {
		ptrs = append(ptrs, at.Alloc(100)) // one call site, 4 allocations
	}
	r := GetBacktraceReport(nil)
	if len(r.Entries) != 1 {
		t.Fatalf("%d call sites reported, expected 1 (deduped)",
			len(r.Entries))
	}
	m := &r.Entries[0].Metric
	if m.Allocations != 4 || m.Allocated != 400 {
		t.Errorf("metric = %d allocations, %d bytes, expected 4, 400",
			m.Allocations, m.Allocated)
	}
	if m.AvgAllocation() != 100 {
		t.Errorf("AvgAllocation() = %f, expected 100", m.AvgAllocation())
	}

	at.Free(ptrs[0], 100)
	at.Free(ptrs[1], 100)
	r = GetBacktraceReport(nil)
	if len(r.Entries) != 1 {
		t.Fatalf("%d call sites after partial free", len(r.Entries))
	}
	m = &r.Entries[0].Metric
	if m.Freed != 200 || m.InUse() != 200 {
		t.Errorf("freed %d in-use %d, expected 200, 200", m.Freed, m.InUse())
	}
	at.Free(ptrs[2], 100)
	at.Free(ptrs[3], 100)
}

func allocAt(at *AllocTrack, sz uint) unsafe.Pointer {
	return at.Alloc(sz)
}

func TestBacktraceReportSorted(t *testing.T) {
	ResetStats()
	ta := newTestAllocator()
	at := New(ta, BtShort)

	// three distinct call sites with different in-use sizes
	p1 := allocAt(at, 3000)
	p2 := allocAt(at, 1000)
	p3 := allocAt(at, 2000)

	r := GetBacktraceReport(nil)
	if len(r.Entries) != 3 {
		t.Fatalf("%d call sites reported, expected 3", len(r.Entries))
	}
	for i := 1; i < len(r.Entries); i++ {
		if r.Entries[i-1].Metric.InUse() > r.Entries[i].Metric.InUse() {
			t.Errorf("entries not ascending by in-use bytes: %d before %d",
				r.Entries[i-1].Metric.InUse(), r.Entries[i].Metric.InUse())
		}
	}
	at.Free(p1, 3000)
	at.Free(p2, 1000)
	at.Free(p3, 2000)
}

func TestBacktraceReportFilter(t *testing.T) {
	ResetStats()
	ta := newTestAllocator()
	at := New(ta, BtShort)

	p1 := allocAt(at, 5000)
	p2 := allocAt(at, 10)

	r := GetBacktraceReport(func(bt *Backtrace, m *BacktraceMetric) bool {
		if bt.Hash() == 0 {
			t.Errorf("filter called with zero hash")
		}
		if len(bt.Frames()) != 0 {
			t.Errorf("filter saw a resolved backtrace")
		}
		return m.InUse() >= 1000
	})
	if len(r.Entries) != 1 {
		t.Fatalf("%d entries passed the filter, expected 1", len(r.Entries))
	}
	if r.Entries[0].Metric.Allocated != 5000 {
		t.Errorf("wrong entry passed: %d bytes",
			r.Entries[0].Metric.Allocated)
	}
	if len(r.Entries[0].Trace.Frames()) == 0 {
		t.Errorf("passing entry not resolved")
	}
	at.Free(p1, 5000)
	at.Free(p2, 10)
}

func TestBacktraceMetricSaturation(t *testing.T) {
	m := BacktraceMetric{Allocated: 100, Freed: 300}
	if m.InUse() != 0 {
		t.Errorf("InUse() = %d, expected saturation at 0", m.InUse())
	}
	m = BacktraceMetric{}
	if m.AvgAllocation() != 0 {
		t.Errorf("AvgAllocation() = %f with no allocations",
			m.AvgAllocation())
	}
}
