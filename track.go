// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"unsafe"

	"github.com/intuitivelabs/counters"
)

// Allocator is the underlying allocator contract: all the real memory
// movement is delegated to it, the tracker only adds bookkeeping around
// it. See alloc_bpool.go / alloc_qmalloc.go for the provided backends.
type Allocator interface {
	// Alloc returns a block of at least size bytes, or nil on failure.
	Alloc(size uint) unsafe.Pointer
	// Free releases a block previously returned by Alloc. size must be
	// the original requested size.
	Free(p unsafe.Pointer, size uint)
}

// operation counters
type trackStats struct {
	grp *counters.Group

	hAllocs       counters.Handle
	hFrees        counters.Handle
	hBypassAllocs counters.Handle
	hBypassFrees  counters.Handle
	hFailed       counters.Handle
	hTraces       counters.Handle
	hThreads      counters.Handle
}

var tCnts trackStats

func init() {
	cntDefs := [...]counters.Def{
		{H: &tCnts.hAllocs, Flags: 0, Cbk: nil, CbP: nil, Name: "allocs",
			Desc: "tracked allocations"},
		{H: &tCnts.hFrees, Flags: 0, Cbk: nil, CbP: nil, Name: "frees",
			Desc: "tracked frees"},
		{H: &tCnts.hBypassAllocs, Flags: 0, Cbk: nil, CbP: nil, Name: "bypass_allocs",
			Desc: "allocations passed through untracked (reentrancy guard)"},
		{H: &tCnts.hBypassFrees, Flags: 0, Cbk: nil, CbP: nil, Name: "bypass_frees",
			Desc: "frees passed through untracked (reentrancy guard)"},
		{H: &tCnts.hFailed, Flags: 0, Cbk: nil, CbP: nil, Name: "fail_allocs",
			Desc: "underlying allocator failures passed through"},
		{H: &tCnts.hTraces, Flags: counters.CntMaxF, Cbk: nil, CbP: nil, Name: "trace_records",
			Desc: "distinct allocation call sites seen"},
		{H: &tCnts.hThreads, Flags: counters.CntMaxF, Cbk: nil, CbP: nil, Name: "threads",
			Desc: "goroutine slots assigned"},
	}
	entries := 20 // extra space to allow registering more counters
	if entries < len(cntDefs) {
		entries = len(cntDefs)
	}
	tCnts.grp = counters.NewGroup("alloc_track", nil, entries)
	if tCnts.grp == nil {
		// TODO: better error fallback
		tCnts.grp = &counters.Group{}
		tCnts.grp.Init("alloc_track", nil, entries)
	}
	if !tCnts.grp.RegisterDefs(cntDefs[:]) {
		Log.PANIC("alloctrack: failed to register counters\n")
	}
}

// AllocTrack wraps an Allocator and attributes every allocation and free
// to the goroutine performing it, optionally grouping allocations by
// call site. The backtrace mode is fixed at construction.
//
// All AllocTrack values share the process-wide ledgers (slot arena, live
// allocation table, trace ledger): wrapping two different backends still
// produces one coherent account of the process.
type AllocTrack struct {
	inner Allocator
	mode  BacktraceMode
}

// New returns a tracking wrapper around inner.
func New(inner Allocator, mode BacktraceMode) *AllocTrack {
	return &AllocTrack{inner: inner, mode: mode}
}

// Mode returns the backtrace capture mode.
func (a *AllocTrack) Mode() BacktraceMode {
	return a.mode
}

// Alloc allocates size bytes from the underlying allocator and records
// the allocation against the calling goroutine's slot (and call site, if
// capture is enabled). An underlying failure (nil) is passed through
// untouched and nothing is recorded for it.
// While the calling goroutine's reentrancy guard is engaged the call is
// delegated directly, with zero bookkeeping.
func (a *AllocTrack) Alloc(size uint) unsafe.Pointer {
	idx, ts := curSlot()
	if ts.inOpNow() {
		tCnts.grp.Inc(tCnts.hBypassAllocs)
		return a.inner.Alloc(size)
	}
	prev := ts.enterOp()
	defer ts.exitOp(prev)

	p := a.inner.Alloc(size)
	if p == nil {
		tCnts.grp.Inc(tCnts.hFailed)
		return nil
	}
	ts.captureTID()
	ts.alloc.Add(uint64(size))
	pcs, hash := captureBacktrace(a.mode)
	liveAllocs.add(uintptr(p), ptrInfo{slot: idx, traceHash: hash})
	if hash != 0 {
		traceLedger.noteAlloc(hash, pcs, a.mode, uint64(size))
	}
	tCnts.grp.Inc(tCnts.hAllocs)
	if GetCfg().Dbg&DbgFAllocs != 0 {
		DBG("alloc %p size %d slot %d trace %016x\n", p, size, idx, hash)
	}
	return p
}

// Free releases a block previously returned by Alloc and records the
// byte transfer from the allocating slot to the calling (freeing) slot.
// Freeing an address with no live entry is a double or invalid free:
// fatal, it means either a bug in the caller or memory corruption, and
// continuing with inconsistent bookkeeping would be worse than stopping.
// While the reentrancy guard is engaged the call is delegated directly.
func (a *AllocTrack) Free(p unsafe.Pointer, size uint) {
	idx, ts := curSlot()
	if ts.inOpNow() {
		tCnts.grp.Inc(tCnts.hBypassFrees)
		a.inner.Free(p, size)
		return
	}
	prev := ts.enterOp()
	defer ts.exitOp(prev)

	pi, ok := liveAllocs.del(uintptr(p))
	if !ok {
		Log.PANIC("alloctrack: double or invalid free of %p (%d bytes):"+
			" no live allocation recorded for this address\n", p, size)
		return // not reached
	}
	if pi.traceHash != 0 {
		traceLedger.noteFreed(pi.traceHash, uint64(size))
	}
	a.inner.Free(p, size)
	ts.free[pi.slot].Add(uint64(size))
	tCnts.grp.Inc(tCnts.hFrees)
	if GetCfg().Dbg&DbgFAllocs != 0 {
		DBG("free %p size %d slot %d (alloc slot %d)\n",
			p, size, idx, pi.slot)
	}
}

// LiveAllocs returns the current number of tracked live allocations.
func LiveAllocs() uint64 {
	return liveAllocs.size()
}

// InUseBytes returns the total bytes allocated through tracking and not
// yet freed (saturating; monotone-counter skew can make the freed sum
// momentarily exceed the allocated sum under traffic).
func InUseBytes() uint64 {
	n := slotsInUse()
	var alloced, freed uint64
	for i := 0; i < n; i++ {
		alloced += threadStore[i].alloc.Get()
		for j := 0; j < n; j++ {
			freed += threadStore[i].free[j].Get()
		}
	}
	if freed > alloced {
		return 0
	}
	return alloced - freed
}

// ResetStats zeroes the accounting matrix and drops the live allocation
// table and the trace ledger. Slot assignments, goroutine labels and
// captured tids survive. NOT safe while other goroutines allocate or
// free through a tracker; meant for tests and controlled maintenance
// windows.
func ResetStats() {
	_, ts := curSlot()
	prev := ts.enterOp()
	defer ts.exitOp(prev)
	resetThreadStore()
	liveAllocs.reset()
	traceLedger.reset()
}
