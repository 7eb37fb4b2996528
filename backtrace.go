// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"hash/fnv"
	"runtime"
	"sync"
	"unsafe"
)

// backtrace capture, hashing and the per-call-site ledger.
//
// A call site's identity is a 64-bit FNV-1a hash over the raw program
// counter sequence; resolution to symbols is deferred to report time
// (expensive, never on the allocation path). Hash collisions coalesce
// distinct call sites into one bucket: a deliberate trade-off, exact
// stack comparison would be far too expensive on the hot path.

// BacktraceMode selects how much call stack information is captured per
// allocation. It is fixed at AllocTrack construction.
type BacktraceMode uint8

const (
	// BtNone: no backtrace tracking at all (only the pointer map
	// overhead remains).
	BtNone BacktraceMode = iota
	// BtShort: captured; rendered with the library-internal and runtime
	// frames filtered out and paths relative to the working directory.
	BtShort
	// BtFull: captured; rendered unfiltered, maximum detail.
	BtFull
)

func (m BacktraceMode) String() string {
	switch m {
	case BtNone:
		return "none"
	case BtShort:
		return "short"
	case BtFull:
		return "full"
	}
	return "invalid"
}

// frames skipped on capture: runtime.Callers, captureBacktrace and the
// AllocTrack method itself
const btCaptureSkip = 3

// hashPCs returns the 64-bit FNV-1a hash of a raw pc sequence.
// Never returns 0 (reserved as the "no backtrace" sentinel).
func hashPCs(pcs []uintptr) uint64 {
	h := fnv.New64a()
	for i := range pcs {
		pc := uint64(pcs[i])
		b := (*[8]byte)(unsafe.Pointer(&pc))[:]
		h.Write(b) // never fails for a hash.Hash
	}
	v := h.Sum64()
	if v == 0 {
		v = 1
	}
	return v
}

// captureBacktrace captures the current raw call stack and its hash.
// With mode == BtNone it returns (nil, 0) and the caller must skip all
// ledger bookkeeping.
func captureBacktrace(mode BacktraceMode) ([]uintptr, uint64) {
	if mode == BtNone {
		return nil, 0
	}
	pcs := make([]uintptr, GetCfg().BtMaxFrames)
	n := runtime.Callers(btCaptureSkip, pcs)
	if n == 0 {
		return nil, 0
	}
	pcs = pcs[:n]
	return pcs, hashPCs(pcs)
}

// TraceRecord accumulates the allocation statistics of one call site
// (one backtrace hash). Records are monotonic: once a hash is seen its
// record lives for the process lifetime.
type TraceRecord struct {
	pcs  []uintptr // raw stack, stored once, immutable
	mode BacktraceMode

	allocated   StatCounter // cumulative bytes allocated here
	freed       StatCounter // cumulative bytes freed of the above
	allocations StatCounter // number of allocations
}

const traceShards = 64 // power of 2

type traceShard struct {
	lock sync.Mutex
	m    map[uint64]*TraceRecord
}

type traceTable struct {
	shards [traceShards]traceShard
	// number of distinct call sites seen
	records StatCounter
}

var traceLedger traceTable

func init() {
	for i := 0; i < traceShards; i++ {
		traceLedger.shards[i].m = make(map[uint64]*TraceRecord)
	}
}

func (t *traceTable) shard(hash uint64) *traceShard {
	return &t.shards[hash&(traceShards-1)]
}

// noteAlloc records an allocation of size bytes for hash, inserting the
// record (and storing the raw stack once) on first observation. The
// counter updates are per-record atomics: concurrent allocations from
// the same call site accumulate correctly without a read-then-write
// window.
func (t *traceTable) noteAlloc(hash uint64, pcs []uintptr,
	mode BacktraceMode, size uint64) {

	s := t.shard(hash)
	s.lock.Lock()
	r, ok := s.m[hash]
	if !ok {
		r = &TraceRecord{pcs: pcs, mode: mode}
		s.m[hash] = r
	}
	s.lock.Unlock()
	if !ok {
		t.records.Inc(1)
		tCnts.grp.Inc(tCnts.hTraces)
		if GetCfg().Dbg&DbgFTraces != 0 {
			DBG("new trace record %016x (%d frames)\n", hash, len(pcs))
		}
	}
	r.allocated.Add(size)
	r.allocations.Inc(1)
}

// noteFreed records that size bytes attributed to hash were freed.
// A miss is possible only after a reset that raced traffic; it is
// ignored (the ledger is best-effort accounting, the live table is the
// correctness-checked structure).
func (t *traceTable) noteFreed(hash uint64, size uint64) {
	s := t.shard(hash)
	s.lock.Lock()
	r := s.m[hash]
	s.lock.Unlock()
	if r != nil {
		r.freed.Add(size)
	}
}

// traceSnap is a point-in-time clone of one record, safe to hand to
// user callbacks outside any bucket lock (pcs is shared but immutable).
type traceSnap struct {
	pcs    []uintptr
	hash   uint64
	metric BacktraceMetric
}

// snapshot clones all records, bucket by bucket. Not a consistent global
// snapshot: counters keep moving while it runs.
func (t *traceTable) snapshot() []traceSnap {
	out := make([]traceSnap, 0, t.records.Get())
	for i := 0; i < traceShards; i++ {
		s := &t.shards[i]
		s.lock.Lock()
		for hash, r := range s.m {
			out = append(out, traceSnap{
				pcs:  r.pcs,
				hash: hash,
				metric: BacktraceMetric{
					Allocated:   r.allocated.Get(),
					Freed:       r.freed.Get(),
					Allocations: r.allocations.Get(),
					Mode:        r.mode,
				},
			})
		}
		s.lock.Unlock()
	}
	return out
}

// reset drops all records. Not safe under concurrent traffic.
func (t *traceTable) reset() {
	for i := 0; i < traceShards; i++ {
		s := &t.shards[i]
		s.lock.Lock()
		s.m = make(map[uint64]*TraceRecord)
		s.lock.Unlock()
	}
	t.records.Set(0)
}

// Frame is one resolved backtrace frame. Func is empty if the frame
// could not be resolved (rendered raw in that case).
type Frame struct {
	PC   uintptr
	Func string
	File string
	Line int
}

// Backtrace is a captured call stack, resolved lazily (only inside
// report generation, never on the allocation path).
type Backtrace struct {
	pcs    []uintptr
	hash   uint64
	frames []Frame // nil until resolve()
}

// Hash returns the call-site identity hash.
func (bt *Backtrace) Hash() uint64 {
	return bt.hash
}

// PCs returns the raw, unresolved program counters.
func (bt *Backtrace) PCs() []uintptr {
	return bt.pcs
}

// Frames returns the resolved frames (empty before resolution).
func (bt *Backtrace) Frames() []Frame {
	return bt.frames
}

// resolve symbolizes the raw pcs. A frame the runtime cannot describe
// degrades to a raw-pc Frame instead of failing the backtrace.
func (bt *Backtrace) resolve() {
	if bt.frames != nil || len(bt.pcs) == 0 {
		return
	}
	bt.frames = make([]Frame, 0, len(bt.pcs))
	frames := runtime.CallersFrames(bt.pcs)
	for {
		fr, more := frames.Next()
		if fr.PC == 0 && fr.Function == "" {
			break
		}
		bt.frames = append(bt.frames, Frame{
			PC:   fr.PC,
			Func: fr.Function,
			File: fr.File,
			Line: fr.Line,
		})
		if !more {
			break
		}
	}
}
