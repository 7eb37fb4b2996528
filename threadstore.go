// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// MaxThreads is the maximum number of goroutine slots. Exceeding it is
// fatal: the accounting matrix is a fixed-size array so that the hot path
// can use plain indexed atomic access, it cannot grow.
// On linux the OS-thread equivalent limit can be checked with
// cat /proc/sys/kernel/threads-max; 1024 tracked goroutines is enough for
// the intended always-on service monitoring use, not for
// goroutine-per-request servers.
const MaxThreads = 1024

// ThreadStore holds the accounting cells for one goroutine slot. All
// counters are atomics, so any goroutine can read any slot without extra
// locking (globally introspectable pseudo-TLS).
type ThreadStore struct {
	// OS thread id the owner goroutine ran on at its first tracked
	// allocation (atomic, 0 = not captured yet). Only a hint for
	// /proc name lookup: goroutines migrate between threads.
	tid uint32

	// reentrancy guard; written only by the owner goroutine, atomic
	// so that concurrent report readers stay race-clean
	inOp uint32

	// optional display name, set via SetGoroutineLabel (atomic *string)
	label unsafe.Pointer

	// total bytes allocated by this slot
	alloc StatCounter

	// free[j] = bytes freed by this slot that were allocated by slot j
	free [MaxThreads]StatCounter
}

// the slot arena; lives for the process lifetime, never torn down
var threadStore [MaxThreads]ThreadStore

// next unused slot, drawn monotonically; never decremented (slots are
// not recycled when goroutines exit)
var nextSlot StatCounter

// goroutine id -> slot index, sharded to keep bucket locks short-held.
// Entries are never removed: a goroutine keeps its slot for the process
// lifetime, mirroring the per-slot counters.
const gidShards = 64 // power of 2

type gidShard struct {
	lock sync.Mutex
	m    map[int64]uint32
}

var gidMap [gidShards]gidShard

func init() {
	for i := 0; i < gidShards; i++ {
		gidMap[i].m = make(map[int64]uint32)
	}
}

// slotForGID returns the slot index for a goroutine id, drawing a new
// slot on first sight. PANICs if the slot arena is exhausted (hard limit,
// existing slots stay intact).
func slotForGID(gid int64) uint32 {
	s := &gidMap[uint64(gid)&(gidShards-1)]
	s.lock.Lock()
	if idx, ok := s.m[gid]; ok {
		s.lock.Unlock()
		return idx
	}
	n := nextSlot.Inc(1)
	if n > MaxThreads {
		s.lock.Unlock()
		Log.PANIC("alloctrack: goroutine slots exhausted:"+
			" %d goroutines seen, max %d\n", n, MaxThreads)
		return 0 // not reached
	}
	idx := uint32(n - 1)
	s.m[gid] = idx
	s.lock.Unlock()
	tCnts.grp.Inc(tCnts.hThreads)
	return idx
}

// curSlot resolves the calling goroutine's slot (assigning one on first
// use).
func curSlot() (uint32, *ThreadStore) {
	idx := slotForGID(curGoID())
	return idx, &threadStore[idx]
}

// enterOp engages the reentrancy guard for ts and returns the previous
// state, which must be handed back to exitOp (nesting-correct: an outer
// engaged guard stays engaged).
// Owner goroutine only.
func (ts *ThreadStore) enterOp() bool {
	prev := atomic.LoadUint32(&ts.inOp) != 0
	atomic.StoreUint32(&ts.inOp, 1)
	return prev
}

func (ts *ThreadStore) exitOp(prev bool) {
	if !prev {
		atomic.StoreUint32(&ts.inOp, 0)
	}
}

func (ts *ThreadStore) inOpNow() bool {
	return atomic.LoadUint32(&ts.inOp) != 0
}

// captureTID records the current OS thread id on the slot's first
// tracked allocation. Deliberately not done at slot assignment: a
// goroutine that never allocates should not pay for the syscall.
func (ts *ThreadStore) captureTID() {
	if atomic.LoadUint32(&ts.tid) == 0 {
		if t := osThreadID(); t != 0 {
			atomic.CompareAndSwapUint32(&ts.tid, 0, t)
		}
	}
}

func (ts *ThreadStore) osTID() uint32 {
	return atomic.LoadUint32(&ts.tid)
}

// SetGoroutineLabel names the calling goroutine in thread reports.
// A label takes precedence over OS thread name resolution and is the
// only reliable way to name a goroutine (goroutines share and migrate
// between OS threads). Same-labelled goroutines are merged in reports.
func SetGoroutineLabel(name string) {
	_, ts := curSlot()
	atomic.StorePointer(&ts.label, unsafe.Pointer(&name))
}

func (ts *ThreadStore) getLabel() (string, bool) {
	p := (*string)(atomic.LoadPointer(&ts.label))
	if p == nil {
		return "", false
	}
	return *p, true
}

// slotsInUse returns how many slots have been assigned so far (capped to
// the arena size).
func slotsInUse() int {
	n := nextSlot.Get()
	if n > MaxThreads {
		n = MaxThreads
	}
	return int(n)
}

// resetThreadStore zeroes all the accounting cells of the assigned slots.
// Slot assignments, labels and captured tids survive. Not safe under
// concurrent allocation traffic.
func resetThreadStore() {
	n := slotsInUse()
	for i := 0; i < n; i++ {
		threadStore[i].alloc.Set(0)
		for j := 0; j < n; j++ {
			threadStore[i].free[j].Set(0)
		}
	}
}
