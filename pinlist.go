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

// list of pointers marking go-allocated blocks as in-use, to keep them
// out of the GC's reach while they are referenced only through raw
// pointers (the GC cannot see through unsafe.Pointer results handed to
// the caller).

// number of pointers kept in one list block
const pinBlockN = 4096/8 - 2

type pinBlock struct {
	next *pinBlock
	prev *pinBlock

	pos  uint32 // current "write" position in p, atomic
	free uint32 // number of freed entries in p, atomic

	p [pinBlockN]unsafe.Pointer
}

// pinInfo is what a block owner must keep to un-pin on free (embedded as
// a header in front of the user payload by the bpool backend).
type pinInfo struct {
	b    *pinBlock
	idx  uint32
	rsvd uint32
}

type pinLst struct {
	// current (newest) block; atomic so Add's lock-free fast path can
	// read it while a concurrent rollover publishes a fresh one
	head atomic.Pointer[pinBlock]
	lock sync.Mutex

	blocks StatCounter // list blocks allocated over time
}

func (pl *pinLst) Init() {
	pl.head.Store(&pinBlock{})
}

// Add pins p and returns the handle needed for Rm.
func (pl *pinLst) Add(p unsafe.Pointer) pinInfo {
retry:
	b := pl.head.Load()
	sz := len(b.p)
	i := atomic.AddUint32(&b.pos, 1) - 1
	if i >= uint32(sz) {
		// current block full, try to install a fresh one
		n := &pinBlock{prev: b}
		pl.lock.Lock()
		if pl.head.Load() != b {
			// somebody else installed one in the meantime
			pl.lock.Unlock()
			goto retry
		}
		pl.head.Store(n)
		b.next = n
		pl.lock.Unlock()
		pl.blocks.Inc(1)
		goto retry
	}
	b.p[i] = p
	return pinInfo{b, i, 0}
}

// Rm un-pins the pointer recorded under bi. A fully freed list block is
// unlinked and left to the GC (the list always keeps at least one block,
// referenced from head).
func (pl *pinLst) Rm(bi pinInfo) {
	b := bi.b
	i := bi.idx

	b.p[i] = nil
	free := atomic.AddUint32(&b.free, 1)
	if free >= uint32(len(b.p)) {
		pl.lock.Lock()
		if b.next != nil {
			b.next.prev = b.prev
		}
		if b.prev != nil {
			b.prev.next = b.next
		}
		pl.lock.Unlock()
	}
}
