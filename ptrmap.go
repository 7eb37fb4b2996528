// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"sync"
)

// live allocation table: address -> allocation metadata, kept from the
// allocation until the matching free. An address present here is memory
// currently owned through the tracker; removing a missing address is a
// double/invalid free (fatal, handled by the caller).

// ptrInfo is the per-live-allocation metadata.
type ptrInfo struct {
	slot      uint32 // allocating goroutine slot
	traceHash uint64 // backtrace hash, 0 = capture disabled
}

const ptrShards = 256 // power of 2

type ptrShard struct {
	lock sync.Mutex
	m    map[uintptr]ptrInfo
}

type ptrTable struct {
	shards [ptrShards]ptrShard
	// current number of live entries
	entries StatCounter
}

var liveAllocs ptrTable

func init() {
	for i := 0; i < ptrShards; i++ {
		liveAllocs.shards[i].m = make(map[uintptr]ptrInfo)
	}
}

func (t *ptrTable) shard(addr uintptr) *ptrShard {
	// drop the alignment bits before selecting the shard
	return &t.shards[(uint64(addr)>>4)&(ptrShards-1)]
}

func (t *ptrTable) add(addr uintptr, pi ptrInfo) {
	s := t.shard(addr)
	s.lock.Lock()
	s.m[addr] = pi
	s.lock.Unlock()
	t.entries.Inc(1)
}

// del removes and returns the entry for addr. ok == false means addr is
// not a live tracked allocation.
func (t *ptrTable) del(addr uintptr) (ptrInfo, bool) {
	s := t.shard(addr)
	s.lock.Lock()
	pi, ok := s.m[addr]
	if ok {
		delete(s.m, addr)
	}
	s.lock.Unlock()
	if ok {
		t.entries.Dec(1)
	}
	return pi, ok
}

func (t *ptrTable) get(addr uintptr) (ptrInfo, bool) {
	s := t.shard(addr)
	s.lock.Lock()
	pi, ok := s.m[addr]
	s.lock.Unlock()
	return pi, ok
}

func (t *ptrTable) size() uint64 {
	return t.entries.Get()
}

// reset drops all live entries. Not safe under concurrent traffic.
func (t *ptrTable) reset() {
	for i := 0; i < ptrShards; i++ {
		s := &t.shards[i]
		s.lock.Lock()
		s.m = make(map[uintptr]ptrInfo)
		s.lock.Unlock()
	}
	t.entries.Set(0)
}
