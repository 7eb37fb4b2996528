// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"sync"
	"testing"
)

func newPtrTable() *ptrTable {
	t := &ptrTable{}
	for i := 0; i < ptrShards; i++ {
		t.shards[i].m = make(map[uintptr]ptrInfo)
	}
	return t
}

func TestPtrTable(t *testing.T) {
	tbl := newPtrTable()

	tbl.add(0x1000, ptrInfo{slot: 1, traceHash: 42})
	tbl.add(0x2000, ptrInfo{slot: 2, traceHash: 43})
	if n := tbl.size(); n != 2 {
		t.Errorf("size() = %d, expected 2", n)
	}
	pi, ok := tbl.get(0x1000)
	if !ok || pi.slot != 1 || pi.traceHash != 42 {
		t.Errorf("get(0x1000) = %+v, %v", pi, ok)
	}
	if _, ok = tbl.get(0x3000); ok {
		t.Errorf("get() hit for an address never added")
	}

	pi, ok = tbl.del(0x1000)
	if !ok || pi.slot != 1 {
		t.Errorf("del(0x1000) = %+v, %v", pi, ok)
	}
	if _, ok = tbl.del(0x1000); ok {
		t.Errorf("second del() of the same address succeeded")
	}
	if n := tbl.size(); n != 1 {
		t.Errorf("size() = %d after del, expected 1", n)
	}

	tbl.reset()
	if n := tbl.size(); n != 0 {
		t.Errorf("size() = %d after reset", n)
	}
	if _, ok = tbl.get(0x2000); ok {
		t.Errorf("entry survived reset")
	}
}

func TestPtrTableConcurrent(t *testing.T) {
	tbl := newPtrTable()

	const workers = 8
	const perWorker = 1000
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			base := uintptr(w+1) << 20
			for i := 0; i < perWorker; i++ {
				addr := base + uintptr(i)*16
				tbl.add(addr, ptrInfo{slot: uint32(w)})
			}
			for i := 0; i < perWorker; i++ {
				addr := base + uintptr(i)*16
				pi, ok := tbl.del(addr)
				if !ok || pi.slot != uint32(w) {
					t.Errorf("worker %d: del(%#x) = %+v, %v",
						w, addr, pi, ok)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	if n := tbl.size(); n != 0 {
		t.Errorf("size() = %d after all workers deleted their entries", n)
	}
}
