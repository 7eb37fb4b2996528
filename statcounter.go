// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"sync/atomic"
)

// StatCounter is an atomic counter. It is the building block for all the
// accounting cells (per-slot totals, the freed-by matrix rows, trace
// record statistics). Any goroutine may read or update any counter; all
// the guarantees are the atomics' ones (monotone per-cell, no global
// snapshot).
type StatCounter uint64

func (c *StatCounter) Inc(v uint) uint64 {
	return atomic.AddUint64((*uint64)(c), uint64(v))
}

func (c *StatCounter) Dec(v uint) uint64 {
	return atomic.AddUint64((*uint64)(c), ^uint64(v-1))
}

// Add adds a 64-bit value (byte counts can exceed 32 bits on 32-bit
// platforms, hence the separate method).
func (c *StatCounter) Add(v uint64) uint64 {
	return atomic.AddUint64((*uint64)(c), v)
}

func (c *StatCounter) Get() uint64 {
	return atomic.LoadUint64((*uint64)(c))
}

// Set overwrites the counter. Meant for resets and tests, not for the
// normal accounting paths (which are increment-only).
func (c *StatCounter) Set(v uint64) {
	atomic.StoreUint64((*uint64)(c), v)
}

// CompareAndSwap compares the current value with oldv and if
// equal it changes it to newv.
// It returns true if it succeeds (sets newv) and false if not
// (value != oldv).
func (c *StatCounter) CompareAndSwap(oldv, newv uint64) bool {
	return atomic.CompareAndSwapUint64((*uint64)(c), oldv, newv)
}
