// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build alloc_qmalloc

package alloctrack

import (
	"unsafe"

	"github.com/intuitivelabs/mallocs/qmalloc"
)

// build type constants
const AllocType = AllocQMalloc  // build time backend type
const AllocTypeName = "qmalloc" // backend type as string

var qm qmalloc.QMalloc

// qmalloc arena size; allocations beyond what fits fail (nil).
// FIXME: better sized in function of the expected live set
const qmMemSz = 256 * 1024 * 1024

func init() {
	BuildTags = append(BuildTags, AllocTypeName)
	mem := make([]byte, qmMemSz)
	if !qm.Init(mem, 14, qmalloc.QMDefaultOptions) {
		Log.PANIC("alloctrack: qmalloc init failed\n")
	}
}

// DefaultAllocator is the backend selected at build time: a custom
// malloc inside one big pre-allocated arena, outside the reach of the
// go GC (no pinning needed, the arena itself is referenced from qm).
var DefaultAllocator Allocator = qmAllocator{}

type qmAllocator struct{}

func (qmAllocator) Alloc(size uint) unsafe.Pointer {
	totalSize := size
	if totalSize == 0 {
		totalSize = AllocRoundTo
	}
	totalSize = ((totalSize-1)/AllocRoundTo + 1) * AllocRoundTo // round up
	return qm.Malloc(uint64(totalSize))
}

func (qmAllocator) Free(p unsafe.Pointer, size uint) {
	qm.Free(p)
}
