// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build !alloc_qmalloc

package alloctrack

import (
	"unsafe"

	"github.com/intuitivelabs/bytespool"
)

// build type constants
const AllocType = AllocBpool  // build time backend type
const AllocTypeName = "bpool" // backend type as string

// Default Allocator backend: different size pools for the various block
// sizes (bytespool.Bpool uses one sync.Pool for each distinct memory
// block size, sizes always rounded to AllocRoundTo).
var bPool bytespool.Bpool

// pointers to in-use allocated blocks, needed to keep them out of GC
// reach while the caller holds only the raw pointer (see pinlist.go)
var inUsePlst pinLst

func init() {
	BuildTags = append(BuildTags, AllocTypeName)
	inUsePlst.Init()
	// minimum size 0, maximum pooled size 16kb in AllocRoundTo
	// multiples (bigger blocks fall through to plain allocation)
	if !bPool.Init(0, 16384, AllocRoundTo) {
		Log.PANIC("alloctrack: bytes pool init failed\n")
	}
}

// DefaultAllocator is the backend selected at build time (see also
// alloc_qmalloc.go).
var DefaultAllocator Allocator = bpAllocator{}

type bpAllocator struct{}

// Alloc returns a block of at least size bytes from the size pools.
// Memory block structure: | pinInfo | payload |
// The pinInfo header holds what Free needs to remove the block from
// inUsePlst.
func (bpAllocator) Alloc(size uint) unsafe.Pointer {
	bHdrSize := uint(unsafe.Sizeof(pinInfo{})) // block hdr.
	totalSize := bHdrSize + size
	totalSize = ((totalSize-1)/AllocRoundTo + 1) * AllocRoundTo // round up

	// use multiple of block-size blocks and pools for each block size
	// (ignore the bool return, it could be used for a miss/hit counter)
	block, _ := bPool.Get(int(totalSize), true)
	if block == nil {
		return nil
	}
	bHdr := (*pinInfo)(unsafe.Pointer(&block[0]))
	*bHdr = inUsePlst.Add(unsafe.Pointer(&block[0]))
	return unsafe.Pointer(&block[bHdrSize])
}

// Free returns the block to its size pool. size must be the original
// requested size (needed to reconstruct the full block).
func (bpAllocator) Free(p unsafe.Pointer, size uint) {
	bHdrSize := uint(unsafe.Sizeof(pinInfo{})) // block hdr.
	totalSize := bHdrSize + size
	totalSize = ((totalSize-1)/AllocRoundTo + 1) * AllocRoundTo // round up

	// memory block structure: | pinInfo | payload |
	bHdr := (*pinInfo)(unsafe.Pointer(uintptr(p) - uintptr(bHdrSize)))
	bi := *bHdr
	buf := unsafe.Slice((*byte)(unsafe.Pointer(bHdr)), totalSize)
	// remove it from the inUsePlst
	inUsePlst.Rm(bi)
	// put it back in the pool
	bPool.Put(buf) // ignore return (false if size too big for the pool)
}
