// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

// AllocRoundTo is the rounding granularity for the underlying allocator
// backends (blocks sizes are always a multiple of it).
const AllocRoundTo = 16

// constants for recording the used allocator backend for
// testing/versioning
const (
	AllocBpool   = iota // bytespool backed, default
	AllocQMalloc        // one block, outside the go GC
)

// each conditional build variant defines
// const AllocType = ...
// const AllocTypeName = "..."

// BuildTags records the build options this package was compiled with
// (filled in from the conditionally compiled init()s).
var BuildTags []string
