// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package alloctrack wraps a memory allocator and accounts for every
// allocation and free that goes through it: how many bytes each goroutine
// allocated, which goroutine eventually freed them and, optionally, the
// call site responsible (deduplicated by a hash of the raw backtrace).
//
// It is meant for long-running services that need always-on memory
// accounting: every operation is tracked (no sampling) and all the
// bookkeeping uses atomic counters or short-held per-bucket locks, so it
// can stay enabled in production.
//
// The tracked state is process-wide and lives for the process lifetime:
// per-goroutine slots, the live allocation table and the backtrace ledger
// are never torn down (ResetStats() exists for controlled resets, e.g.
// from tests).
//
// Reports (GetThreadReport(), GetBacktraceReport()) are monotone
// approximations, not synchronized snapshots: counters are updated with
// independent atomics and a report taken under traffic will show slight
// timing skew.
package alloctrack
