// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build !linux

package alloctrack

// no OS thread naming outside linux: slots without a goroutine label
// are skipped in the thread report.

func osThreadID() uint32 { return 0 }

func osThreadNames() map[uint32]string { return nil }
