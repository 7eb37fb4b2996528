// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"runtime"
)

// goroutine id extraction.
//
// There is no supported way to get the current goroutine id, so it is
// parsed from the runtime.Stack() header line ("goroutine N [running]:").
// This is the portable path (works on every arch and go version); it costs
// a runtime.Stack call per lookup. Direct g-struct access would be faster
// but depends on unexported runtime layout.

// curGoID returns the current goroutine id (0 on parse failure, which
// would mean a runtime.Stack format change).
func curGoID() int64 {
	// only the first header line is needed
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGoID(buf[:n])
}

// parseGoID extracts the goroutine id from a runtime.Stack header
// ("goroutine 123 [running]: ..." => 123).
func parseGoID(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}
	var id int64
	for i := len(prefix); i < len(buf); i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
