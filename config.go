// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a source-available license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package alloctrack

import (
	"sync/atomic"
	"time"
	"unsafe"
)

// debugging flags
type DbgFlags uint32

const (
	DbgFAllocs DbgFlags = 1 << iota // extra alloc/free sanity logging
	DbgFTraces                      // log new trace records
)

// Config holds the tunables that may change at runtime. The active config
// is read through GetCfg() on each use; SetCfg() publishes a new one
// atomically (readers always see a complete config, old or new).
type Config struct {
	Dbg DbgFlags

	// maximum number of raw frames captured per backtrace
	BtMaxFrames int

	// default interval for the periodic stats logger
	// (StartStatsLog(0) uses it)
	StatsIntvl time.Duration
}

// DefaultConfig returns the starting config values.
func DefaultConfig() Config {
	return Config{
		BtMaxFrames: 32,
		StatsIntvl:  10 * time.Second,
	}
}

var cfgPtr unsafe.Pointer // *Config, atomic

func init() {
	c := DefaultConfig()
	SetCfg(&c)
}

// GetCfg returns the current config. The returned pointer must be treated
// as read-only.
func GetCfg() *Config {
	return (*Config)(atomic.LoadPointer(&cfgPtr))
}

// SetCfg atomically replaces the current config with a copy of cfg.
func SetCfg(cfg *Config) {
	c := *cfg
	atomic.StorePointer(&cfgPtr, unsafe.Pointer(&c))
}
