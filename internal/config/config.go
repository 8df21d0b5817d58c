// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package config holds the runtime options of spec.md section 6's
// configuration table, populated either from flag.FlagSet by
// cmd/pe-node or directly by tests.
package config

const (
	// DefaultPackBufferSize is 10 MiB, the default upper bound on one
	// message's payload.
	DefaultPackBufferSize = 10 << 20
	// DefaultSendBufferSize is 20, the two-sided backend's default
	// outbox depth.
	DefaultSendBufferSize = 20
)

// Placement mirrors the two independent placement bits of spec.md
// section 9 ("placement bitmask rather than enum") as booleans.
type Placement struct {
	// Random selects RFORK targets uniformly in [1..N] instead of
	// round-robin.
	Random bool
	// NoLocal advances past thisPE when choosePE would otherwise
	// select it.
	NoLocal bool
}

// Debug holds the per-subsystem verbosity toggles named in spec.md
// section 6 ("parallel debug flags"). No package in this module reads
// these fields: DEBUG output is governed only by the level each minilog
// logger is registered with, whether a toggle is set or not.
type Debug struct {
	Comm      bool
	Pack      bool
	Packet    bool
	Processes bool
	Ports     bool
}

// Config is the full set of runtime options the core recognizes.
type Config struct {
	PackBufferSize int
	SendBufferSize int
	Placement      Placement
	Debug          Debug
}

// Default returns a Config with spec.md section 6's documented
// defaults and every placement/debug bit cleared.
func Default() Config {
	return Config{
		PackBufferSize: DefaultPackBufferSize,
		SendBufferSize: DefaultSendBufferSize,
	}
}
