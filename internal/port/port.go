// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package port defines the naming primitives shared by the runtime
// tables, the message dispatcher, and the transport: PE identifiers
// and the (machine, process, id) triple used for every process port,
// inport, and registered outport.
package port

import "fmt"

// PEId identifies one processing element. 0 is reserved ("no PE"); PEs
// are otherwise numbered 1..N with N <= MaxPEs.
type PEId uint8

// NoPE is the reserved "no PE" value.
const NoPE PEId = 0

// MaxPEs is the largest cohort size a PEId can address.
const MaxPEs = 255

// Port names an endpoint: a process (id == 0), an inport, or a
// registered outport, depending on context.
type Port struct {
	Machine PEId
	Process uint64
	Id      uint64
}

// NoPort is the distinguished empty port, used as the initial (unset)
// sender of a freshly created inport.
var NoPort = Port{}

// IsNoPort reports whether p equals NoPort.
func (p Port) IsNoPort() bool {
	return p == NoPort
}

// IsProcessPort reports whether p names a process rather than an
// inport or outport (id == 0).
func (p Port) IsProcessPort() bool {
	return p.Id == 0
}

func (p Port) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.Machine, p.Process, p.Id)
}
