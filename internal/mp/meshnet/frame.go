// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package meshnet is the two-sided reference MP backend (spec.md
// section 4.1, backend 1): a bounded send pool of outstanding,
// per-peer acknowledged sends over long-lived TCP connections, one
// per peer pair. It is adapted from internal/meshage's client/ack
// plumbing (one gob.Encoder/Decoder pair per connection, an ack
// channel keyed by sequence number) generalized from meshage's
// dynamic degree-limited mesh to this runtime's fixed N-PE full mesh,
// and from meshage's string node names to PE numbers.
package meshnet

import (
	"github.com/sandia-hpc/pe-runtime/internal/wire"
)

// frame is the transport-internal envelope carried over each peer's
// gob stream. Data, when non-nil, holds exactly the bytes passed to
// Send: for data opcodes, what wire.Message.Encode produced (the
// bit-exact header of spec.md section 6); for system opcodes, the
// header-less payload peruntime built. The outer gob framing never
// reinterprets it; it only has to move an opaque byte slice reliably
// between two PEs.
type frame struct {
	Seq  uint64
	Tag  wire.OpCode
	Ack  bool
	Data []byte
}
