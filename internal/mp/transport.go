// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package mp is the message-passing abstraction of spec.md section
// 4.1: a narrow interface with interchangeable backends. DataComms and
// the runtime startup/shutdown code depend only on Transport; they
// never see a backend's concrete type.
package mp

import (
	"github.com/sandia-hpc/pe-runtime/internal/port"
	"github.com/sandia-hpc/pe-runtime/internal/wire"
)

// Transport is the capability set every backend implements:
// start/sync/quit/send/recv/probe (spec.md section 4.1). A build
// selects exactly one backend; there is no dynamic dispatch on the
// send/recv hot path once that choice is made (spec.md section 9).
type Transport interface {
	// Start connects to the substrate and spawns or joins peers. It
	// consumes the first element of args (an injected peer count) and
	// returns the remaining arguments. After Start returns
	// successfully, NPEs, ThisPE, and IsMainThread report valid
	// values.
	Start(args []string) (remaining []string, err error)

	// Sync is a barrier: after it returns, every PE agrees on NPEs and
	// its own ThisPE, and has allocated any per-peer send/recv state.
	Sync() error

	// Quit performs an orderly disconnect, per spec.md section 4.4.
	Quit(errorCode int) error

	// Send transmits one message to dest with the given tag. It
	// returns false when the backend's bounded outbox is saturated;
	// the caller may retry. dest must be in [1..NPEs()].
	Send(dest port.PEId, tag wire.OpCode, payload []byte) bool

	// Recv blocks for exactly one message, reports its tag and
	// sender, and returns its payload. If the next available message
	// exceeds maxLen the backend aborts the PE.
	Recv(maxLen int) (payload []byte, tag wire.OpCode, sender port.PEId, err error)

	// Probe reports whether a message is waiting, without blocking.
	Probe() bool

	NPEs() int
	ThisPE() port.PEId
	IsMainThread() bool
}
