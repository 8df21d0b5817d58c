// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package rtt

import (
	"sync"

	"github.com/sandia-hpc/pe-runtime/internal/heap"
	"github.com/sandia-hpc/pe-runtime/internal/port"
)

// Process is a unit of threads sharing a set of inports on one PE
// (spec.md section 3). refs counts the attached threads still alive;
// a process is destroyed once its last inport is removed and its last
// thread has exited.
type Process struct {
	PE port.PEId
	ID uint64

	mu           sync.Mutex
	inports      map[uint64]*Inport
	nextInportID uint64
	refs         int
}

// Inport is the receiving endpoint of a channel: its owning port, the
// sender that was (or has not yet been) connected to it, and the
// placeholder closure blocked readers are suspended on.
type Inport struct {
	Port port.Port

	mu     sync.Mutex
	Sender port.Port

	Closure *heap.Value
}

// Rebind replaces the inport's placeholder with a fresh one, used by
// the HEAD handler to keep the inport open for the next stream
// element while the just-arrived element is spliced in.
func (in *Inport) Rebind(fresh *heap.Value) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.Closure = fresh
}

// Current returns the inport's placeholder closure.
func (in *Inport) Current() *heap.Value {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.Closure
}

// SenderPort returns the connected sender, or NoPort if unconnected.
func (in *Inport) SenderPort() port.Port {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.Sender
}
