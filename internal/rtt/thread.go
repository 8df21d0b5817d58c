// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package rtt

import (
	"sync"

	"github.com/sandia-hpc/pe-runtime/internal/port"
)

// Thread is the minimal per-thread record the send primitives consult:
// which process it belongs to, and which port it currently sends to
// (its "registered outport", set by a connect step). The scheduler
// that actually runs threads is out of scope for this runtime; Thread
// exists only to carry this bookkeeping.
type Thread struct {
	ID uint64

	mu       sync.Mutex
	process  *Process
	receiver port.Port
}

// NewThread creates a thread not yet attached to any process.
func NewThread(id uint64) *Thread {
	return &Thread{ID: id}
}

// SetReceiver registers the port this thread will send to next.
func (th *Thread) SetReceiver(p port.Port) {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.receiver = p
}

// MyReceiver returns the thread's currently registered outport.
func (t *Table) MyReceiver(th *Thread) port.Port {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.receiver
}

// MyProcess returns the process port (thisPE, processId, 0) that owns
// th, or NoPort if th is not attached to a process on this table's PE.
func (t *Table) MyProcess(th *Thread) port.Port {
	th.mu.Lock()
	proc := th.process
	th.mu.Unlock()

	if proc == nil {
		return port.NoPort
	}
	return port.Port{Machine: proc.PE, Process: proc.ID}
}
