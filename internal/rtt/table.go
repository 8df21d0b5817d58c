// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package rtt is the runtime-tables layer: the per-PE process table,
// inport tables, and registered-outport bookkeeping that DataComms
// uses to turn a wire message's receiver port into a live placeholder.
//
// Ownership is strictly local: a Table only ever answers lookups for
// its own PE. Locking is per-inport-granularity in spirit (findInportByP
// / removeInportByP cannot race on the same inport), implemented here
// with a single table mutex since the tables are small and the
// critical sections are short — the same tradeoff internal/meshage
// makes with its clientLock/meshLock pair rather than per-entry locks.
package rtt

import (
	"sync"

	"github.com/sandia-hpc/pe-runtime/internal/heap"
	"github.com/sandia-hpc/pe-runtime/internal/port"
	log "github.com/sandia-hpc/pe-runtime/pkg/minilog"
)

// Table is one PE's runtime tables.
type Table struct {
	thisPE port.PEId

	mu            sync.Mutex
	processes     map[uint64]*Process
	nextProcessID uint64

	// inports indexes every live inport on this PE by (process, id)
	// for O(1) findInportByP, independent of which Process owns it.
	inports map[inportKey]*Inport
}

type inportKey struct {
	process uint64
	id      uint64
}

// New creates the (empty) runtime tables for thisPE.
func New(thisPE port.PEId) *Table {
	return &Table{
		thisPE:        thisPE,
		processes:     make(map[uint64]*Process),
		nextProcessID: 1,
		inports:       make(map[inportKey]*Inport),
	}
}

// NewProcess allocates a fresh process id on this PE and attaches
// firstThread to it, per spec.md section 4.2's newProcess. Returns the
// process port (thisPE, processId, 0).
func (t *Table) NewProcess(firstThread *Thread) port.Port {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextProcessID
	t.nextProcessID++

	p := &Process{
		PE:      t.thisPE,
		ID:      id,
		inports: make(map[uint64]*Inport),

		// id 0 is reserved for the process port itself.
		nextInportID: 1,
	}
	t.processes[id] = p

	if firstThread != nil {
		firstThread.process = p
		p.refs++
	}

	log.Debug("rtt: new process %d on PE %d", id, t.thisPE)
	return port.Port{Machine: t.thisPE, Process: id}
}

// Process returns the process record for a process id on this PE, if
// it still exists.
func (t *Table) Process(id uint64) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.processes[id]
	return p, ok
}

// NewInport allocates a fresh inport id within process, creates its
// Inport record (sender unset, a fresh blackhole placeholder), and
// returns its Port.
func (t *Table) NewInport(proc *Process) port.Port {
	t.mu.Lock()
	defer t.mu.Unlock()

	proc.mu.Lock()
	id := proc.nextInportID
	proc.nextInportID++
	proc.mu.Unlock()

	p := port.Port{Machine: t.thisPE, Process: proc.ID, Id: id}
	in := &Inport{
		Port:     p,
		Sender:   port.NoPort,
		Closure:  heap.NewBlackhole(0),
	}

	proc.mu.Lock()
	proc.inports[id] = in
	proc.mu.Unlock()

	t.inports[inportKey{proc.ID, id}] = in

	log.Debug("rtt: new inport %v", p)
	return p
}

// FindInportByP is an O(1) lookup by (process, id), local to this PE.
// It returns false if the inport was removed or never existed.
func (t *Table) FindInportByP(p port.Port) (*Inport, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	in, ok := t.inports[inportKey{p.Process, p.Id}]
	return in, ok
}

// ConnectInportByP idempotently records sender on the named inport.
// The first connect wins; an identical subsequent connect is a no-op;
// a disagreeing connect is logged and ignored (spec.md invariant 4).
func (t *Table) ConnectInportByP(p port.Port, sender port.Port) {
	t.mu.Lock()
	in, ok := t.inports[inportKey{p.Process, p.Id}]
	t.mu.Unlock()
	if !ok {
		log.Debug("rtt: connect to missing inport %v, dropped", p)
		return
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	switch {
	case in.Sender.IsNoPort():
		in.Sender = sender
		log.Debug("rtt: connected inport %v to sender %v", p, sender)
	case in.Sender == sender:
		// no-op, first connect already recorded this sender
	default:
		log.Info("rtt: inport %v already connected to %v, ignoring connect from %v", p, in.Sender, sender)
	}
}

// RemoveInportByP deletes the inport after its final data has arrived,
// and tears down the owning process once its last inport is gone.
func (t *Table) RemoveInportByP(p port.Port) {
	t.mu.Lock()
	key := inportKey{p.Process, p.Id}
	_, ok := t.inports[key]
	delete(t.inports, key)
	proc := t.processes[p.Process]
	t.mu.Unlock()

	if !ok {
		return
	}

	if proc == nil {
		return
	}

	proc.mu.Lock()
	delete(proc.inports, p.Id)
	empty := len(proc.inports) == 0 && proc.refs == 0
	proc.mu.Unlock()

	log.Debug("rtt: removed inport %v", p)

	if empty {
		t.mu.Lock()
		delete(t.processes, p.Process)
		t.mu.Unlock()
		log.Debug("rtt: destroyed process %d", p.Process)
	}
}

// ThreadExited decrements a process's thread back-reference count,
// destroying the process if it has no inports and no remaining
// threads, per spec.md section 3's Process description.
func (t *Table) ThreadExited(th *Thread) {
	if th == nil || th.process == nil {
		return
	}
	proc := th.process

	proc.mu.Lock()
	proc.refs--
	empty := len(proc.inports) == 0 && proc.refs <= 0
	proc.mu.Unlock()

	if empty {
		t.mu.Lock()
		delete(t.processes, proc.ID)
		t.mu.Unlock()
		log.Debug("rtt: destroyed process %d (last thread exited)", proc.ID)
	}
}
