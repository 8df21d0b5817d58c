// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package peruntime is the global per-PE state record of spec.md
// section 9 ("thisPE, nPEs, IAmMainThread, targetPE, pack buffer
// pointer, finish counter — design as a single process-wide
// configuration record"), and the Startup/Sync/Shutdown lifecycle of
// section 4.6 built on top of it.
package peruntime

import (
	"sync"

	"github.com/sandia-hpc/pe-runtime/internal/config"
	"github.com/sandia-hpc/pe-runtime/internal/datacomms"
	"github.com/sandia-hpc/pe-runtime/internal/mp"
	"github.com/sandia-hpc/pe-runtime/internal/packbuf"
	"github.com/sandia-hpc/pe-runtime/internal/port"
	"github.com/sandia-hpc/pe-runtime/internal/rtt"
	log "github.com/sandia-hpc/pe-runtime/pkg/minilog"
)

// DefaultDiagnosticsLines bounds the in-memory ring buffer each PE
// keeps of its own recent log lines (peruntime.Diagnostics).
const DefaultDiagnosticsLines = 512

// Runtime is the per-PE state one call to Startup produces. With the
// meshnet and spawn backends there is one per process; with the local
// backend every PE goroutine of the cohort has its own, all in one
// process.
type Runtime struct {
	Config    config.Config
	Transport mp.Transport
	Table     *rtt.Table
	Pack      *packbuf.Buffer
	Dispatch  *datacomms.Dispatcher

	// SystemOwner is the pseudo-thread of spec.md section 9 that owns
	// placeholders the core itself generates (HEAD's fresh blackhole,
	// an inport's initial one), so that updateThunk's wakeups are never
	// attributed to a user thread. It is never attached to a process
	// and never scheduled; nothing here threads its identity through
	// heap.Value.Update, since that attribution is the host scheduler's
	// concern and the scheduler itself is out of scope (spec.md section
	// 1) — SystemOwner exists so a future scheduler integration has a
	// concrete thread record to point wakeups at instead of inventing
	// one.
	SystemOwner *rtt.Thread

	thisPE port.PEId
	nPEs   int
	isMain bool

	mu        sync.Mutex
	failed    map[port.PEId]bool
	haveFault bool

	diagnostics *log.Ring
}

// ThisPE returns this process's PE number.
func (rt *Runtime) ThisPE() port.PEId { return rt.thisPE }

// NPEs returns the cohort size.
func (rt *Runtime) NPEs() int { return rt.nPEs }

// IsMainThread reports whether this process is PE 1.
func (rt *Runtime) IsMainThread() bool { return rt.isMain }

// Diagnostics returns the most recent lines of the ring logger this
// Runtime's Startup registered, oldest first. minilog's loggers are
// process-wide: when several Runtimes share a process, each Startup
// replaces the "ring" logger, so only the last-started Runtime's ring
// keeps receiving lines, and it receives every PE's lines.
func (rt *Runtime) Diagnostics() []string {
	return rt.diagnostics.Dump()
}

// markFailed records a peer as defunct (spec.md section 7: "main PE
// marks the PE as defunct, sets a global Failure flag"). Safe to call
// from any PE, though only the main PE's bookkeeping is consulted by
// Shutdown.
func (rt *Runtime) markFailed(pe port.PEId) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.failed[pe] = true
	rt.haveFault = true
	log.Error("peruntime: PE %d marked defunct", pe)
}

func (rt *Runtime) isFailed(pe port.PEId) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.failed[pe]
}
