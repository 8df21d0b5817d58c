// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package local is the shared-memory MP backend (spec.md section 4.1,
// backend 3): PEs are goroutines in one process and mailboxes are Go
// channels rather than an OS-provided IPC primitive, but the contract
// is identical to the other two backends, which makes this the
// backend the runtime's own tests drive a whole cohort through
// without any process or socket plumbing.
package local

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sandia-hpc/pe-runtime/internal/port"
	"github.com/sandia-hpc/pe-runtime/internal/wire"
	log "github.com/sandia-hpc/pe-runtime/pkg/minilog"
)

type message struct {
	tag    wire.OpCode
	data   []byte
	sender port.PEId
}

type mailbox struct {
	sys  chan message
	data chan message

	mu     sync.Mutex
	closed bool
}

// Cohort is the shared registry every PE in a same-process run is
// constructed against, standing in for the OS mailslot/shared-memory
// namespace a real deployment would use.
type Cohort struct {
	nPEs     int
	mailbox  map[port.PEId]*mailbox
	readyMu  sync.Mutex
	readyCnt int
	readyAll chan struct{}
}

// NewCohort preallocates a mailbox per PE. sendBufferSize bounds each
// mailbox's data-channel depth, giving the same back-pressure contract
// as the other backends.
func NewCohort(n, sendBufferSize int) *Cohort {
	c := &Cohort{
		nPEs:     n,
		mailbox:  make(map[port.PEId]*mailbox, n),
		readyAll: make(chan struct{}),
	}
	for pe := port.PEId(1); int(pe) <= n; pe++ {
		c.mailbox[pe] = &mailbox{
			sys:  make(chan message, 64),
			data: make(chan message, sendBufferSize),
		}
	}
	return c
}

func (c *Cohort) arrive() {
	c.readyMu.Lock()
	c.readyCnt++
	done := c.readyCnt == c.nPEs
	c.readyMu.Unlock()
	if done {
		close(c.readyAll)
	}
}

// Backend is one PE's view of the cohort.
type Backend struct {
	cohort *Cohort
	thisPE port.PEId

	// quit mirrors meshnet.Backend and spawn.Backend zeroing their
	// nPEs sentinel on Quit: the cohort's nPEs is shared by every PE's
	// goroutine, so this backend can't zero it without affecting
	// peers that haven't quit, and instead carries its own per-PE
	// quit flag that NPEs consults.
	quit atomic.Bool
}

// NewBackend binds a backend to PE pe within cohort. Unlike the other
// two backends, PE numbers are assigned by the caller at construction
// time rather than discovered from an env var or address book, since
// every PE already lives in this process.
func NewBackend(cohort *Cohort, pe port.PEId) *Backend {
	return &Backend{cohort: cohort, thisPE: pe}
}

func (b *Backend) Start(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("local: missing injected peer count argument")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("local: invalid peer count %q: %w", args[0], err)
	}
	if n != b.cohort.nPEs {
		return nil, fmt.Errorf("local: injected peer count %d disagrees with cohort size %d", n, b.cohort.nPEs)
	}
	return args[1:], nil
}

// Sync waits until every PE in the cohort has called Sync, so no PE
// observes NPEs/ThisPE before the rest of the cohort exists.
func (b *Backend) Sync() error {
	b.cohort.arrive()
	<-b.cohort.readyAll
	log.Info("local: PE %d synced with %d peers", b.thisPE, b.cohort.nPEs-1)
	return nil
}

func (b *Backend) Send(dest port.PEId, tag wire.OpCode, payload []byte) bool {
	mb, ok := b.cohort.mailbox[dest]
	if !ok {
		log.Error("local: send to unknown PE %d", dest)
		return false
	}

	mb.mu.Lock()
	closed := mb.closed
	mb.mu.Unlock()
	if closed {
		return false
	}

	m := message{tag: tag, data: payload, sender: b.thisPE}
	ch := mb.data
	if tag.IsSystem() {
		ch = mb.sys
	}

	select {
	case ch <- m:
		return true
	default:
		log.Debug("local: mailbox for PE %d saturated, rejecting send", dest)
		return false
	}
}

func (b *Backend) Recv(maxLen int) ([]byte, wire.OpCode, port.PEId, error) {
	mb := b.cohort.mailbox[b.thisPE]

	select {
	case m := <-mb.sys:
		return finish(m, maxLen)
	default:
	}

	select {
	case m := <-mb.sys:
		return finish(m, maxLen)
	case m := <-mb.data:
		return finish(m, maxLen)
	}
}

func finish(m message, maxLen int) ([]byte, wire.OpCode, port.PEId, error) {
	if len(m.data) > maxLen {
		log.Fatal("local: message of %d bytes exceeds recv buffer %d", len(m.data), maxLen)
	}
	return m.data, m.tag, m.sender, nil
}

func (b *Backend) Probe() bool {
	mb := b.cohort.mailbox[b.thisPE]
	return len(mb.sys) > 0 || len(mb.data) > 0
}

func (b *Backend) Quit(errorCode int) error {
	mb := b.cohort.mailbox[b.thisPE]
	mb.mu.Lock()
	mb.closed = true
	mb.mu.Unlock()
	b.quit.Store(true)
	return nil
}

func (b *Backend) NPEs() int {
	if b.cohort == nil || b.quit.Load() {
		return 0
	}
	return b.cohort.nPEs
}
func (b *Backend) ThisPE() port.PEId  { return b.thisPE }
func (b *Backend) IsMainThread() bool { return b.thisPE == 1 }
