// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package rtt

import (
	"testing"

	"github.com/sandia-hpc/pe-runtime/internal/heap"
	"github.com/sandia-hpc/pe-runtime/internal/port"
)

func newTestProcess(t *testing.T, table *Table) *Process {
	t.Helper()
	p := table.NewProcess(nil)
	proc, ok := table.Process(p.Process)
	if !ok {
		t.Fatalf("process %d missing immediately after NewProcess", p.Process)
	}
	return proc
}

func TestNewInportIsUniqueAndBlackhole(t *testing.T) {
	table := New(1)
	proc := newTestProcess(t, table)

	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		p := table.NewInport(proc)
		if seen[p.Id] {
			t.Fatalf("duplicate inport id %d within process %d", p.Id, proc.ID)
		}
		seen[p.Id] = true

		in, ok := table.FindInportByP(p)
		if !ok {
			t.Fatalf("FindInportByP(%v) missing immediately after NewInport", p)
		}
		if !heap.IsBlackhole(in.Current()) {
			t.Errorf("fresh inport %v placeholder is not a blackhole", p)
		}
	}
}

func TestConnectionMonotonicity(t *testing.T) {
	table := New(1)
	proc := newTestProcess(t, table)
	p := table.NewInport(proc)

	sender1 := port.Port{Machine: 2, Process: 1, Id: 1}
	sender2 := port.Port{Machine: 3, Process: 1, Id: 1}

	table.ConnectInportByP(p, sender1)
	in, _ := table.FindInportByP(p)
	if in.SenderPort() != sender1 {
		t.Fatalf("sender = %v, want %v", in.SenderPort(), sender1)
	}

	// Equal reconnect is a no-op.
	table.ConnectInportByP(p, sender1)
	if in.SenderPort() != sender1 {
		t.Fatalf("equal reconnect changed sender to %v", in.SenderPort())
	}

	// Disagreeing connect is ignored.
	table.ConnectInportByP(p, sender2)
	if in.SenderPort() != sender1 {
		t.Fatalf("disagreeing connect changed sender to %v, want unchanged %v", in.SenderPort(), sender1)
	}
}

func TestRemoveInportDestroysEmptyProcess(t *testing.T) {
	table := New(1)
	proc := newTestProcess(t, table)
	p := table.NewInport(proc)

	if _, ok := table.Process(proc.ID); !ok {
		t.Fatalf("process missing before removal")
	}

	table.RemoveInportByP(p)

	if _, ok := table.FindInportByP(p); ok {
		t.Errorf("inport %v still found after RemoveInportByP", p)
	}
	if _, ok := table.Process(proc.ID); ok {
		t.Errorf("process %d survived its last inport's removal with no attached threads", proc.ID)
	}
}

func TestThreadExitedDestroysProcessOnce(t *testing.T) {
	table := New(1)
	th := NewThread(1)
	p := table.NewProcess(th)
	proc, _ := table.Process(p.Process)

	inPort := table.NewInport(proc)
	table.RemoveInportByP(inPort)

	// refs still > 0 (thread hasn't exited yet): process must survive.
	if _, ok := table.Process(proc.ID); !ok {
		t.Fatalf("process destroyed while its thread was still attached")
	}

	table.ThreadExited(th)
	if _, ok := table.Process(proc.ID); ok {
		t.Errorf("process %d survived its last thread's exit with no inports", proc.ID)
	}
}
