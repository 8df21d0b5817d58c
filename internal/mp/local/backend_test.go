// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package local

import (
	"testing"

	"github.com/sandia-hpc/pe-runtime/internal/port"
	"github.com/sandia-hpc/pe-runtime/internal/wire"
)

func twoPE(t *testing.T, sendBufferSize int) (pe1, pe2 *Backend) {
	t.Helper()
	cohort := NewCohort(2, sendBufferSize)
	pe1 = NewBackend(cohort, 1)
	pe2 = NewBackend(cohort, 2)

	for _, b := range []*Backend{pe1, pe2} {
		if _, err := b.Start([]string{"2"}); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	done := make(chan struct{}, 2)
	for _, b := range []*Backend{pe1, pe2} {
		b := b
		go func() {
			if err := b.Sync(); err != nil {
				t.Errorf("Sync: %v", err)
			}
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	return pe1, pe2
}

func TestSendRecvDeliversPayload(t *testing.T) {
	pe1, pe2 := twoPE(t, 4)

	if !pe1.Send(2, wire.OpData, []byte("hello")) {
		t.Fatal("Send reported saturation on an empty mailbox")
	}

	payload, tag, sender, err := pe2.Recv(64)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if tag != wire.OpData {
		t.Errorf("tag = %v, want OpData", tag)
	}
	if sender != port.PEId(1) {
		t.Errorf("sender = %d, want 1", sender)
	}
	if string(payload) != "hello" {
		t.Errorf("payload = %q, want %q", payload, "hello")
	}
}

func TestSystemMessagePreemptsQueuedData(t *testing.T) {
	pe1, pe2 := twoPE(t, 4)

	if !pe1.Send(2, wire.OpData, []byte("data")) {
		t.Fatal("data send saturated")
	}
	if !pe1.Send(2, wire.OpFinish, []byte("finish")) {
		t.Fatal("system send saturated")
	}

	_, tag, _, err := pe2.Recv(64)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if tag != wire.OpFinish {
		t.Fatalf("first delivered tag = %v, want OpFinish (priority rule)", tag)
	}
}

func TestSendBackpressure(t *testing.T) {
	pe1, pe2 := twoPE(t, 1)

	if !pe1.Send(2, wire.OpData, []byte("a")) {
		t.Fatal("first send should succeed with an empty mailbox")
	}
	if pe1.Send(2, wire.OpData, []byte("b")) {
		t.Fatal("second send should report saturation with sendBufferSize=1")
	}

	if _, _, _, err := pe2.Recv(64); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	if !pe1.Send(2, wire.OpData, []byte("c")) {
		t.Fatal("retry after drain should succeed")
	}
}

func TestQuitRejectsFurtherSends(t *testing.T) {
	pe1, pe2 := twoPE(t, 4)

	if err := pe2.Quit(0); err != nil {
		t.Fatalf("Quit: %v", err)
	}
	if pe1.Send(2, wire.OpData, []byte("x")) {
		t.Fatal("Send to a quit backend should fail")
	}
	if n := pe2.NPEs(); n != 0 {
		t.Errorf("NPEs() after Quit = %d, want 0 (matching meshnet/spawn's quit sentinel)", n)
	}
	if n := pe1.NPEs(); n != 2 {
		t.Errorf("NPEs() for a peer that hasn't quit = %d, want 2", n)
	}
}
