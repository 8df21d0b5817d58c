// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package datacomms

import (
	"testing"

	"github.com/sandia-hpc/pe-runtime/internal/config"
	"github.com/sandia-hpc/pe-runtime/internal/heap"
	"github.com/sandia-hpc/pe-runtime/internal/mp/local"
	"github.com/sandia-hpc/pe-runtime/internal/packbuf"
	"github.com/sandia-hpc/pe-runtime/internal/port"
	"github.com/sandia-hpc/pe-runtime/internal/rtt"
)

// newLocalDispatcher builds a one-PE Dispatcher over a single-member
// local cohort, enough to exercise the local-bypass path (spec.md
// section 8, scenario 3) without any real transport traffic.
func newLocalDispatcher(t *testing.T, placement config.Placement) *Dispatcher {
	t.Helper()
	cohort := local.NewCohort(1, 4)
	transport := local.NewBackend(cohort, 1)
	if _, err := transport.Start([]string{"1"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := transport.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	table := rtt.New(1)
	pack := packbuf.New(4096)
	return New(1, 1, table, transport, pack, placement)
}

func TestLocalBypassSingleData(t *testing.T) {
	d := newLocalDispatcher(t, config.Placement{})

	recvThread := rtt.NewThread(1)
	procPort := d.table.NewProcess(recvThread)
	proc, _ := d.table.Process(procPort.Process)
	inPort := d.table.NewInport(proc)

	in, ok := d.table.FindInportByP(inPort)
	if !ok {
		t.Fatalf("inport missing right after creation")
	}
	placeholder := in.Current()

	sendThread := rtt.NewThread(2)
	sendThread.SetReceiver(inPort)

	status, blocked, err := d.SendWrapper(sendThread, Mode{Kind: KindData}, heap.NewLeaf(int64(42)))
	if err != nil {
		t.Fatalf("SendWrapper: %v", err)
	}
	if status != OK {
		t.Fatalf("status = %v, want OK (blocked=%v)", status, blocked)
	}

	if heap.IsBlackhole(placeholder) {
		t.Fatal("placeholder still a blackhole after DATA")
	}
	if placeholder.Data.(int64) != 42 {
		t.Errorf("placeholder.Data = %v, want 42", placeholder.Data)
	}
	if _, ok := d.table.FindInportByP(inPort); ok {
		t.Error("inport still present after its final DATA update")
	}
}

func TestLocalBypassHeadStreamThenData(t *testing.T) {
	d := newLocalDispatcher(t, config.Placement{})

	recvThread := rtt.NewThread(1)
	procPort := d.table.NewProcess(recvThread)
	proc, _ := d.table.Process(procPort.Process)
	inPort := d.table.NewInport(proc)

	in, _ := d.table.FindInportByP(inPort)
	root := in.Current()

	sendThread := rtt.NewThread(2)
	sendThread.SetReceiver(inPort)

	for _, v := range []int64{1, 2, 3} {
		status, _, err := d.SendWrapper(sendThread, Mode{Kind: KindHead}, heap.NewLeaf(v))
		if err != nil || status != OK {
			t.Fatalf("HEAD(%d): status=%v err=%v", v, status, err)
		}
	}
	status, _, err := d.SendWrapper(sendThread, Mode{Kind: KindData}, heap.NewLeaf(int64(4)))
	if err != nil || status != OK {
		t.Fatalf("DATA: status=%v err=%v", status, err)
	}

	got := []int64{}
	cur := root
	for i := 0; i < 4; i++ {
		if heap.IsBlackhole(cur) {
			t.Fatalf("element %d is still a blackhole", i)
		}
		if cur.Head == nil {
			got = append(got, cur.Data.(int64))
			break
		}
		got = append(got, cur.Head.Data.(int64))
		cur = cur.Tail
	}

	want := []int64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %d, want %d", i, got[i], want[i])
		}
	}

	if _, ok := d.table.FindInportByP(inPort); ok {
		t.Error("inport still present after the stream's final DATA")
	}
}

func TestChoosePERoundRobinNoLocal(t *testing.T) {
	d := &Dispatcher{
		thisPE:    2,
		nPEs:      3,
		placement: config.Placement{NoLocal: true},
		cursor:    nextPE(2, 3),
	}

	want := []port.PEId{3, 1, 3, 1}
	for i, w := range want {
		if got := d.choosePE(); got != w {
			t.Errorf("choosePE() call %d = %d, want %d", i+1, got, w)
		}
	}
}

func TestChoosePERollbackRetriesSameTarget(t *testing.T) {
	d := &Dispatcher{
		thisPE: 1,
		nPEs:   3,
		cursor: nextPE(1, 3),
	}

	first := d.choosePE()
	d.rollback(first)
	second := d.choosePE()
	if second != first {
		t.Errorf("choosePE after rollback = %d, want repeat of %d", second, first)
	}
}
