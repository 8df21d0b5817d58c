// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package datacomms

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"

	"github.com/sandia-hpc/pe-runtime/internal/config"
	"github.com/sandia-hpc/pe-runtime/internal/heap"
	"github.com/sandia-hpc/pe-runtime/internal/mp"
	"github.com/sandia-hpc/pe-runtime/internal/packbuf"
	"github.com/sandia-hpc/pe-runtime/internal/port"
	"github.com/sandia-hpc/pe-runtime/internal/rtt"
	"github.com/sandia-hpc/pe-runtime/internal/wire"
	log "github.com/sandia-hpc/pe-runtime/pkg/minilog"
)

// Dispatcher is the per-PE sendWrapper/processDataMsg state: the
// round-robin cursor choosePE advances, and handles to the other
// per-PE singletons it has to coordinate (RTT, pack buffer, transport).
type Dispatcher struct {
	thisPE    port.PEId
	nPEs      int
	table     *rtt.Table
	transport mp.Transport
	pack      *packbuf.Buffer
	placement config.Placement

	mu     sync.Mutex
	cursor port.PEId
}

// New creates a Dispatcher. The round-robin cursor starts at
// thisPE + 1 mod N, per spec.md section 4.4.
func New(thisPE port.PEId, nPEs int, table *rtt.Table, transport mp.Transport, pack *packbuf.Buffer, placement config.Placement) *Dispatcher {
	return &Dispatcher{
		thisPE:    thisPE,
		nPEs:      nPEs,
		table:     table,
		transport: transport,
		pack:      pack,
		placement: placement,
		cursor:    nextPE(thisPE, nPEs),
	}
}

func nextPE(pe port.PEId, n int) port.PEId {
	return port.PEId(int(pe)%n + 1)
}

// choosePE implements the RFORK target-selection policy of spec.md
// section 4.4. It returns the selected PE; a failed send against that
// PE should be reported back via rollback so the next choosePE call
// retries the same target.
func (d *Dispatcher) choosePE() port.PEId {
	d.mu.Lock()
	defer d.mu.Unlock()

	var target port.PEId
	if d.placement.Random {
		target = port.PEId(1 + rand.Intn(d.nPEs))
	} else {
		target = d.cursor
		d.cursor = nextPE(target, d.nPEs)
	}

	if d.placement.NoLocal && target == d.thisPE {
		target = nextPE(target, d.nPEs)
		if !d.placement.Random {
			d.cursor = nextPE(target, d.nPEs)
		}
	}
	return target
}

// rollback undoes the cursor advance for a failed round-robin
// selection, so the next choosePE call retries the same PE (spec.md
// section 4.4: "the round-robin cursor is rolled back by one").
// Random placement has no cursor to roll back.
func (d *Dispatcher) rollback(target port.PEId) {
	if d.placement.Random {
		return
	}
	d.mu.Lock()
	d.cursor = target
	d.mu.Unlock()
}

// SendWrapper is the outbound entry point of spec.md section 4.4.
// payload is nil for CONNECT and otherwise the heap subgraph to pack
// (or, for the local-bypass path, to splice directly into the
// receiver's placeholder).
func (d *Dispatcher) SendWrapper(th *rtt.Thread, mode Mode, payload *heap.Value) (Status, *heap.Value, error) {
	if mode.Kind < KindConnect || mode.Kind > KindRFork {
		return FatalErr, nil, ErrReservedKind
	}

	var sender, receiver port.Port
	var usedChoice bool
	var chosen port.PEId

	if mode.Kind == KindRFork {
		target := port.PEId(mode.ExplicitPE)
		if target == port.NoPE {
			target = d.choosePE()
			usedChoice = true
			chosen = target
		}
		sender = d.table.MyProcess(th)
		receiver = port.Port{Machine: target}
	} else {
		receiver = d.table.MyReceiver(th)
		proc := d.table.MyProcess(th)
		sender = port.Port{Machine: proc.Machine, Process: proc.Process, Id: th.ID}
	}

	status, blocked, err := d.deliver(sender, receiver, mode.Kind, payload)

	if usedChoice && (status == Blocked || status == Failed) {
		d.rollback(chosen)
	}
	return status, blocked, err
}

// deliver packs and sends, or (for HEAD/DATA/CONNECT with a local
// receiver) bypasses the network entirely per spec.md section 4.4's
// local-bypass rule.
func (d *Dispatcher) deliver(sender, receiver port.Port, kind Kind, payload *heap.Value) (Status, *heap.Value, error) {
	tag := kindTag(kind)

	local := kind != KindRFork && receiver.Machine == d.thisPE
	if local {
		return d.localDeliver(tag, sender, receiver, payload)
	}

	if kind == KindConnect {
		return d.sendWire(receiver.Machine, tag, sender, receiver, nil)
	}

	d.pack.Lock()
	defer d.pack.Unlock()
	result, encoded, blocked := d.pack.PackToBuffer(payload)

	switch result {
	case packbuf.Success:
		return d.sendWire(receiver.Machine, tag, sender, receiver, encoded)
	case packbuf.Blackhole:
		return Blocked, blocked, nil
	default:
		log.Error("datacomms: pack failed for %v -> %v: %v", sender, receiver, result)
		return FatalErr, nil, fmt.Errorf("datacomms: pack %v", result)
	}
}

func (d *Dispatcher) sendWire(dest port.PEId, tag wire.OpCode, sender, receiver port.Port, payload []byte) (Status, *heap.Value, error) {
	msg := &wire.Message{Sender: sender, Receiver: receiver, Payload: payload}

	var buf bytes.Buffer
	if err := msg.Encode(&buf); err != nil {
		return FatalErr, nil, fmt.Errorf("datacomms: encode %v -> %v: %w", sender, receiver, err)
	}

	if !d.transport.Send(dest, tag, buf.Bytes()) {
		return Failed, nil, nil
	}
	return OK, nil, nil
}

func kindTag(k Kind) wire.OpCode {
	switch k {
	case KindConnect:
		return wire.OpConnect
	case KindHead:
		return wire.OpHead
	case KindData:
		return wire.OpData
	case KindRFork:
		return wire.OpRFork
	}
	return wire.OpConstr
}
