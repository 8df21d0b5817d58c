// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package datacomms

import (
	"fmt"

	"github.com/sandia-hpc/pe-runtime/internal/heap"
	"github.com/sandia-hpc/pe-runtime/internal/packbuf"
	"github.com/sandia-hpc/pe-runtime/internal/port"
	"github.com/sandia-hpc/pe-runtime/internal/rtt"
	"github.com/sandia-hpc/pe-runtime/internal/wire"
	log "github.com/sandia-hpc/pe-runtime/pkg/minilog"
)

// ProcessDataMsg is the inbound entry point of spec.md section 4.5,
// run by the PE's message-processing loop against a message that came
// in over the wire. The capability/thread argument of the original is
// dropped here: dispatch never needs to identify which worker thread
// is doing the processing, only which inport the message names.
func (d *Dispatcher) ProcessDataMsg(tag wire.OpCode, sender, receiver port.Port, wireBuf []byte) (Status, error) {
	in, ok := d.table.FindInportByP(receiver)
	if !ok {
		log.Debug("datacomms: %v for unknown inport %v, dropped", tag, receiver)
		return OK, nil
	}

	if tag == wire.OpConstr {
		log.Error("datacomms: CONSTR received for %v", receiver)
		return FatalErr, ErrReservedKind
	}

	if tag == wire.OpConnect {
		d.table.ConnectInportByP(receiver, sender)
		return OK, nil
	}

	d.pack.Lock()
	defer d.pack.Unlock()
	g, result := d.pack.UnpackGraph(wireBuf)
	if result != packbuf.Success {
		log.Error("datacomms: unpack failed for %v: %v", receiver, result)
		return FatalErr, fmt.Errorf("datacomms: unpack %v", result)
	}

	return d.deliverGraph(tag, sender, receiver, in, g)
}

// localDeliver is the bypass path of spec.md section 4.4's local-bypass
// rule: payload is already a live heap.Value, so there is nothing to
// pack or unpack, only the inport bookkeeping and placeholder update
// that processDataMsg would otherwise do around the unpack step.
func (d *Dispatcher) localDeliver(tag wire.OpCode, sender, receiver port.Port, payload *heap.Value) (Status, *heap.Value, error) {
	if tag == wire.OpConnect {
		d.table.ConnectInportByP(receiver, sender)
		return OK, nil, nil
	}

	in, ok := d.table.FindInportByP(receiver)
	if !ok {
		log.Debug("datacomms: local %v for unknown inport %v, dropped", tag, receiver)
		return OK, nil, nil
	}

	status, err := d.deliverGraph(tag, sender, receiver, in, payload)
	return status, nil, err
}

// deliverGraph is steps 2-6 of spec.md section 4.5, shared by the
// wire path (processDataMsg, after unpack) and the local-bypass path
// (after skipping pack/unpack): reconcile the sender binding, then
// dispatch by tag into the inport's placeholder.
//
// P is asserted blackhole by construction: it is either a fresh
// placeholder from newInport or the fresh one HEAD just rebound the
// inport to, and removeInportByP/DATA retires an inport the instant
// its placeholder is filled, so no second update can reach it.
func (d *Dispatcher) deliverGraph(tag wire.OpCode, sender, receiver port.Port, in *rtt.Inport, g *heap.Value) (Status, error) {
	if tag != wire.OpData && in.SenderPort() != sender {
		d.table.ConnectInportByP(receiver, sender)
	}

	p := in.Current()

	switch tag {
	case wire.OpHead:
		t := heap.NewBlackhole(0)
		in.Rebind(t)
		p.Update(heap.NewListNode(0, g, t))
	case wire.OpData:
		d.table.RemoveInportByP(receiver)
		p.Update(g)
	default:
		return FatalErr, fmt.Errorf("datacomms: unexpected tag %v for data message", tag)
	}
	return OK, nil
}
