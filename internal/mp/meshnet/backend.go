// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package meshnet

import (
	"encoding/gob"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sandia-hpc/pe-runtime/internal/port"
	"github.com/sandia-hpc/pe-runtime/internal/wire"
	log "github.com/sandia-hpc/pe-runtime/pkg/minilog"
)

const (
	ackTimeout = 30 * time.Second
	// recvBuffer mirrors meshage's RECEIVE_BUFFER: how many decoded,
	// not-yet-consumed messages each priority channel holds before a
	// peer's reader goroutine blocks.
	recvBuffer = 1024
)

// AddressBook maps every PE in the cohort to a dialable address. It
// stands in for the reference backend's machine file: addresses are
// known up front, unlike the spawn backend's environment-propagated
// substrate key.
type AddressBook map[port.PEId]string

// Backend is the two-sided reference MP transport.
type Backend struct {
	addrs  AddressBook
	listen string

	thisPE port.PEId
	nPEs   int
	isMain bool

	ln net.Listener

	mu    sync.Mutex
	peers map[port.PEId]*peerConn

	pool    *semaphore.Weighted
	nextSeq uint64

	sysChan  chan inbound
	dataChan chan inbound

	failed map[port.PEId]bool
}

type inbound struct {
	tag    wire.OpCode
	data   []byte
	sender port.PEId
	seq    uint64
	from   *peerConn
}

type peerConn struct {
	pe   port.PEId
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder

	sendMu sync.Mutex

	ackMu sync.Mutex
	acks  map[uint64]chan struct{}
}

// New creates a meshnet backend that will listen on listen (host:port)
// and dial peers as addrs describes them. sendBufferSize bounds the
// number of outstanding unacknowledged sends (spec.md section 4.1's
// maxMsgs).
func New(listen string, addrs AddressBook, sendBufferSize int) *Backend {
	return &Backend{
		addrs:    addrs,
		listen:   listen,
		peers:    make(map[port.PEId]*peerConn),
		pool:     semaphore.NewWeighted(int64(sendBufferSize)),
		sysChan:  make(chan inbound, recvBuffer),
		dataChan: make(chan inbound, recvBuffer),
		failed:   make(map[port.PEId]bool),
	}
}

// Start consumes the injected peer count and derives this PE's number
// from its position in the address book (the address book's caller is
// expected to have assigned PE numbers 1..N already; Start just
// validates they agree).
func (b *Backend) Start(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, errors.New("meshnet: missing injected peer count argument")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("meshnet: invalid peer count %q: %w", args[0], err)
	}
	if n != len(b.addrs) {
		return nil, fmt.Errorf("meshnet: injected peer count %d disagrees with address book size %d", n, len(b.addrs))
	}

	var self port.PEId
	for pe, addr := range b.addrs {
		if addr == b.listen {
			self = pe
		}
	}
	if self == port.NoPE {
		return nil, fmt.Errorf("meshnet: listen address %q not present in address book", b.listen)
	}

	b.thisPE = self
	b.nPEs = n
	b.isMain = self == 1

	ln, err := net.Listen("tcp", b.listen)
	if err != nil {
		return nil, fmt.Errorf("meshnet: listen %s: %w", b.listen, err)
	}
	b.ln = ln
	go b.acceptLoop()

	log.Info("meshnet: PE %d of %d listening on %s", b.thisPE, b.nPEs, b.listen)
	return args[1:], nil
}

func (b *Backend) acceptLoop() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		go b.handshakeInbound(conn)
	}
}

func (b *Backend) handshakeInbound(conn net.Conn) {
	enc := gob.NewEncoder(conn)
	dec := gob.NewDecoder(conn)

	var hs handshake
	if err := dec.Decode(&hs); err != nil {
		log.Error("meshnet: inbound handshake decode: %v", err)
		conn.Close()
		return
	}
	if err := enc.Encode(&handshake{PE: b.thisPE}); err != nil {
		log.Error("meshnet: inbound handshake reply: %v", err)
		conn.Close()
		return
	}

	b.addPeer(hs.PE, conn, enc, dec)
}

type handshake struct {
	PE port.PEId
}

func (b *Backend) addPeer(pe port.PEId, conn net.Conn, enc *gob.Encoder, dec *gob.Decoder) {
	pc := &peerConn{pe: pe, conn: conn, enc: enc, dec: dec, acks: make(map[uint64]chan struct{})}

	b.mu.Lock()
	b.peers[pe] = pc
	b.mu.Unlock()

	go b.readLoop(pc)
	log.Debug("meshnet: connected to PE %d", pe)
}

// Sync dials every peer with a PE number greater than this one's (the
// lower-numbered PE initiates, so each pair is connected exactly
// once), and blocks until every connection in the full mesh exists.
func (b *Backend) Sync() error {
	var g errgroup.Group
	for pe, addr := range b.addrs {
		if pe <= b.thisPE {
			continue
		}
		pe, addr := pe, addr
		g.Go(func() error {
			return b.dial(pe, addr)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		b.mu.Lock()
		have := len(b.peers)
		b.mu.Unlock()
		if have == b.nPEs-1 {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("meshnet: sync timed out with %d/%d peers connected", have, b.nPEs-1)
		}
		time.Sleep(10 * time.Millisecond)
	}

	log.Info("meshnet: PE %d synced with %d peers", b.thisPE, b.nPEs-1)
	return nil
}

func (b *Backend) dial(pe port.PEId, addr string) error {
	var conn net.Conn
	var err error
	for attempt := 0; attempt < 50; attempt++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("meshnet: dial PE %d at %s: %w", pe, addr, err)
	}

	enc := gob.NewEncoder(conn)
	dec := gob.NewDecoder(conn)

	if err := enc.Encode(&handshake{PE: b.thisPE}); err != nil {
		conn.Close()
		return err
	}
	var hs handshake
	if err := dec.Decode(&hs); err != nil {
		conn.Close()
		return err
	}

	b.addPeer(pe, conn, enc, dec)
	return nil
}

func (b *Backend) readLoop(pc *peerConn) {
	for {
		var f frame
		if err := pc.dec.Decode(&f); err != nil {
			log.Error("meshnet: PE %d disconnected: %v", pc.pe, err)
			b.markFailed(pc.pe)
			return
		}

		if f.Ack {
			pc.ackMu.Lock()
			ch, ok := pc.acks[f.Seq]
			delete(pc.acks, f.Seq)
			pc.ackMu.Unlock()
			if ok {
				close(ch)
			}
			continue
		}

		in := inbound{tag: f.Tag, data: f.Data, sender: pc.pe, seq: f.Seq, from: pc}
		if f.Tag.IsSystem() {
			b.sysChan <- in
		} else {
			b.dataChan <- in
		}
	}
}

func (b *Backend) markFailed(pe port.PEId) {
	b.mu.Lock()
	b.failed[pe] = true
	delete(b.peers, pe)
	b.mu.Unlock()

	b.sysChan <- inbound{tag: wire.OpFail, sender: pe}
}

// Send implements the bounded-outbox back-pressure contract: a slot
// in the pool represents one unacknowledged send. It is freed when the
// peer's Recv call dequeues and acknowledges the frame, or when the ack
// times out.
func (b *Backend) Send(dest port.PEId, tag wire.OpCode, payload []byte) bool {
	b.mu.Lock()
	pc, ok := b.peers[dest]
	b.mu.Unlock()
	if !ok {
		log.Error("meshnet: send to unknown/failed PE %d", dest)
		return false
	}

	if !b.pool.TryAcquire(1) {
		log.Debug("meshnet: send pool saturated, rejecting send to PE %d", dest)
		return false
	}

	seq := atomic.AddUint64(&b.nextSeq, 1)
	ackCh := make(chan struct{})
	pc.ackMu.Lock()
	pc.acks[seq] = ackCh
	pc.ackMu.Unlock()

	go func() {
		defer b.pool.Release(1)

		pc.sendMu.Lock()
		err := pc.enc.Encode(&frame{Seq: seq, Tag: tag, Data: payload})
		pc.sendMu.Unlock()
		if err != nil {
			log.Error("meshnet: send to PE %d failed: %v", dest, err)
			return
		}

		select {
		case <-ackCh:
		case <-time.After(ackTimeout):
			log.Error("meshnet: send to PE %d timed out waiting for ack", dest)
		}
	}()
	return true
}

// Recv blocks for exactly one message, preferring any already-queued
// system/control message over a data message (spec.md section 4.1's
// priority rule), then acknowledges it to the sender.
func (b *Backend) Recv(maxLen int) ([]byte, wire.OpCode, port.PEId, error) {
	// Non-blocking priority check: deliver a pending system message
	// first if one is already queued.
	select {
	case in := <-b.sysChan:
		return b.finishRecv(in, maxLen)
	default:
	}

	select {
	case in := <-b.sysChan:
		return b.finishRecv(in, maxLen)
	case in := <-b.dataChan:
		return b.finishRecv(in, maxLen)
	}
}

func (b *Backend) finishRecv(in inbound, maxLen int) ([]byte, wire.OpCode, port.PEId, error) {
	if len(in.data) > maxLen {
		log.Fatal("meshnet: message of %d bytes exceeds recv buffer %d", len(in.data), maxLen)
	}

	if in.from != nil {
		in.from.sendMu.Lock()
		err := in.from.enc.Encode(&frame{Seq: in.seq, Ack: true})
		in.from.sendMu.Unlock()
		if err != nil {
			log.Error("meshnet: failed to ack PE %d: %v", in.sender, err)
		}
	}

	return in.data, in.tag, in.sender, nil
}

// Probe reports whether a message is already queued, without blocking
// or acknowledging it.
func (b *Backend) Probe() bool {
	return len(b.sysChan) > 0 || len(b.dataChan) > 0
}

// Quit disconnects from every peer, per spec.md section 4.4's counted
// shutdown: by the time Quit is called the caller has already run the
// FINISH handshake, so this just tears the sockets down.
func (b *Backend) Quit(errorCode int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for pe, pc := range b.peers {
		pc.conn.Close()
		delete(b.peers, pe)
	}
	if b.ln != nil {
		b.ln.Close()
	}
	b.nPEs = 0 // sentinel against duplicate shutdowns
	return nil
}

func (b *Backend) NPEs() int          { return b.nPEs }
func (b *Backend) ThisPE() port.PEId  { return b.thisPE }
func (b *Backend) IsMainThread() bool { return b.isMain }
