// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package spawn

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/kr/pty"
	"golang.org/x/sync/errgroup"

	"github.com/sandia-hpc/pe-runtime/internal/port"
	"github.com/sandia-hpc/pe-runtime/internal/wire"
	log "github.com/sandia-hpc/pe-runtime/pkg/minilog"
)

// Environment variables the main PE sets on every spawned child, per
// spec.md section 6's process-spawn contract. A child distinguishes
// itself from the main PE by the presence of a non-zero child index.
const (
	EnvChildIndex   = "PE_CHILD_INDEX"
	EnvSubstrateKey = "PE_SUBSTRATE_KEY"
)

type inbound struct {
	tag    wire.OpCode
	data   []byte
	sender port.PEId
}

// Backend is the process-spawn MP transport.
type Backend struct {
	baseDir      string
	execPath     string
	substrateKey string

	thisPE port.PEId
	nPEs   int
	isMain bool

	ln net.Listener

	mu       sync.Mutex
	outbound map[port.PEId]net.Conn

	sysChan  chan inbound
	dataChan chan inbound

	children []*exec.Cmd
}

// New creates a spawn backend. baseDir holds the named inbox sockets;
// execPath is the program to re-exec for each child (normally
// os.Args[0]).
func New(baseDir, execPath string) *Backend {
	return &Backend{
		baseDir:  baseDir,
		execPath: execPath,
		outbound: make(map[port.PEId]net.Conn),
		sysChan:  make(chan inbound, 1024),
		dataChan: make(chan inbound, 1024),
	}
}

func (b *Backend) inboxPath(pe port.PEId) string {
	return filepath.Join(b.baseDir, fmt.Sprintf("%s-pe%d.sock", b.substrateKey, pe))
}

func randomKey(n int) (string, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(buf), nil
}

// Start distinguishes main from child by the presence of
// EnvChildIndex, generates (main) or inherits (child) the substrate
// key, and opens this PE's own inbox.
func (b *Backend) Start(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, errors.New("spawn: missing injected peer count argument")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("spawn: invalid peer count %q: %w", args[0], err)
	}
	b.nPEs = n

	if idx := os.Getenv(EnvChildIndex); idx != "" {
		child, err := strconv.Atoi(idx)
		if err != nil || child < 2 {
			return nil, fmt.Errorf("spawn: malformed %s=%q", EnvChildIndex, idx)
		}
		b.thisPE = port.PEId(child)
		b.isMain = false
		b.substrateKey = os.Getenv(EnvSubstrateKey)
		if b.substrateKey == "" {
			return nil, fmt.Errorf("spawn: %s unset for child", EnvSubstrateKey)
		}
	} else {
		key, err := randomKey(8)
		if err != nil {
			return nil, fmt.Errorf("spawn: generate substrate key: %w", err)
		}
		b.thisPE = 1
		b.isMain = true
		b.substrateKey = key
	}

	if err := os.MkdirAll(b.baseDir, 0700); err != nil {
		return nil, fmt.Errorf("spawn: create base dir: %w", err)
	}
	os.Remove(b.inboxPath(b.thisPE))

	ln, err := net.Listen("unix", b.inboxPath(b.thisPE))
	if err != nil {
		return nil, fmt.Errorf("spawn: open inbox: %w", err)
	}
	b.ln = ln
	go b.acceptLoop()

	log.Info("spawn: PE %d of %d inbox at %s", b.thisPE, b.nPEs, b.inboxPath(b.thisPE))
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

// handshakeInbound reads the one-byte PE number every dialPeer call
// writes as the first thing on a freshly dialed connection, so this
// inbox knows which peer owns each of its (possibly many) incoming
// connections before entering the frame loop.
func (b *Backend) handshakeInbound(conn net.Conn) {
	var who [1]byte
	if _, err := conn.Read(who[:]); err != nil {
		log.Error("spawn: inbound handshake: %v", err)
		conn.Close()
		return
	}
	b.readLoop(conn, port.PEId(who[0]))
}

func (b *Backend) readLoop(conn net.Conn, sender port.PEId) {
	defer conn.Close()
	for {
		tag, data, err := readFrame(conn)
		if err != nil {
			return
		}
		in := inbound{tag: tag, data: data, sender: sender}
		if tag.IsSystem() {
			b.sysChan <- in
		} else {
			b.dataChan <- in
		}
	}
}

// Sync spawns children (main PE only) and dials the send side of
// every peer's inbox, retrying until each peer's socket exists.
func (b *Backend) Sync() error {
	if b.isMain {
		if err := b.spawnChildren(); err != nil {
			return err
		}
	}

	var g errgroup.Group
	for pe := port.PEId(1); int(pe) <= b.nPEs; pe++ {
		if pe == b.thisPE {
			continue
		}
		pe := pe
		g.Go(func() error { return b.dialPeer(pe) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("spawn: PE %d synced with %d peers", b.thisPE, b.nPEs-1)
	return nil
}

func (b *Backend) spawnChildren() error {
	for i := 2; i <= b.nPEs; i++ {
		cmd := exec.Command(b.execPath, strconv.Itoa(b.nPEs))
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("%s=%d", EnvChildIndex, i),
			fmt.Sprintf("%s=%s", EnvSubstrateKey, b.substrateKey),
		)

		f, err := pty.Start(cmd)
		if err != nil {
			return fmt.Errorf("spawn: start child %d: %w", i, err)
		}
		b.children = append(b.children, cmd)

		go relayChildOutput(i, f)
	}
	return nil
}

// relayChildOutput prefixes every line a child writes to its pty with
// its PE number and forwards it through minilog, so a child's
// diagnostics are visible before it has its own mesh connectivity.
func relayChildOutput(pe int, f *os.File) {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		log.Info("[PE %d] %s", pe, scanner.Text())
	}
}

func (b *Backend) dialPeer(pe port.PEId) error {
	path := b.inboxPath(pe)

	var conn net.Conn
	var err error
	deadline := time.Now().Add(30 * time.Second)
	for {
		conn, err = net.Dial("unix", path)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("spawn: dial PE %d inbox %s: %w", pe, path, err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if _, err := conn.Write([]byte{byte(b.thisPE)}); err != nil {
		conn.Close()
		return fmt.Errorf("spawn: handshake to PE %d: %w", pe, err)
	}

	b.mu.Lock()
	b.outbound[pe] = conn
	b.mu.Unlock()
	return nil
}

// Send writes directly to the peer's inbox connection. Per spec.md's
// description of this backend ("no internal buffering... sends block
// until the receiver drains"), back-pressure is detected with a short
// write deadline rather than an application-level pool: if the OS
// socket buffer is full because the peer isn't draining, the deadline
// trips and Send reports saturation instead of blocking indefinitely.
func (b *Backend) Send(dest port.PEId, tag wire.OpCode, payload []byte) bool {
	b.mu.Lock()
	conn, ok := b.outbound[dest]
	b.mu.Unlock()
	if !ok {
		log.Error("spawn: send to unknown PE %d", dest)
		return false
	}

	conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
	err := writeFrame(conn, tag, payload)
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		log.Debug("spawn: send to PE %d saturated or failed: %v", dest, err)
		return false
	}
	return true
}

func (b *Backend) Recv(maxLen int) ([]byte, wire.OpCode, port.PEId, error) {
	var in inbound
	select {
	case in = <-b.sysChan:
	default:
		select {
		case in = <-b.sysChan:
		case in = <-b.dataChan:
		}
	}

	if len(in.data) > maxLen {
		log.Fatal("spawn: message of %d bytes exceeds recv buffer %d", len(in.data), maxLen)
	}
	return in.data, in.tag, in.sender, nil
}

func (b *Backend) Probe() bool {
	return len(b.sysChan) > 0 || len(b.dataChan) > 0
}

func (b *Backend) Quit(errorCode int) error {
	b.mu.Lock()
	for pe, conn := range b.outbound {
		conn.Close()
		delete(b.outbound, pe)
	}
	b.mu.Unlock()

	if b.ln != nil {
		b.ln.Close()
		os.Remove(b.inboxPath(b.thisPE))
	}

	for _, cmd := range b.children {
		go cmd.Wait()
	}
	b.children = nil

	b.nPEs = 0
	return nil
}

func (b *Backend) NPEs() int          { return b.nPEs }
func (b *Backend) ThisPE() port.PEId  { return b.thisPE }
func (b *Backend) IsMainThread() bool { return b.isMain }
