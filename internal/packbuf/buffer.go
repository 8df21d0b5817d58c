// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package packbuf implements the process-wide pack buffer of spec.md
// section 4.3: a single scratch region used to serialize outbound
// heap subgraphs, and the corresponding unpack path on receipt. The
// real packer/unpacker (the managed heap's own graph format) is out
// of scope per spec.md section 1; this package implements the same
// contract — result codes, blackhole detection, shared/cyclic
// structure — against the minimal heap.Value stand-in.
package packbuf

import (
	"sync"

	"github.com/sandia-hpc/pe-runtime/internal/heap"
	log "github.com/sandia-hpc/pe-runtime/pkg/minilog"
)

// Result is the closed set of outcomes PackToBuffer can return, per
// spec.md section 4.3.
type Result int

const (
	Success Result = iota
	Blackhole
	NoBuffer
	CannotPack
	Unsupported
	Impossible
	Garbled
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case Blackhole:
		return "BLACKHOLE"
	case NoBuffer:
		return "NOBUFFER"
	case CannotPack:
		return "CANNOTPACK"
	case Unsupported:
		return "UNSUPPORTED"
	case Impossible:
		return "IMPOSSIBLE"
	case Garbled:
		return "GARBLED"
	}
	return "UNKNOWN"
}

// Headroom is extra capacity carried alongside PackBufferSize, mirroring
// spec.md section 4.3's "packBufferSize + headroom + header".
const Headroom = 4096

// Buffer is the single process-wide pack buffer. Exactly one exists
// per PE; the mutex must be held across pack -> send -> release on the
// send side, and receive -> unpack -> replace-placeholder -> release
// on the receive side (spec.md section 5).
type Buffer struct {
	mu sync.Mutex

	// packBufferSize is the configured payload ceiling used for the
	// NOBUFFER decision (spec.md:270: a payload of exactly
	// packBufferSize bytes is accepted, one byte more is NOBUFFER).
	// The physical allocation this stands in for is packBufferSize
	// plus Headroom (spec.md section 4.3's "packBufferSize + headroom
	// + header"), but Headroom is scratch/header overhead, never part
	// of the payload ceiling itself.
	packBufferSize int
}

// New allocates the pack buffer, sized by configuration. Mirrors
// "created at sync time" (spec.md section 4.3); callers create this
// once during Startup/Sync and hold it for the PE's lifetime.
func New(packBufferSize int) *Buffer {
	return &Buffer{packBufferSize: packBufferSize}
}

// Lock acquires the pack buffer's mutex. Callers must pair every Lock
// with an Unlock spanning exactly one pack-send or receive-unpack
// cycle.
func (b *Buffer) Lock()   { b.mu.Lock() }
func (b *Buffer) Unlock() { b.mu.Unlock() }

// PackToBuffer serializes the subgraph rooted at root. The caller must
// hold the buffer's lock. On success it returns (Success, bytes) where
// bytes is ready to hand to the transport; on Blackhole it returns the
// specific node that blocked the sending thread so the scheduler can
// suspend on it.
func (b *Buffer) PackToBuffer(root *heap.Value) (Result, []byte, *heap.Value) {
	enc, blocked, err := encodeGraph(root)
	if blocked != nil {
		log.Debug("packbuf: pack blocked on blackhole")
		return Blackhole, nil, blocked
	}
	if err != nil {
		log.Error("packbuf: pack failed: %v", err)
		return CannotPack, nil, nil
	}
	if len(enc) > b.packBufferSize {
		log.Error("packbuf: encoded graph %d bytes exceeds pack buffer size %d", len(enc), b.packBufferSize)
		return NoBuffer, nil, nil
	}
	return Success, enc, nil
}

// UnpackGraph performs the inverse of PackToBuffer: it allocates fresh
// heap nodes from buf. Garbled input is fatal to the PE per spec.md
// section 4.3; the caller is responsible for acting on that.
func (b *Buffer) UnpackGraph(buf []byte) (*heap.Value, Result) {
	root, err := decodeGraph(buf)
	if err != nil {
		log.Error("packbuf: unpack failed: %v", err)
		return nil, Garbled
	}
	return root, Success
}
