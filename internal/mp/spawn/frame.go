// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package spawn is the process-spawn MP backend (spec.md section 4.1,
// backend 2): the main PE launches children as child processes and
// every PE, main included, opens a named unix-domain-socket inbox for
// itself and dials the send side of every peer's inbox. There is no
// internal buffering at this backend: a send either lands directly on
// the peer's socket or is rejected as back-pressure.
package spawn

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sandia-hpc/pe-runtime/internal/wire"
)

// writeFrame writes a length-prefixed [tag][payload] record. Payload
// is, as in the meshnet backend, exactly the bytes passed to Send
// (wire.Message.Encode output for data opcodes, a header-less payload
// for system opcodes); this backend never interprets them.
func writeFrame(w io.Writer, tag wire.OpCode, payload []byte) error {
	var hdr [9]byte
	hdr[0] = byte(tag)
	binary.LittleEndian.PutUint64(hdr[1:], uint64(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (wire.OpCode, []byte, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	tag := wire.OpCode(hdr[0])
	n := binary.LittleEndian.Uint64(hdr[1:])
	if n == 0 {
		return tag, nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, fmt.Errorf("spawn: short payload: %w", err)
	}
	return tag, buf, nil
}
