// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package wire implements the bit-exact on-wire message header of
// spec.md section 6. DataComms frames every data-opcode message with
// this header before handing it to a backend, whatever the transport
// medium. The system messages peruntime sends (FINISH, READY, PETIDS)
// carry their own short payloads and no header.
//
// Builds are required to be homogeneous on the wire (spec.md section
// 6): every field is a fixed-width little-endian machine word. We fix
// the word size at 8 bytes rather than varying it with GOARCH, which
// is the one place this reimplementation narrows the original's
// "machine word" to a concrete choice.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sandia-hpc/pe-runtime/internal/port"
)

// WordSize is the fixed width, in bytes, of every header field and of
// one payload word.
const WordSize = 8

// headerWords is the number of machine words in the fixed prefix:
// sender{machine,process,id}, receiver{machine,process,id}, id, size,
// unpacked_size. The wire's "size" word is the word-padded length
// (spec.md section 6); the otherwise-reserved "unpacked_size" word
// carries the true, un-padded payload byte length so Decode can trim
// the trailing pad bytes back off and reproduce exactly what Encode
// was given.
const headerWords = 9

// HeaderSize is the byte length of the fixed header prefix.
const HeaderSize = headerWords * WordSize

// Message is one wire message: a port-addressed envelope plus payload
// words. Payload is nil (size == 0) for CONNECT and for any message
// that carries no data.
type Message struct {
	Sender   port.Port
	Receiver port.Port

	// ID is a reserved field (spec.md section 9, Open Questions):
	// always written zero, any value accepted on receipt.
	ID int64

	Payload []byte
}

// Encode writes m's bit-exact header followed by its (word-padded)
// payload to w.
func (m *Message) Encode(w io.Writer) error {
	words := paddedWords(m.Payload)

	var hdr [HeaderSize]byte
	putWord(hdr[0*WordSize:], uint64(m.Sender.Machine))
	putWord(hdr[1*WordSize:], m.Sender.Process)
	putWord(hdr[2*WordSize:], m.Sender.Id)
	putWord(hdr[3*WordSize:], uint64(m.Receiver.Machine))
	putWord(hdr[4*WordSize:], m.Receiver.Process)
	putWord(hdr[5*WordSize:], m.Receiver.Id)
	putWord(hdr[6*WordSize:], uint64(m.ID))
	putWord(hdr[7*WordSize:], words)
	putWord(hdr[8*WordSize:], uint64(len(m.Payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if words == 0 {
		return nil
	}

	buf := make([]byte, words*WordSize)
	copy(buf, m.Payload)
	_, err := w.Write(buf)
	return err
}

// Decode reads one bit-exact header and its payload from r.
func Decode(r io.Reader) (*Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	m := &Message{
		Sender: port.Port{
			Machine: port.PEId(getWord(hdr[0*WordSize:])),
			Process: getWord(hdr[1*WordSize:]),
			Id:      getWord(hdr[2*WordSize:]),
		},
		Receiver: port.Port{
			Machine: port.PEId(getWord(hdr[3*WordSize:])),
			Process: getWord(hdr[4*WordSize:]),
			Id:      getWord(hdr[5*WordSize:]),
		},
		ID: int64(getWord(hdr[6*WordSize:])),
	}

	words := getWord(hdr[7*WordSize:])
	payloadLen := getWord(hdr[8*WordSize:])
	if words > 0 {
		buf := make([]byte, words*WordSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		if payloadLen > uint64(len(buf)) {
			return nil, fmt.Errorf("wire: payload length %d exceeds padded size %d", payloadLen, len(buf))
		}
		m.Payload = buf[:payloadLen]
	}
	return m, nil
}

func paddedWords(payload []byte) uint64 {
	if len(payload) == 0 {
		return 0
	}
	return (uint64(len(payload)) + WordSize - 1) / WordSize
}

func putWord(b []byte, v uint64) {
	binary.LittleEndian.PutUint64(b[:WordSize], v)
}

func getWord(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b[:WordSize])
}

func (m *Message) String() string {
	return fmt.Sprintf("%v -> %v (%d bytes)", m.Sender, m.Receiver, len(m.Payload))
}
