// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package wire

import (
	"bytes"
	"testing"

	"github.com/sandia-hpc/pe-runtime/internal/port"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{
			name: "zero payload",
			msg: Message{
				Sender:   port.Port{Machine: 1, Process: 7, Id: 3},
				Receiver: port.Port{Machine: 2, Process: 4, Id: 9},
			},
		},
		{
			name: "payload not word-aligned",
			msg: Message{
				Sender:   port.Port{Machine: 2, Process: 1, Id: 1},
				Receiver: port.Port{Machine: 1, Process: 7, Id: 3},
				Payload:  []byte{1, 2, 3, 4, 5},
			},
		},
		{
			name: "payload exactly one word",
			msg: Message{
				Sender:   port.Port{Machine: 3},
				Receiver: port.Port{Machine: 1},
				Payload:  bytes.Repeat([]byte{0xAB}, WordSize),
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := c.msg.Encode(&buf); err != nil {
				t.Fatalf("encode: %v", err)
			}

			got, err := Decode(&buf)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			if got.Sender != c.msg.Sender {
				t.Errorf("sender = %v, want %v", got.Sender, c.msg.Sender)
			}
			if got.Receiver != c.msg.Receiver {
				t.Errorf("receiver = %v, want %v", got.Receiver, c.msg.Receiver)
			}
			if !bytes.Equal(got.Payload, c.msg.Payload) {
				t.Errorf("payload = %v, want %v", got.Payload, c.msg.Payload)
			}
		})
	}
}

func TestHeaderSizeIsNineWords(t *testing.T) {
	if HeaderSize != 9*WordSize {
		t.Errorf("HeaderSize = %d, want %d", HeaderSize, 9*WordSize)
	}
}

func TestOpCodeSystemDataPartition(t *testing.T) {
	if OpPeerUp.IsSystem() || OpPeerUp.IsData() {
		t.Errorf("OpPeerUp must be neither system nor data")
	}
	for op := MinSysCode; op <= MaxSysCode; op++ {
		if !op.IsSystem() {
			t.Errorf("%v should be IsSystem", op)
		}
		if op.IsData() {
			t.Errorf("%v should not be IsData", op)
		}
	}
	for op := OpConnect; op <= OpConstr; op++ {
		if !op.IsData() {
			t.Errorf("%v should be IsData", op)
		}
		if op.IsSystem() {
			t.Errorf("%v should not be IsSystem", op)
		}
	}
}
