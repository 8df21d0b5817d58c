// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package datacomms is the outbound sendWrapper and inbound
// processDataMsg dispatch of spec.md sections 4.4 and 4.5: it is the
// only package that touches the pack buffer, the RTT, and the
// transport together, turning a send request from the scheduler into
// a wire message (or a local placeholder update), and turning a
// received wire message back into one.
package datacomms

import "fmt"

// Kind is sendWrapper's message kind (spec.md section 4.4's 3-bit
// mode field). Kinds 0, 5, 6, 7 are reserved and have no Kind value
// here.
type Kind int

const (
	KindConnect Kind = iota + 1
	KindHead
	KindData
	KindRFork
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "CONNECT"
	case KindHead:
		return "HEAD"
	case KindData:
		return "DATA"
	case KindRFork:
		return "RFORK"
	}
	return "UNKNOWN"
}

// Mode is the Go rendition of spec.md section 4.4's packed mode word:
// a kind plus, for RFORK only, an optional explicit target PE. The
// original packs both into one machine word's bit ranges; here they
// are just two struct fields, since nothing downstream of sendWrapper
// needs the bit-packed representation.
type Mode struct {
	Kind Kind
	// ExplicitPE, when non-zero, names the RFORK target directly and
	// bypasses choosePE. Ignored for all other kinds.
	ExplicitPE uint8
}

// Status is sendWrapper's and processDataMsg's result, per spec.md
// section 4.4's OK / BLOCKED / FAILED and section 7's fatal path.
type Status int

const (
	OK Status = iota
	Blocked
	Failed
	FatalErr
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Blocked:
		return "BLOCKED"
	case Failed:
		return "FAILED"
	case FatalErr:
		return "FATAL"
	}
	return "UNKNOWN"
}

// ErrReservedKind is returned for CONSTR and any of the reserved
// sendWrapper kinds, per spec.md section 9's open question: CONSTR is
// not implemented, and receipt is fatal.
var ErrReservedKind = fmt.Errorf("datacomms: CONSTR is reserved and not implemented")
