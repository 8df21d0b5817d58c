// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package heap stands in for the managed-heap object layout, which is
// explicitly out of scope for this runtime (spec.md section 1): the
// real packer/unpacker, scheduler, and thread suspension live
// elsewhere. This package supplies only the handful of primitives
// DataComms needs to reason about placeholders: a blackhole-typed
// thunk that blocks readers until it is updated, and the two node
// shapes DataComms constructs (a value closure and a cons cell for
// streamed lists).
package heap

import "sync"

// Value is any heap closure reachable from an inport's placeholder.
// Concrete graphs are represented as a tree of *Value nodes; Pack and
// Unpack (package packbuf) walk this shape.
type Value struct {
	mu sync.Mutex

	blackhole bool
	waiters   []chan struct{}

	// Either Data holds a leaf payload, or Head/Tail hold a cons cell
	// (Head is the element, Tail is the rest of the list, itself a
	// *Value which may still be a blackhole).
	Data interface{}
	Head *Value
	Tail *Value
}

// NewBlackhole allocates a fresh unevaluated placeholder. cap is
// unused by this stand-in; its callers (rtt.NewInport and datacomms'
// HEAD handler) pass 0.
func NewBlackhole(cap int) *Value {
	return &Value{blackhole: true}
}

// NewListNode builds a cons cell whose head is a materialized value
// and whose tail is (usually) a fresh blackhole awaiting the next
// stream element.
func NewListNode(cap int, head *Value, tail *Value) *Value {
	return &Value{Head: head, Tail: tail}
}

// NewLeaf wraps an arbitrary payload (e.g. a packed integer) in a
// non-blackhole value.
func NewLeaf(data interface{}) *Value {
	return &Value{Data: data}
}

// IsBlackhole reports whether v is still an unevaluated placeholder.
func IsBlackhole(v *Value) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.blackhole
}

// Wait blocks the calling goroutine until v is updated away from a
// blackhole. It is the stand-in for the scheduler's thread-suspension
// primitive (spec.md section 5, "a thread consuming a placeholder is
// suspended by the host scheduler until updateThunk replaces the
// placeholder").
func (v *Value) Wait() {
	v.mu.Lock()
	if !v.blackhole {
		v.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	v.waiters = append(v.waiters, ch)
	v.mu.Unlock()
	<-ch
}

// Update replaces v's contents with other's in place and wakes any
// goroutine blocked in Wait. It is the stand-in for the scheduler's
// atomic thunk update; v's own mutex makes the update atomic with
// respect to readers, so callers need no lock on v.
func (v *Value) Update(other *Value) {
	v.mu.Lock()
	v.Data = other.Data
	v.Head = other.Head
	v.Tail = other.Tail
	v.blackhole = false
	waiters := v.waiters
	v.waiters = nil
	v.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}
