// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package packbuf

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/sandia-hpc/pe-runtime/internal/heap"
)

// gob needs concrete types registered to decode into the node.Data
// interface{} field. Register the leaf payload shapes this runtime's
// tests and demo binary actually construct; a real packer would
// instead walk the managed heap's own tag-discriminated layout.
func init() {
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(false)
	gob.Register([]byte{})
}

// node is the on-buffer shape of one heap.Value, keyed by its
// pre-order offset. leaf carries Data; cons carries Head/Tail as
// offsets into the same slice; a node whose Ref is set is a
// back-reference to an already-emitted offset, the identity-keyed
// table of spec.md section 9 turned into an explicit wire field.
type node struct {
	Leaf bool
	Data interface{}

	Cons bool
	Head int
	Tail int

	Backref bool
	Ref     int
}

// encodeGraph walks root, detecting shared substructure and cycles via
// an identity-keyed table (address -> offset), and gob-encodes the
// resulting flat node list. It returns the blocked blackhole, if any,
// instead of an error: packing a live subgraph that still contains an
// unevaluated node is a recoverable condition (BLACKHOLE), not a
// pack failure.
func encodeGraph(root *heap.Value) ([]byte, *heap.Value, error) {
	seen := make(map[*heap.Value]int)
	var nodes []node

	var walk func(v *heap.Value) (int, *heap.Value)
	walk = func(v *heap.Value) (int, *heap.Value) {
		if v == nil {
			return -1, nil
		}
		if off, ok := seen[v]; ok {
			nodes = append(nodes, node{Backref: true, Ref: off})
			return len(nodes) - 1, nil
		}
		if heap.IsBlackhole(v) {
			return -1, v
		}

		off := len(nodes)
		nodes = append(nodes, node{}) // placeholder, fixed up below
		seen[v] = off

		if v.Head != nil || v.Tail != nil {
			headOff, blocked := walk(v.Head)
			if blocked != nil {
				return -1, blocked
			}
			tailOff, blocked := walk(v.Tail)
			if blocked != nil {
				return -1, blocked
			}
			nodes[off] = node{Cons: true, Head: headOff, Tail: tailOff}
		} else {
			nodes[off] = node{Leaf: true, Data: v.Data}
		}
		return off, nil
	}

	_, blocked := walk(root)
	if blocked != nil {
		return nil, blocked, nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(nodes); err != nil {
		return nil, nil, fmt.Errorf("encode graph: %w", err)
	}
	return buf.Bytes(), nil, nil
}

// decodeGraph is encodeGraph's inverse: it allocates one *heap.Value
// per node (so back-references resolve to the same pointer, restoring
// identity) and wires up cons cells from the decoded offsets.
func decodeGraph(buf []byte) (*heap.Value, error) {
	var nodes []node
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&nodes); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("decode graph: empty node list")
	}

	values := make([]*heap.Value, len(nodes))
	for i := range nodes {
		values[i] = heap.NewLeaf(nil)
	}

	// Resolve back-references first so that every values[i] used while
	// wiring cons cells below already aliases the right shared object,
	// regardless of whether that object's own Head/Tail/Data have been
	// filled in yet (a back-reference's Ref always names an earlier,
	// non-backref offset, but a cons cell's Head/Tail offsets point
	// forward to children visited after their parent).
	for i, n := range nodes {
		if !n.Backref {
			continue
		}
		if n.Ref < 0 || n.Ref >= len(values) {
			return nil, fmt.Errorf("decode graph: out-of-range backref %d", n.Ref)
		}
		values[i] = values[n.Ref]
	}

	for i, n := range nodes {
		switch {
		case n.Backref:
			// handled above
		case n.Cons:
			var head, tail *heap.Value
			if n.Head >= 0 {
				if n.Head >= len(values) {
					return nil, fmt.Errorf("decode graph: out-of-range head %d", n.Head)
				}
				head = values[n.Head]
			}
			if n.Tail >= 0 {
				if n.Tail >= len(values) {
					return nil, fmt.Errorf("decode graph: out-of-range tail %d", n.Tail)
				}
				tail = values[n.Tail]
			}
			values[i].Head = head
			values[i].Tail = tail
		case n.Leaf:
			values[i].Data = n.Data
		default:
			return nil, fmt.Errorf("decode graph: node %d has no recognized shape", i)
		}
	}

	return values[0], nil
}
