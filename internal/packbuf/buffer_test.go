// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package packbuf

import (
	"testing"

	"github.com/sandia-hpc/pe-runtime/internal/heap"
)

func TestPackUnpackLeaf(t *testing.T) {
	b := New(4096)
	root := heap.NewLeaf(int64(42))

	b.Lock()
	result, enc, blocked := b.PackToBuffer(root)
	b.Unlock()
	if result != Success {
		t.Fatalf("pack result = %v, want Success", result)
	}
	if blocked != nil {
		t.Fatalf("pack returned a blocked node on success")
	}

	b.Lock()
	got, result := b.UnpackGraph(enc)
	b.Unlock()
	if result != Success {
		t.Fatalf("unpack result = %v, want Success", result)
	}
	if got.Data.(int64) != 42 {
		t.Errorf("unpacked leaf = %v, want 42", got.Data)
	}
}

func TestPackBlockedOnBlackhole(t *testing.T) {
	b := New(4096)
	bh := heap.NewBlackhole(0)
	root := heap.NewListNode(0, bh, heap.NewLeaf(nil))

	b.Lock()
	result, enc, blocked := b.PackToBuffer(root)
	b.Unlock()

	if result != Blackhole {
		t.Fatalf("pack result = %v, want Blackhole", result)
	}
	if blocked != bh {
		t.Errorf("pack should report the specific blackhole node")
	}
	if enc != nil {
		t.Errorf("pack should not return bytes on Blackhole")
	}
}

func TestPackTooLargeIsNoBuffer(t *testing.T) {
	b := New(0) // payload ceiling of 0 bytes; Headroom is not counted
	root := heap.NewLeaf(make([]byte, Headroom*2))

	b.Lock()
	result, _, _ := b.PackToBuffer(root)
	b.Unlock()

	if result != NoBuffer {
		t.Fatalf("pack result = %v, want NoBuffer", result)
	}
}

// TestPackBoundaryIsExactlyPackBufferSize pins spec.md's literal
// boundary: a payload of exactly packBufferSize bytes succeeds, one
// byte more fails, even though the physical buffer has Headroom bytes
// of slack beyond packBufferSize for header/scratch overhead.
func TestPackBoundaryIsExactlyPackBufferSize(t *testing.T) {
	const packBufferSize = 8192

	encodedLen := func(t *testing.T, n int) int {
		t.Helper()
		b := New(1 << 30) // large enough that this probe pack never fails
		b.Lock()
		result, enc, _ := b.PackToBuffer(heap.NewLeaf(make([]byte, n)))
		b.Unlock()
		if result != Success {
			t.Fatalf("probe pack of %d raw bytes: result = %v, want Success", n, result)
		}
		return len(enc)
	}

	// Binary search the raw payload length whose gob encoding lands
	// exactly at packBufferSize bytes, then check the pack/no-pack
	// boundary sits exactly there.
	lo, hi := 0, packBufferSize
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if encodedLen(t, mid) <= packBufferSize {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	atBoundary := lo
	if got := encodedLen(t, atBoundary); got != packBufferSize {
		t.Skipf("could not land encoded length exactly on %d (closest below: %d)", packBufferSize, got)
	}

	b := New(packBufferSize)

	b.Lock()
	result, _, _ := b.PackToBuffer(heap.NewLeaf(make([]byte, atBoundary)))
	b.Unlock()
	if result != Success {
		t.Errorf("pack of exactly packBufferSize bytes: result = %v, want Success", result)
	}

	over := atBoundary + 1
	for encodedLen(t, over) <= packBufferSize {
		over++
	}

	b.Lock()
	result, _, _ = b.PackToBuffer(heap.NewLeaf(make([]byte, over)))
	b.Unlock()
	if result != NoBuffer {
		t.Errorf("pack of packBufferSize+%d encoded bytes: result = %v, want NoBuffer", over-atBoundary, result)
	}
}

// TestSharedSubstructurePreservesIdentity builds a cons cell whose head
// and tail both point at the same leaf, packs and unpacks it, and
// checks the unpacked graph still shares that node rather than
// duplicating it.
func TestSharedSubstructurePreservesIdentity(t *testing.T) {
	b := New(4096)
	shared := heap.NewLeaf(int64(7))
	root := heap.NewListNode(0, shared, shared)

	b.Lock()
	result, enc, _ := b.PackToBuffer(root)
	b.Unlock()
	if result != Success {
		t.Fatalf("pack result = %v, want Success", result)
	}

	b.Lock()
	got, result := b.UnpackGraph(enc)
	b.Unlock()
	if result != Success {
		t.Fatalf("unpack result = %v, want Success", result)
	}

	if got.Head != got.Tail {
		t.Fatalf("unpacked graph lost shared identity: head=%p tail=%p", got.Head, got.Tail)
	}
	if got.Head.Data.(int64) != 7 {
		t.Errorf("shared leaf data = %v, want 7", got.Head.Data)
	}
}

// TestCyclicStructurePreservesIdentity builds a self-referential cons
// cell (its own tail), which the original pack format must encode as a
// back-reference and the unpacker must reconstruct into a real cycle.
func TestCyclicStructurePreservesIdentity(t *testing.T) {
	b := New(4096)
	head := heap.NewLeaf(int64(1))
	cell := heap.NewListNode(0, head, nil)
	cell.Tail = cell // self-reference

	b.Lock()
	result, enc, _ := b.PackToBuffer(cell)
	b.Unlock()
	if result != Success {
		t.Fatalf("pack result = %v, want Success", result)
	}

	b.Lock()
	got, result := b.UnpackGraph(enc)
	b.Unlock()
	if result != Success {
		t.Fatalf("unpack result = %v, want Success", result)
	}

	if got.Tail != got {
		t.Fatalf("unpacked graph lost its self-reference")
	}
}

func TestUnpackGarbledIsFatalResult(t *testing.T) {
	b := New(4096)
	b.Lock()
	_, result := b.UnpackGraph([]byte("not a valid gob stream"))
	b.Unlock()
	if result != Garbled {
		t.Fatalf("unpack result = %v, want Garbled", result)
	}
}
