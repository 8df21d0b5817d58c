// Copyright (2015) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package heap

import (
	"testing"
	"time"
)

func TestWaitWakesOnUpdate(t *testing.T) {
	bh := NewBlackhole(0)
	woke := make(chan struct{})

	go func() {
		bh.Wait()
		close(woke)
	}()

	select {
	case <-woke:
		t.Fatal("Wait returned before Update")
	case <-time.After(20 * time.Millisecond):
	}

	bh.Update(NewLeaf(int64(42)))

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake within a second of Update")
	}

	if IsBlackhole(bh) {
		t.Error("updated value still reports IsBlackhole")
	}
	if bh.Data.(int64) != 42 {
		t.Errorf("Data = %v, want 42", bh.Data)
	}
}

func TestWaitOnAlreadyUpdatedReturnsImmediately(t *testing.T) {
	v := NewLeaf(int64(1))

	done := make(chan struct{})
	go func() {
		v.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on an already-evaluated value")
	}
}

func TestUpdateWakesAllWaiters(t *testing.T) {
	bh := NewBlackhole(0)
	const n = 10
	woke := make(chan int, n)

	for i := 0; i < n; i++ {
		go func(i int) {
			bh.Wait()
			woke <- i
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	bh.Update(NewLeaf(nil))

	seen := 0
	for seen < n {
		select {
		case <-woke:
			seen++
		case <-time.After(time.Second):
			t.Fatalf("only %d/%d waiters woke", seen, n)
		}
	}
}
