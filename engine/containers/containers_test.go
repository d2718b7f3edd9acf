package containers

import "testing"

func TestRingQueue(t *testing.T) {
	q := NewRingQueue[int](2)
	if _, err := q.Dequeue(); err != ErrQueueEmpty {
		t.Fatalf("Dequeue on empty = %v", err)
	}
	if err := q.Enqueue(1); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(2); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(3); err != ErrQueueFull {
		t.Fatalf("Enqueue on full = %v", err)
	}
	if v, _ := q.Peek(); v != 1 {
		t.Errorf("Peek = %d", v)
	}
	v, _ := q.Dequeue()
	if v != 1 || q.Len() != 1 {
		t.Errorf("Dequeue = %d, Len = %d", v, q.Len())
	}
	// wraps around
	if err := q.Enqueue(3); err != nil {
		t.Fatal(err)
	}
	a, _ := q.Dequeue()
	b, _ := q.Dequeue()
	if a != 2 || b != 3 || !q.IsEmpty() {
		t.Errorf("got %d %d empty=%v", a, b, q.IsEmpty())
	}
}

func TestBitSetFlipMasksPartialWord(t *testing.T) {
	for _, size := range []uint{9, 64, 70, 128, 130} {
		b := NewBitSet(size)
		b.Set(0)
		b.Flip()
		if got := b.Count(); got != int(size)-1 {
			t.Errorf("size %d: Count after Flip = %d, want %d", size, got, size-1)
		}
		if b.Test(0) {
			t.Errorf("size %d: bit 0 still set", size)
		}
		b.Flip()
		if b.Count() != 1 || !b.Test(0) {
			t.Errorf("size %d: double Flip is not the identity", size)
		}
	}
}

func TestBitSetForEach(t *testing.T) {
	b := Indices[uint32](130, 1, 64, 129)
	var got []uint
	b.ForEach(func(i uint) { got = append(got, i) })
	want := []uint{1, 64, 129}
	if len(got) != len(want) {
		t.Fatalf("ForEach = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ForEach = %v, want %v", got, want)
		}
	}
	b.Reset(64)
	if b.Test(64) || b.Count() != 2 {
		t.Errorf("Reset failed")
	}
	b.ResetAll()
	if b.Any() {
		t.Errorf("ResetAll left bits set")
	}
}

func TestBitSetOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewBitSet(8).Set(8)
}
