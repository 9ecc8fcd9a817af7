package queue

import (
	"sync"
	"testing"
)

func TestRing_FIFO(t *testing.T) {
	r := NewRing[int](4)
	for i := 1; i <= 3; i++ {
		if r.Push(i) {
			t.Fatalf("unexpected eviction at %d", i)
		}
	}
	for want := 1; want <= 3; want++ {
		got, ok := r.Pop()
		if !ok || got != want {
			t.Fatalf("expected %d, got %d (ok=%v)", want, got, ok)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("expected empty ring")
	}
}

func TestRing_DropsOldestWhenFull(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	if r.Dropped() != 2 {
		t.Fatalf("expected 2 drops, got %d", r.Dropped())
	}
	got := r.PopN(0)
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestRing_PopNBounded(t *testing.T) {
	r := NewRing[string](8)
	for _, s := range []string{"a", "b", "c", "d"} {
		r.Push(s)
	}
	first := r.PopN(3)
	if len(first) != 3 || first[0] != "a" || first[2] != "c" {
		t.Fatalf("unexpected first batch %v", first)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 left, got %d", r.Len())
	}
	if rest := r.PopN(3); len(rest) != 1 || rest[0] != "d" {
		t.Fatalf("unexpected rest %v", rest)
	}
	if r.PopN(3) != nil {
		t.Fatal("expected nil from empty ring")
	}
}

func TestRing_CloseRefusesPushes(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	r.Close()
	if !r.Push(2) {
		t.Fatal("expected push after close to report a drop")
	}
	if r.Dropped() != 1 {
		t.Fatalf("expected 1 drop, got %d", r.Dropped())
	}
	if v, ok := r.Pop(); !ok || v != 1 {
		t.Fatalf("expected queued item to survive close, got %d %v", v, ok)
	}
}

func TestRing_ReadySignal(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	r.Push(2)
	select {
	case <-r.Ready():
	default:
		t.Fatal("expected ready signal after push")
	}
	select {
	case <-r.Ready():
		t.Fatal("expected signals to coalesce")
	default:
	}
}

func TestRing_ConcurrentDropsMonotonic(t *testing.T) {
	r := NewRing[int](16)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Push(i)
			}
		}()
	}
	wg.Wait()
	if r.Len() != 16 {
		t.Fatalf("expected full ring, got %d", r.Len())
	}
	if r.Dropped() != 8*1000-16 {
		t.Fatalf("expected %d drops, got %d", 8*1000-16, r.Dropped())
	}
}
