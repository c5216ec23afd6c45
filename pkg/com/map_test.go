package com

import (
	"sync"
	"sync/atomic"
	"testing"
)

type testClient struct {
	id string
	c  int32
}

func (t *testClient) change(n int) { atomic.AddInt32(&t.c, int32(n)) }

func TestPointerValue(t *testing.T) {
	m := NewMap[string, *testClient]()
	c := testClient{id: "1"}
	m.Put(c.id, &c)
	c.change(100)
	fc, err := m.Find("1")
	if err != nil {
		t.Fatalf("expected a value, got %v", err)
	}
	if fc.c != c.c {
		t.Errorf("not expected change, o: %v != %v", c.c, fc.c)
	}
	m.RemoveByKey("1")
	if !m.IsEmpty() || m.Has("1") {
		t.Errorf("expected empty map")
	}
}

func TestLanesDropAndRecreate(t *testing.T) {
	created := 0
	l := NewLanes[int, *[]int](func() *[]int { created++; v := []int{}; return &v })

	l.Do(1, func(v *[]int) bool { *v = append(*v, 1); return false })
	l.Do(1, func(v *[]int) bool {
		if len(*v) != 1 {
			t.Errorf("expected the same state, got %v", *v)
		}
		return true
	})
	if l.Len() != 0 {
		t.Errorf("expected dropped lane, have %v", l.Len())
	}
	if l.Peek(1, func(*[]int) bool { return false }) {
		t.Errorf("peek should not recreate state")
	}
	l.Do(1, func(v *[]int) bool {
		if len(*v) != 0 {
			t.Errorf("expected fresh state, got %v", *v)
		}
		return false
	})
	if created != 2 {
		t.Errorf("expected 2 states, got %v", created)
	}
}

func TestLanesSerializeSameKey(t *testing.T) {
	l := NewLanes[string, *int](func() *int { return new(int) })

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			key := "a"
			if i%2 == 0 {
				key = "b"
			}
			// the unsynchronized increment is safe only under the lane lock
			l.Do(key, func(v *int) bool { *v++; return false })
		}(i)
	}
	wg.Wait()

	total := 0
	for _, key := range []string{"a", "b"} {
		l.Peek(key, func(v *int) bool { total += *v; return false })
	}
	if total != n {
		t.Errorf("expected %v increments, got %v", n, total)
	}
}

func TestLanesConcurrentDrop(t *testing.T) {
	l := NewLanes[int, *int](func() *int { return new(int) })

	var wg sync.WaitGroup
	var seen atomic.Int32
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); l.Do(7, func(v *int) bool { *v++; seen.Add(1); return false }) }()
		go func() { defer wg.Done(); l.Peek(7, func(v *int) bool { return true }) }()
	}
	wg.Wait()
	if seen.Load() != 100 {
		t.Errorf("every Do must run exactly once, got %v", seen.Load())
	}
}
