package sortedslice

import (
	"math"
	"testing"
)

func TestSetBasics(t *testing.T) {
	s := New()
	defer s.Close()

	if !s.Insert(5) || s.Insert(5) {
		t.Fatal("insert semantics wrong")
	}
	s.Insert(1)
	s.Insert(9)
	if s.Len() != 3 {
		t.Fatalf("len %d", s.Len())
	}
	if v, ok := s.Search(7); !ok || v != 5 {
		t.Fatalf("Search(7) = (%d,%v)", v, ok)
	}
	if _, ok := s.Search(0); ok {
		t.Fatal("Search(0) found a predecessor")
	}
	if !s.Remove(5) || s.Remove(5) {
		t.Fatal("remove semantics wrong")
	}
}

func TestSetIterate(t *testing.T) {
	s := New()
	defer s.Close()
	s.BulkLoad([]int32{2, 4, 6, 8})

	it := s.IterFrom(math.MinInt32)
	defer it.Close()
	want := []int32{2, 4, 6, 8}
	for _, w := range want {
		k, ok := it.Next()
		if !ok || k != w {
			t.Fatalf("got (%d,%v), want %d", k, ok, w)
		}
	}
	if _, ok := it.Next(); ok {
		t.Fatal("iterator overran")
	}

	it2 := s.IterFrom(5)
	defer it2.Close()
	if k, ok := it2.Next(); !ok || k != 6 {
		t.Fatalf("IterFrom(5) = (%d,%v), want 6", k, ok)
	}
}
