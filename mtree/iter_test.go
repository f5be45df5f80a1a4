package mtree

import (
	"math"
	"math/rand"
	"slices"
	"testing"
)

func TestIteratorEmpty(t *testing.T) {
	tr := New()
	defer tr.Close()
	it := tr.IterFrom(0)
	defer it.Close()
	if _, ok := it.Next(); ok {
		t.Fatal("empty tree yielded a key")
	}
}

// TestIteratorFull walks the whole tree and expects exactly the inserted
// sequence back.
func TestIteratorFull(t *testing.T) {
	for name, h := range allHierarchies() {
		t.Run(name, func(t *testing.T) {
			tr := NewWith(h)
			defer tr.Close()
			for i := 0; i < 500; i++ {
				tr.Insert(int32(i * 3))
			}

			it := tr.IterFrom(math.MinInt32)
			defer it.Close()
			for i := 0; i < 500; i++ {
				k, ok := it.Next()
				if !ok || k != int32(i*3) {
					t.Fatalf("position %d: got (%d,%v), want %d", i, k, ok, i*3)
				}
			}
			if _, ok := it.Next(); ok {
				t.Fatal("iterator overran")
			}
		})
	}
}

func TestIteratorFromMidpoint(t *testing.T) {
	tr := New()
	defer tr.Close()
	for i := 0; i < 500; i++ {
		tr.Insert(int32(i * 3))
	}

	// 55 falls between 54 and 57; the first yielded key must be 57.
	it := tr.IterFrom(55)
	if k, ok := it.Next(); !ok || k != 57 {
		t.Fatalf("IterFrom(55) first = (%d,%v), want 57", k, ok)
	}
	it.Close()

	// Exact hit starts on the key itself.
	it = tr.IterFrom(54)
	if k, ok := it.Next(); !ok || k != 54 {
		t.Fatalf("IterFrom(54) first = (%d,%v), want 54", k, ok)
	}
	if k, ok := it.Next(); !ok || k != 57 {
		t.Fatalf("IterFrom(54) second = (%d,%v), want 57", k, ok)
	}
	it.Close()

	// Past the maximum: empty iteration.
	it = tr.IterFrom(10000)
	if _, ok := it.Next(); ok {
		t.Fatal("IterFrom past max yielded a key")
	}
	it.Close()
}

// TestIteratorAcrossLeaves covers the leaf chain over many pages.
func TestIteratorAcrossLeaves(t *testing.T) {
	for name, h := range allHierarchies() {
		t.Run(name, func(t *testing.T) {
			const n = 2000
			tr := BulkLoadWith(seq(n, 1, 0), h)
			defer tr.Close()

			it := tr.IterFrom(math.MinInt32)
			defer it.Close()
			count := 0
			prev := int32(math.MinInt32)
			for {
				k, ok := it.Next()
				if !ok {
					break
				}
				if count > 0 && k <= prev {
					t.Fatal("keys not strictly increasing")
				}
				prev = k
				count++
			}
			if count != n {
				t.Fatalf("iterated %d, want %d", count, n)
			}
		})
	}
}

// TestIteratorSeekIdempotence: the first key yielded from any start equals
// the smallest stored key >= start.
func TestIteratorSeekIdempotence(t *testing.T) {
	rnd := rand.New(rand.NewSource(21))
	keys := make([]int32, 0, 3000)
	seen := make(map[int32]struct{})
	for len(keys) < 3000 {
		k := int32(rnd.Intn(100000))
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for name, h := range allHierarchies() {
		t.Run(name, func(t *testing.T) {
			tr := BulkLoadWith(keys, h)
			defer tr.Close()

			for trial := 0; trial < 500; trial++ {
				start := int32(rnd.Intn(110000)) - 5000
				i, _ := slices.BinarySearch(keys, start)

				it := tr.IterFrom(start)
				k, ok := it.Next()
				it.Close()

				if i == len(keys) {
					if ok {
						t.Fatalf("IterFrom(%d) yielded %d past the end", start, k)
					}
					continue
				}
				if !ok || k != keys[i] {
					t.Fatalf("IterFrom(%d) = (%d,%v), want %d", start, k, ok, keys[i])
				}
			}
		})
	}
}
