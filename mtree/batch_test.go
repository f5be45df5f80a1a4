package mtree

import (
	"math"
	"math/rand"
	"testing"
)

func TestInsertBatchBasic(t *testing.T) {
	tr := New()
	defer tr.Close()
	inserted := tr.InsertBatch([]int32{50, 10, 30, 20, 40})
	if inserted != 5 {
		t.Fatalf("inserted %d, want 5", inserted)
	}
	if tr.Len() != 5 {
		t.Fatalf("size %d", tr.Len())
	}
	for _, k := range []int32{10, 20, 30, 40, 50} {
		if !tr.Contains(k) {
			t.Fatalf("key %d missing", k)
		}
	}
}

func TestInsertBatchDuplicates(t *testing.T) {
	tr := New()
	defer tr.Close()
	tr.Insert(10)
	inserted := tr.InsertBatch([]int32{10, 20, 20, 30})
	if inserted != 2 {
		t.Fatalf("inserted %d, want 2 (20 and 30)", inserted)
	}
	if tr.Len() != 3 {
		t.Fatalf("size %d", tr.Len())
	}
}

func TestInsertBatchSplits(t *testing.T) {
	for name, h := range allHierarchies() {
		t.Run(name, func(t *testing.T) {
			tr := NewWith(h)
			defer tr.Close()
			inserted := tr.InsertBatch(seq(5000, 2, 0))
			if inserted != 5000 {
				t.Fatalf("inserted %d", inserted)
			}
			if tr.Len() != 5000 {
				t.Fatalf("size %d", tr.Len())
			}
			for i := 0; i < 5000; i++ {
				if !tr.Contains(int32(i * 2)) {
					t.Fatalf("key %d missing", i*2)
				}
			}
			validate(t, tr)
		})
	}
}

func TestInsertBatchIntoExisting(t *testing.T) {
	tr := BulkLoad(seq(1000, 4, 0))
	defer tr.Close()
	inserted := tr.InsertBatch(seq(1000, 4, 2))
	if inserted != 1000 {
		t.Fatalf("inserted %d", inserted)
	}
	if tr.Len() != 2000 {
		t.Fatalf("size %d", tr.Len())
	}

	it := tr.IterFrom(math.MinInt32)
	defer it.Close()
	for i := 0; i < 2000; i++ {
		k, ok := it.Next()
		if !ok || k != int32(i*2) {
			t.Fatalf("position %d: (%d,%v)", i, k, ok)
		}
	}
	validate(t, tr)
}

func TestDeleteBatchBasic(t *testing.T) {
	tr := New()
	defer tr.Close()
	for i := 0; i < 100; i++ {
		tr.Insert(int32(i))
	}
	removed := tr.DeleteBatch([]int32{10, 50, 99, 0, 75})
	if removed != 5 {
		t.Fatalf("removed %d", removed)
	}
	if tr.Len() != 95 {
		t.Fatalf("size %d", tr.Len())
	}
	for _, k := range []int32{10, 50, 99, 0, 75} {
		if tr.Contains(k) {
			t.Fatalf("deleted key %d present", k)
		}
	}
}

// TestDeleteBatchHeavy deletes the odd half (plus misses) from a
// bulk-loaded tree; only the hits count.
func TestDeleteBatchHeavy(t *testing.T) {
	for name, h := range allHierarchies() {
		t.Run(name, func(t *testing.T) {
			tr := BulkLoadWith(seq(5000, 1, 0), h)
			defer tr.Close()

			// Odd numbers below 6000: those under 5000 exist (2500 of
			// them), the rest are misses.
			removed := tr.DeleteBatch(seq(3000, 2, 1))
			if removed != 2500 {
				t.Fatalf("removed %d, want 2500", removed)
			}
			if tr.Len() != 2500 {
				t.Fatalf("size %d", tr.Len())
			}
			for i := 0; i < 5000; i += 2 {
				if !tr.Contains(int32(i)) {
					t.Fatalf("even key %d missing", i)
				}
			}
			validate(t, tr)
		})
	}
}

// TestBatchEquivalence: batch results must match single-key loops, set and
// count alike.
func TestBatchEquivalence(t *testing.T) {
	rnd := rand.New(rand.NewSource(17))
	keys := make([]int32, 6000)
	for i := range keys {
		keys[i] = int32(rnd.Intn(4000))
	}

	batch := New()
	single := New()
	defer batch.Close()
	defer single.Close()

	gotBatch := batch.InsertBatch(keys)
	var gotSingle uint64
	// Single-key inserts see duplicates in first-wins order; the number of
	// successful inserts is the number of distinct keys whatever the order,
	// so no sorting is needed to match the batch's dedup view.
	for _, k := range keys {
		if single.Insert(k) {
			gotSingle++
		}
	}
	if gotBatch != gotSingle {
		t.Fatalf("insert counts differ: batch %d, single %d", gotBatch, gotSingle)
	}
	if batch.Len() != single.Len() {
		t.Fatalf("sizes differ: %d vs %d", batch.Len(), single.Len())
	}

	itB, itS := batch.IterFrom(math.MinInt32), single.IterFrom(math.MinInt32)
	defer itB.Close()
	defer itS.Close()
	for {
		kb, okb := itB.Next()
		ks, oks := itS.Next()
		if okb != oks || kb != ks {
			t.Fatalf("sets diverge: (%d,%v) vs (%d,%v)", kb, okb, ks, oks)
		}
		if !okb {
			break
		}
	}

	del := make([]int32, 3000)
	for i := range del {
		del[i] = int32(rnd.Intn(5000))
	}
	delBatch := batch.DeleteBatch(del)
	var delSingle uint64
	seen := make(map[int32]struct{})
	for _, k := range del {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if single.Delete(k) {
			delSingle++
		}
	}
	if delBatch != delSingle {
		t.Fatalf("delete counts differ: batch %d, single %d", delBatch, delSingle)
	}
	if batch.Len() != single.Len() {
		t.Fatalf("sizes differ after delete: %d vs %d", batch.Len(), single.Len())
	}
	validate(t, batch)
}
