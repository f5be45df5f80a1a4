package mtree

import (
	"math/bits"
	"math/rand"
	"slices"
	"testing"
)

// newTestPage hands out a zeroed arena page for direct page-level tests.
func newTestPage(t *testing.T, al *allocator) *page {
	t.Helper()
	r, err := al.alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	return r.page()
}

func TestFirstGreater(t *testing.T) {
	keys := []int32{2, 4, 6, 8, 10, 12, 14}
	cases := []struct {
		key  int32
		want int
	}{
		{1, 0}, {2, 1}, {3, 1}, {8, 4}, {13, 6}, {14, 7}, {99, 7},
	}
	for _, c := range cases {
		if got := firstGreater(keys, c.key); got != c.want {
			t.Fatalf("firstGreater(%d) = %d, want %d", c.key, got, c.want)
		}
	}
	if got := firstGreater(nil, 5); got != 0 {
		t.Fatalf("firstGreater on empty = %d", got)
	}
}

func TestCLLeafOps(t *testing.T) {
	var cl clLeaf
	cl.init()

	for _, k := range []int32{30, 10, 50, 20, 40} {
		if cl.insert(k) != statusOK {
			t.Fatalf("insert %d failed", k)
		}
	}
	if cl.insert(30) != statusDuplicate {
		t.Fatal("duplicate not detected")
	}
	if !slices.IsSorted(cl.keys[:cl.nkeys]) {
		t.Fatal("keys not sorted after inserts")
	}

	if pos := cl.predecessor(25); pos < 0 || cl.keys[pos] != 20 {
		t.Fatalf("predecessor(25) wrong")
	}
	if pos := cl.predecessor(5); pos != -1 {
		t.Fatalf("predecessor(5) = %d, want -1", pos)
	}
	if pos := cl.predecessor(99); pos < 0 || cl.keys[pos] != 50 {
		t.Fatalf("predecessor(99) wrong")
	}

	if cl.delete(20) != statusOK || cl.delete(20) != statusNotFound {
		t.Fatal("delete semantics wrong")
	}

	// Fill to capacity, then split.
	cl.init()
	for i := 0; i < clKeyCap; i++ {
		cl.insert(int32(i * 2))
	}
	if cl.insert(100) != statusPageFull {
		t.Fatal("full leaf accepted a key")
	}
	var right clLeaf
	right.init()
	sep := cl.split(&right)
	if int(cl.nkeys) != clKeyCap/2 || int(right.nkeys) != clKeyCap-clKeyCap/2 {
		t.Fatalf("split sizes %d/%d", cl.nkeys, right.nkeys)
	}
	if sep != right.keys[0] {
		t.Fatal("separator is not right's first key")
	}
}

func TestCLInodeOps(t *testing.T) {
	var in clInode
	in.init()
	in.children[0] = 1

	// Build separators 10, 20, ..., with children slots 1, 2, ...
	for i := 0; i < clSepCap; i++ {
		in.insertAt(i, int32((i+1)*10), uint8(i+2))
	}
	if in.childIndex(5) != 0 || in.childIndex(10) != 1 || in.childIndex(125) != 12 {
		t.Fatal("childIndex routing wrong")
	}

	in.removeAt(3)
	if int(in.nkeys) != clSepCap-1 {
		t.Fatalf("nkeys = %d after removeAt", in.nkeys)
	}
	if !slices.IsSorted(in.keys[:in.nkeys]) {
		t.Fatal("keys not sorted after removeAt")
	}

	// Refill and split with a pending insertion.
	in.init()
	in.children[0] = 1
	for i := 0; i < clSepCap; i++ {
		in.insertAt(i, int32((i+1)*10), uint8(i+2))
	}
	var right clInode
	right.init()
	median := in.splitWith(&right, in.childIndex(65), 65, 40)
	if int(in.nkeys) != 6 || int(right.nkeys) != 6 {
		t.Fatalf("split sizes %d/%d, want 6/6", in.nkeys, right.nkeys)
	}
	if median <= in.keys[in.nkeys-1] || median >= right.keys[0] {
		t.Fatalf("median %d not between halves", median)
	}
}

func TestPageBulkLoadExtract(t *testing.T) {
	al := newAllocator(spSize, pageSize)
	defer al.destroy()

	for name, h := range pageHierarchies() {
		hier := h
		t.Run(name, func(t *testing.T) {
			for _, n := range []int{0, 1, 14, 15, 16, 200, hier.PageMaxKeys} {
				p := newTestPage(t, al)
				keys := seq(n, 2, 1)
				p.bulkLoad(&hier, keys)

				if int(p.h.nkeys) != n {
					t.Fatalf("n=%d: header count %d", n, p.h.nkeys)
				}
				if got := bits.OnesCount64(p.h.bitmap); got != int(p.h.slotsUsed) {
					t.Fatalf("n=%d: bitmap %d, slotsUsed %d", n, got, p.h.slotsUsed)
				}
				out := p.appendSorted(nil)
				if !slices.Equal(out, keys) {
					t.Fatalf("n=%d: extract mismatch", n)
				}
				if hier.Layout == LayoutEytzinger && p.h.subHeight > 1 {
					t.Fatalf("n=%d: eytzinger sub-height %d", n, p.h.subHeight)
				}
			}
		})
	}
}

func TestPageSearchWithinPage(t *testing.T) {
	al := newAllocator(spSize, pageSize)
	defer al.destroy()

	for name, h := range pageHierarchies() {
		hier := h
		t.Run(name, func(t *testing.T) {
			p := newTestPage(t, al)
			p.bulkLoad(&hier, seq(100, 10, 0)) // 0, 10, ..., 990

			if v, ok := p.search(55); !ok || v != 50 {
				t.Fatalf("search(55) = (%d,%v)", v, ok)
			}
			if v, ok := p.search(0); !ok || v != 0 {
				t.Fatalf("search(0) = (%d,%v)", v, ok)
			}
			if _, ok := p.search(-1); ok {
				t.Fatal("search(-1) found a predecessor")
			}
			if v, ok := p.search(99999); !ok || v != 990 {
				t.Fatalf("search(99999) = (%d,%v)", v, ok)
			}
			if !p.contains(500) || p.contains(505) {
				t.Fatal("contains wrong")
			}
			if p.minKey() != 0 || p.maxKey() != 990 {
				t.Fatalf("min/max = %d/%d", p.minKey(), p.maxKey())
			}
		})
	}
}

// TestPageInsertDelete drives a random mix directly at one page and
// cross-checks against a model, including the PAGE_FULL and UNDERFLOW
// statuses.
func TestPageInsertDelete(t *testing.T) {
	al := newAllocator(spSize, pageSize)
	defer al.destroy()

	for name, h := range pageHierarchies() {
		hier := h
		t.Run(name, func(t *testing.T) {
			p := newTestPage(t, al)
			p.init(&hier)
			model := make(map[int32]struct{})
			rnd := rand.New(rand.NewSource(11))

			for i := 0; i < 4000; i++ {
				k := int32(rnd.Intn(600))
				if rnd.Intn(3) != 0 {
					st := p.insert(&hier, k)
					switch st {
					case statusOK:
						if _, dup := model[k]; dup {
							t.Fatalf("insert(%d) OK but key present", k)
						}
						model[k] = struct{}{}
					case statusDuplicate:
						if _, dup := model[k]; !dup {
							t.Fatalf("insert(%d) DUPLICATE but key absent", k)
						}
					case statusPageFull:
						// Legal under slot pressure; page unchanged.
					}
				} else {
					st := p.delete(&hier, k)
					_, present := model[k]
					if (st == statusNotFound) == present {
						t.Fatalf("delete(%d) = %v, present=%v", k, st, present)
					}
					if st != statusNotFound {
						delete(model, k)
					}
				}
			}

			out := p.appendSorted(nil)
			if len(out) != len(model) || len(out) != int(p.h.nkeys) {
				t.Fatalf("count drift: extract %d, model %d, header %d",
					len(out), len(model), p.h.nkeys)
			}
			if !slices.IsSorted(out) {
				t.Fatal("extract not sorted")
			}
			for _, k := range out {
				if _, ok := model[k]; !ok {
					t.Fatalf("extracted phantom key %d", k)
				}
			}
			if got := bits.OnesCount64(p.h.bitmap); got != int(p.h.slotsUsed) {
				t.Fatalf("slot accounting drifted: %d vs %d", got, p.h.slotsUsed)
			}
		})
	}
}

// TestPageFullPrecondition fills a page until PAGE_FULL and checks the
// failed insert left no partial state behind.
func TestPageFullPrecondition(t *testing.T) {
	al := newAllocator(spSize, pageSize)
	defer al.destroy()

	h := DefaultHierarchy()
	p := newTestPage(t, al)
	p.init(&h)

	k := int32(0)
	for {
		st := p.insert(&h, k)
		if st == statusPageFull {
			break
		}
		if st != statusOK {
			t.Fatalf("unexpected status %v", st)
		}
		k++
		if k > int32(h.PageMaxKeys)*2 {
			t.Fatal("page never filled")
		}
	}

	before := p.appendSorted(nil)
	nkeys, used := p.h.nkeys, p.h.slotsUsed
	if p.insert(&h, k+1000) != statusPageFull {
		t.Fatal("full page accepted a key")
	}
	if p.h.nkeys != nkeys || p.h.slotsUsed != used {
		t.Fatal("PAGE_FULL mutated the header")
	}
	if !slices.Equal(before, p.appendSorted(nil)) {
		t.Fatal("PAGE_FULL mutated the keys")
	}
}

func TestPageSplitHalves(t *testing.T) {
	al := newAllocator(spSize, pageSize)
	defer al.destroy()

	for name, h := range pageHierarchies() {
		hier := h
		t.Run(name, func(t *testing.T) {
			p := newTestPage(t, al)
			right := newTestPage(t, al)
			keys := seq(hier.PageMaxKeys, 2, 0)
			p.bulkLoad(&hier, keys)

			sep := p.split(&hier, right)
			if sep != right.minKey() {
				t.Fatalf("separator %d != right min %d", sep, right.minKey())
			}
			if p.maxKey() >= sep {
				t.Fatal("left half overlaps separator")
			}
			merged := p.appendSorted(nil)
			merged = right.appendSorted(merged)
			if !slices.Equal(merged, keys) {
				t.Fatal("split lost keys")
			}
		})
	}
}

// TestFenceCache checks that the header mirror tracks the CL root and that
// descent through it answers exactly like the default layout.
func TestFenceCache(t *testing.T) {
	al := newAllocator(spSize, pageSize)
	defer al.destroy()

	h := FenceHierarchy()
	p := newTestPage(t, al)

	// Small sub-tree: root internal has few separators, cache warm.
	p.bulkLoad(&h, seq(60, 2, 0))
	if p.h.subHeight == 0 {
		t.Skip("bulk load produced a single CL leaf")
	}
	if p.h.nfence == 0 {
		t.Fatal("fence cache cold after bulk load")
	}
	root := p.inodeAt(int(p.h.rootSlot))
	if int(p.h.nfence) != int(root.nkeys) {
		t.Fatalf("nfence %d, root separators %d", p.h.nfence, root.nkeys)
	}
	for i := 0; i < int(p.h.nfence); i++ {
		if p.h.fenceKeys[i] != root.keys[i] || p.h.fenceSlots[i] != root.children[i] {
			t.Fatalf("fence mirror diverges at %d", i)
		}
	}

	// Equivalence against the default layout over a mixed workload.
	hd := DefaultHierarchy()
	pd := newTestPage(t, al)
	pf := newTestPage(t, al)
	pd.init(&hd)
	pf.init(&h)
	rnd := rand.New(rand.NewSource(3))
	for i := 0; i < 3000; i++ {
		k := int32(rnd.Intn(800))
		if rnd.Intn(3) != 0 {
			sd, sf := pd.insert(&hd, k), pf.insert(&h, k)
			if sd != sf {
				t.Fatalf("insert(%d): default %v, fence %v", k, sd, sf)
			}
		} else {
			sd, sf := pd.delete(&hd, k), pf.delete(&h, k)
			if (sd == statusNotFound) != (sf == statusNotFound) {
				t.Fatalf("delete(%d): default %v, fence %v", k, sd, sf)
			}
		}
		q := int32(rnd.Intn(900))
		vd, okd := pd.search(q)
		vf, okf := pf.search(q)
		if okd != okf || (okd && vd != vf) {
			t.Fatalf("search(%d): default (%d,%v), fence (%d,%v)", q, vd, okd, vf, okf)
		}
	}
}

// TestEytzingerLayout verifies the dense BFS constraints: sub-height <= 1
// and children at contiguous slots after the root.
func TestEytzingerLayout(t *testing.T) {
	al := newAllocator(spSize, pageSize)
	defer al.destroy()

	h := EytzingerHierarchy()
	for _, n := range []int{16, 100, h.PageMaxKeys} {
		p := newTestPage(t, al)
		p.bulkLoad(&h, seq(n, 2, 0))

		if p.h.subHeight != 1 {
			t.Fatalf("n=%d: sub-height %d", n, p.h.subHeight)
		}
		root := p.eytzAt(int(p.h.rootSlot))
		for i := 0; i < int(root.nchildren); i++ {
			slot := int(p.h.rootSlot) + 1 + i
			if p.slotTyp(slot) != clLeafTag {
				t.Fatalf("n=%d: child %d not a leaf at slot %d", n, i, slot)
			}
		}
		// One more key than the budget must be refused.
		if n == h.PageMaxKeys {
			if st := p.insert(&h, 1); st != statusPageFull {
				t.Fatalf("over-budget insert returned %v", st)
			}
		}
	}
}
