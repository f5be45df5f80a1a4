package mtree

import "slices"

// Batched mutation: the input is sorted and deduplicated, then applied in
// key order so consecutive keys land in the same leaf.  While the cached
// leaf can absorb the operation in place the descent is skipped entirely;
// any split, merge or out-of-range key falls back to a full descent, which
// also refreshes the cache.

// InsertBatch inserts the given keys and returns how many were actually
// inserted (duplicates are skipped).  The input slice is not modified.
func (t *Tree) InsertBatch(keys []int32) uint64 {
	sorted := prepareBatch(keys)
	var inserted uint64

	if t.hier.Superpages {
		for _, k := range sorted {
			if t.Insert(k) {
				inserted++
			}
		}
		return inserted
	}

	var run leafRun
	for _, k := range sorted {
		if run.covers(k) {
			st := run.leaf.page().insert(&t.hier, k)
			if st == statusOK {
				t.n++
				run.retag(t)
				inserted++
				continue
			}
			if st == statusDuplicate {
				continue
			}
			run.invalidate() // PAGE_FULL: the leaf is about to split
		}
		if t.Insert(k) {
			inserted++
		}
		run.capture(t, k)
	}
	return inserted
}

// DeleteBatch removes the given keys and returns how many were actually
// removed.  The input slice is not modified.
func (t *Tree) DeleteBatch(keys []int32) uint64 {
	sorted := prepareBatch(keys)
	var removed uint64

	if t.hier.Superpages {
		for _, k := range sorted {
			if t.Delete(k) {
				removed++
			}
		}
		return removed
	}

	var run leafRun
	for _, k := range sorted {
		if run.covers(k) {
			st := run.leaf.page().delete(&t.hier, k)
			if st == statusOK {
				t.n--
				run.retag(t)
				removed++
				continue
			}
			if st == statusNotFound {
				continue
			}
			// UNDERFLOW: the key is gone, but the leaf needs the
			// full rebalance path.  Re-insert and redo through the
			// tree so the outer levels stay within their minima.
			run.leaf.page().insert(&t.hier, k)
			run.retag(t)
			run.invalidate()
		}
		if t.Delete(k) {
			removed++
		}
		run.capture(t, k)
	}
	return removed
}

// prepareBatch returns the keys sorted ascending with duplicates removed.
func prepareBatch(keys []int32) []int32 {
	sorted := make([]int32, len(keys))
	copy(sorted, keys)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}

// leafRun caches the leaf a batch is currently streaming into, together
// with the parent slot to re-tag and the exclusive upper bound of the
// leaf's key range.
type leafRun struct {
	leaf    ref
	parent  *inode
	pidx    int
	hiValid bool
	hi      int32 // keys >= hi belong to a later leaf
	ok      bool
}

func (r *leafRun) covers(k int32) bool {
	return r.ok && (!r.hiValid || k < r.hi)
}

func (r *leafRun) invalidate() { r.ok = false }

// capture records the leaf that served key k on the last full descent.
// The exclusive upper bound of the leaf's key range is the tightest
// ancestor separator to the right of the descent path.
func (r *leafRun) capture(t *Tree, k int32) {
	var path [maxHeight]treePath
	leafRef, n := t.findLeaf(k, &path)
	r.leaf = leafRef
	r.ok = true
	if n > 0 {
		r.parent = path[n-1].node
		r.pidx = path[n-1].idx
	} else {
		r.parent = nil
	}
	r.hiValid = false
	for i := 0; i < n; i++ {
		in, idx := path[i].node, path[i].idx
		if idx < int(in.nkeys) {
			if bound := in.keys[idx]; !r.hiValid || bound < r.hi {
				r.hi = bound
				r.hiValid = true
			}
		}
	}
}

// retag mirrors Tree.retag for the cached parent slot.
func (r *leafRun) retag(t *Tree) {
	nr := taggedLeaf(r.leaf.page())
	r.leaf = nr
	if r.parent == nil {
		t.root = nr
	} else {
		r.parent.children[r.pidx] = nr
	}
}
