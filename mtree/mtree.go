package mtree

// Tree is the public handle of a matryoshka index.  A Tree owns every node
// reachable from its root and the arenas behind them; it must be used from
// one goroutine at a time and released with Close.
type Tree struct {
	root   ref
	height int
	n      uint64
	hier   Hierarchy

	// Leaves always come from the slab so they co-locate within shared
	// arenas; outer internals use a separate page-aligned pool.
	leaves *allocator
	inodes *allocator
}

const maxHeight = 32

// treePath records one outer-descent step for insert/delete propagation.
type treePath struct {
	node *inode
	idx  int
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// New returns an empty tree with the default hierarchy.
func New() *Tree {
	return NewWith(DefaultHierarchy())
}

// NewWith returns an empty tree with the given hierarchy configuration.
func NewWith(h Hierarchy) *Tree {
	t := &Tree{hier: h}
	t.initAllocators()
	t.root = t.newLeaf()
	return t
}

func (t *Tree) initAllocators() {
	if t.hier.Superpages {
		t.leaves = newAllocator(spSize, spSize)
	} else {
		t.leaves = newAllocator(spSize, pageSize)
	}
	t.inodes = newAllocator(spSize, pageSize)
}

// newLeaf allocates and initialises an empty leaf, returning its (tagged)
// reference.
func (t *Tree) newLeaf() ref {
	r := t.allocLeaf()
	if t.hier.Superpages {
		spInit(r, &t.hier)
		return r
	}
	p := r.page()
	p.init(&t.hier)
	return taggedLeaf(p)
}

func (t *Tree) allocLeaf() ref {
	r, err := t.leaves.alloc()
	if err != nil {
		panic("mtree: leaf allocation failed: " + err.Error())
	}
	return r
}

func (t *Tree) allocInode() (ref, *inode) {
	r, err := t.inodes.alloc()
	if err != nil {
		panic("mtree: internal node allocation failed: " + err.Error())
	}
	in := r.inode()
	in.init()
	return r, in
}

// Close releases every node and arena owned by the tree.  The tree and any
// iterators over it must not be used afterwards.
func (t *Tree) Close() {
	if t.leaves != nil {
		t.leaves.destroy()
	}
	if t.inodes != nil {
		t.inodes.destroy()
	}
	t.leaves, t.inodes = nil, nil
	t.root = 0
	t.height = 0
	t.n = 0
}

// Len returns the number of keys in the tree.
func (t *Tree) Len() uint64 {
	if t == nil {
		return 0
	}
	return t.n
}

// Hierarchy returns the tree's immutable configuration.
func (t *Tree) Hierarchy() Hierarchy { return t.hier }

// ─── Bulk load ────────────────────────────────────────────────────────────────

// BulkLoad builds a tree from strictly ascending keys in O(n) with the
// default hierarchy.
func BulkLoad(keys []int32) *Tree {
	return BulkLoadWith(keys, DefaultHierarchy())
}

type buildEntry struct {
	node   ref
	minKey int32
}

// BulkLoadWith builds a tree from strictly ascending keys with the given
// hierarchy.  Keys must contain no duplicates.
func BulkLoadWith(keys []int32, h Hierarchy) *Tree {
	t := &Tree{hier: h, n: uint64(len(keys))}
	t.initAllocators()

	if len(keys) == 0 {
		t.root = t.newLeaf()
		t.n = 0
		return t
	}

	leafCap := h.PageMaxKeys
	if h.Superpages {
		leafCap = h.SPMaxKeys
	}
	nleaves := (len(keys) + leafCap - 1) / leafCap
	perLeaf := len(keys) / nleaves
	extra := len(keys) % nleaves

	entries := make([]buildEntry, nleaves)
	offset := 0
	for i := 0; i < nleaves; i++ {
		k := perLeaf
		if i < extra {
			k++
		}
		r := t.allocLeaf()
		if h.Superpages {
			spBulkLoad(r, &t.hier, keys[offset:offset+k])
		} else {
			p := r.page()
			p.bulkLoad(&t.hier, keys[offset:offset+k])
			r = taggedLeaf(p)
		}
		entries[i] = buildEntry{r, keys[offset]}
		offset += k
	}
	t.linkLeaves(entries)

	// Build the outer internal levels bottom-up.
	height := 0
	for len(entries) > 1 {
		numParents := (len(entries) + maxIKeys) / (maxIKeys + 1)
		perParent := len(entries) / numParents
		extraC := len(entries) % numParents
		next := make([]buildEntry, numParents)
		ci := 0
		for pi := 0; pi < numParents; pi++ {
			nc := perParent
			if pi < extraC {
				nc++
			}
			pr, in := t.allocInode()
			in.children[0] = entries[ci].node
			for j := 1; j < nc; j++ {
				in.keys[j-1] = entries[ci+j].minKey
				in.children[j] = entries[ci+j].node
			}
			in.nkeys = uint16(nc - 1)
			next[pi] = buildEntry{pr, entries[ci].minKey}
			ci += nc
		}
		entries = next
		height++
	}

	t.root = entries[0].node
	t.height = height
	return t
}

// linkLeaves chains freshly built leaves in order.  For superpages both the
// superpage chain and the page chain across superpage boundaries are set.
func (t *Tree) linkLeaves(entries []buildEntry) {
	if !t.hier.Superpages {
		for i, e := range entries {
			p := e.node.page()
			if i > 0 {
				p.h.prev = entries[i-1].node &^ tagMask
			}
			if i < len(entries)-1 {
				p.h.next = entries[i+1].node &^ tagMask
			}
		}
		return
	}
	for i, e := range entries {
		hdr := e.node.spHeader()
		if i > 0 {
			hdr.prev = entries[i-1].node
			last := spLastLeafPage(entries[i-1].node)
			first := spFirstLeafPage(e.node)
			last.h.next = refOf(first)
			first.h.prev = refOf(last)
		}
		if i < len(entries)-1 {
			hdr.next = entries[i+1].node
		}
	}
}

// ─── Descent helpers ──────────────────────────────────────────────────────────

func (t *Tree) findLeaf(key int32, path *[maxHeight]treePath) (ref, int) {
	r := t.root
	n := 0
	for i := 0; i < t.height; i++ {
		in := r.inode()
		idx := in.search(key)
		path[n] = treePath{in, idx}
		n++
		r = in.children[idx]
	}
	return r, n
}

// leafPageFor resolves the 4 KiB page that covers key inside the leaf at r.
func (t *Tree) leafPageFor(r ref, key int32) *page {
	if t.hier.Superpages {
		return spFindLeafPage(r, key)
	}
	return r.page()
}

// retag refreshes the tagged leaf pointer in the parent (or the root) after
// a mutation that may have moved the leaf's CL root slot or sub-height.
func (t *Tree) retag(r ref, path []treePath) {
	if t.hier.Superpages {
		return
	}
	nr := taggedLeaf(r.page())
	if len(path) == 0 {
		t.root = nr
	} else {
		last := path[len(path)-1]
		last.node.children[last.idx] = nr
	}
}

// ─── Query ────────────────────────────────────────────────────────────────────

// Search finds the largest key <= key (predecessor search).  The boolean is
// false when no key in the tree is <= key.
func (t *Tree) Search(key int32) (int32, bool) {
	if t == nil || t.n == 0 {
		return 0, false
	}
	r := t.root
	for i := 0; i < t.height; i++ {
		in := r.inode()
		r = in.children[in.search(key)]
	}
	pg := t.leafPageFor(r, key)
	if v, ok := pg.search(key); ok {
		return v, true
	}
	// Every key in this page is greater: the predecessor, if any, is the
	// maximum of the previous page in the leaf chain.
	if prev := pg.h.prev; !prev.isNil() {
		pp := prev.page()
		if pp.h.nkeys > 0 {
			return pp.maxKey(), true
		}
	}
	return 0, false
}

// Contains reports whether key is present.
func (t *Tree) Contains(key int32) bool {
	if t == nil || t.n == 0 {
		return false
	}
	r := t.root
	for i := 0; i < t.height; i++ {
		in := r.inode()
		r = in.children[in.search(key)]
	}
	return t.leafPageFor(r, key).contains(key)
}

// ─── Insert ───────────────────────────────────────────────────────────────────

// Insert adds key to the tree; it returns false when the key was already
// present.
func (t *Tree) Insert(key int32) bool {
	var path [maxHeight]treePath
	leafRef, n := t.findLeaf(key, &path)

	var st status
	if t.hier.Superpages {
		st = spInsert(leafRef, &t.hier, key)
	} else {
		st = leafRef.page().insert(&t.hier, key)
	}
	switch st {
	case statusDuplicate:
		return false
	case statusOK:
		t.n++
		t.retag(leafRef, path[:n])
		return true
	}

	// PAGE_FULL: split the leaf and insert the key into the matching half.
	var sep int32
	var right ref
	if t.hier.Superpages {
		sep, right = t.splitSuperpage(leafRef, key)
	} else {
		sep, right = t.splitLeafPage(leafRef, key, path[:n])
	}
	t.n++

	// Propagate the separator and new child upward.
	for level := n - 1; level >= 0; level-- {
		parent := path[level].node
		if int(parent.nkeys) < maxIKeys {
			pos := lowerBound(parent.keys[:parent.nkeys], sep)
			parent.insertAt(pos, sep, right)
			return true
		}
		splitRef, ni := t.allocInode()
		pos := lowerBound(parent.keys[:parent.nkeys], sep)
		sep = parent.splitWith(ni, pos, sep, right)
		right = splitRef
	}

	// Root split grows the outer tree by one level.
	rootRef, nr := t.allocInode()
	nr.keys[0] = sep
	nr.children[0] = t.root
	nr.children[1] = right
	nr.nkeys = 1
	t.root = rootRef
	t.height++
	return true
}

// splitLeafPage splits a full 4 KiB leaf, splices the new page into the
// leaf chain, places key, and re-tags the surviving leaf.  It returns the
// separator and the tagged reference of the new right leaf.
func (t *Tree) splitLeafPage(leafRef ref, key int32, path []treePath) (int32, ref) {
	leaf := leafRef.page()
	newRef := t.allocLeaf()
	newPage := newRef.page()

	savedPrev, savedNext := leaf.h.prev, leaf.h.next
	sep := leaf.split(&t.hier, newPage)
	if key < sep {
		leaf.insert(&t.hier, key)
	} else {
		newPage.insert(&t.hier, key)
	}

	leaf.h.prev = savedPrev
	newPage.h.next = savedNext
	newPage.h.prev = refOf(leaf)
	leaf.h.next = refOf(newPage)
	if !savedNext.isNil() {
		savedNext.page().h.prev = refOf(newPage)
	}

	t.retag(leafRef, path)
	return newPage.minKey(), taggedLeaf(newPage)
}

// splitSuperpage splits a full 2 MiB leaf, maintaining both the superpage
// chain and the page chain across the superpage boundary.
func (t *Tree) splitSuperpage(sp ref, key int32) (int32, ref) {
	hdr := sp.spHeader()
	spPrev, spNext := hdr.prev, hdr.next
	outPrev := spFirstLeafPage(sp).h.prev
	outNext := spLastLeafPage(sp).h.next

	newSp := t.allocLeaf()
	sep := spSplit(sp, newSp, &t.hier)
	if key < sep {
		spInsert(sp, &t.hier, key)
	} else {
		spInsert(newSp, &t.hier, key)
	}

	// Page chain: predecessor page -> A's pages -> B's pages -> successor.
	firstA := spFirstLeafPage(sp)
	lastA := spLastLeafPage(sp)
	firstB := spFirstLeafPage(newSp)
	lastB := spLastLeafPage(newSp)
	firstA.h.prev = outPrev
	if !outPrev.isNil() {
		outPrev.page().h.next = refOf(firstA)
	}
	lastA.h.next = refOf(firstB)
	firstB.h.prev = refOf(lastA)
	lastB.h.next = outNext
	if !outNext.isNil() {
		outNext.page().h.prev = refOf(lastB)
	}

	// Superpage chain.
	hdr = sp.spHeader()
	newHdr := newSp.spHeader()
	hdr.prev = spPrev
	hdr.next = newSp
	newHdr.prev = sp
	newHdr.next = spNext
	if !spNext.isNil() {
		spNext.spHeader().prev = newSp
	}

	return spMinKey(newSp), newSp
}

// ─── Delete ───────────────────────────────────────────────────────────────────

// Delete removes key from the tree; it returns false when the key was not
// present.
func (t *Tree) Delete(key int32) bool {
	if t.n == 0 {
		return false
	}
	var path [maxHeight]treePath
	leafRef, n := t.findLeaf(key, &path)

	var st status
	if t.hier.Superpages {
		st = spDelete(leafRef, &t.hier, key)
	} else {
		st = leafRef.page().delete(&t.hier, key)
	}
	if st == statusNotFound {
		return false
	}
	t.n--
	t.retag(leafRef, path[:n])

	if st == statusUnderflow && n > 0 {
		if t.hier.Superpages {
			t.rebalanceSuperpage(path[:n], leafRef)
		} else {
			t.rebalanceLeaf(path[:n], leafRef)
		}
	}
	return true
}

// rebalanceLeaf restores the page minimum after an underflow: redistribute
// with the sibling that has spare keys, merge otherwise, then let internal
// underflow propagate upward (eager deletion).
func (t *Tree) rebalanceLeaf(path []treePath, leafRef ref) {
	parent := path[len(path)-1].node
	cidx := path[len(path)-1].idx
	leaf := leafRef.page()
	h := &t.hier

	// Redistribute from the left sibling.
	if cidx > 0 {
		left := parent.children[cidx-1].page()
		if int(left.h.nkeys) > h.MinPageKeys {
			merged := left.appendSorted(make([]int32, 0, int(left.h.nkeys)+int(leaf.h.nkeys)))
			merged = leaf.appendSorted(merged)
			relinkPair(h, left, leaf, merged, len(merged)/2)
			parent.children[cidx-1] = taggedLeaf(left)
			parent.children[cidx] = taggedLeaf(leaf)
			parent.keys[cidx-1] = leaf.minKey()
			return
		}
	}

	// Redistribute from the right sibling.
	if cidx < int(parent.nkeys) {
		right := parent.children[cidx+1].page()
		if int(right.h.nkeys) > h.MinPageKeys {
			merged := leaf.appendSorted(make([]int32, 0, int(leaf.h.nkeys)+int(right.h.nkeys)))
			merged = right.appendSorted(merged)
			relinkPair(h, leaf, right, merged, len(merged)/2)
			parent.children[cidx] = taggedLeaf(leaf)
			parent.children[cidx+1] = taggedLeaf(right)
			parent.keys[cidx] = right.minKey()
			return
		}
	}

	// Merge, preferring the left sibling.
	if cidx > 0 {
		leftRef := parent.children[cidx-1]
		left := leftRef.page()
		merged := left.appendSorted(make([]int32, 0, int(left.h.nkeys)+int(leaf.h.nkeys)))
		merged = leaf.appendSorted(merged)

		savedPrev := left.h.prev
		savedNext := leaf.h.next
		left.bulkLoad(h, merged)
		left.h.prev = savedPrev
		left.h.next = savedNext
		if !savedNext.isNil() {
			savedNext.page().h.prev = refOf(left)
		}
		parent.children[cidx-1] = taggedLeaf(left)
		parent.removeAt(cidx - 1)
		t.leaves.free(leafRef)
	} else {
		rightRef := parent.children[cidx+1]
		right := rightRef.page()
		merged := leaf.appendSorted(make([]int32, 0, int(leaf.h.nkeys)+int(right.h.nkeys)))
		merged = right.appendSorted(merged)

		savedPrev := leaf.h.prev
		savedNext := right.h.next
		leaf.bulkLoad(h, merged)
		leaf.h.prev = savedPrev
		leaf.h.next = savedNext
		if !savedNext.isNil() {
			savedNext.page().h.prev = refOf(leaf)
		}
		parent.children[cidx] = taggedLeaf(leaf)
		parent.removeAt(cidx)
		t.leaves.free(rightRef)
	}

	t.rebalanceInodes(path)
}

// rebalanceSuperpage is rebalanceLeaf at superpage granularity.
func (t *Tree) rebalanceSuperpage(path []treePath, sp ref) {
	parent := path[len(path)-1].node
	cidx := path[len(path)-1].idx
	h := &t.hier

	if cidx > 0 {
		left := parent.children[cidx-1]
		if int(left.spHeader().nkeys) > h.MinSPKeys {
			merged := spAppendSorted(left, make([]int32, 0, int(left.spHeader().nkeys)+int(sp.spHeader().nkeys)))
			merged = spAppendSorted(sp, merged)
			t.spRebuildPair(left, sp, merged, len(merged)/2)
			parent.keys[cidx-1] = spMinKey(sp)
			return
		}
	}
	if cidx < int(parent.nkeys) {
		right := parent.children[cidx+1]
		if int(right.spHeader().nkeys) > h.MinSPKeys {
			merged := spAppendSorted(sp, make([]int32, 0, int(sp.spHeader().nkeys)+int(right.spHeader().nkeys)))
			merged = spAppendSorted(right, merged)
			t.spRebuildPair(sp, right, merged, len(merged)/2)
			parent.keys[cidx] = spMinKey(right)
			return
		}
	}

	if cidx > 0 {
		left := parent.children[cidx-1]
		merged := spAppendSorted(left, make([]int32, 0, int(left.spHeader().nkeys)+int(sp.spHeader().nkeys)))
		merged = spAppendSorted(sp, merged)
		t.spMergeInto(left, sp, merged)
		parent.removeAt(cidx - 1)
	} else {
		right := parent.children[cidx+1]
		merged := spAppendSorted(sp, make([]int32, 0, int(sp.spHeader().nkeys)+int(right.spHeader().nkeys)))
		merged = spAppendSorted(right, merged)
		t.spMergeInto(sp, right, merged)
		parent.removeAt(cidx)
	}

	t.rebalanceInodes(path)
}

// spRebuildPair rebuilds two adjacent superpages from merged keys split at
// cut, restoring the superpage chain and the page chain across all three
// boundaries.
func (t *Tree) spRebuildPair(a, b ref, merged []int32, cut int) {
	h := &t.hier
	aHdr, bHdr := a.spHeader(), b.spHeader()
	spPrev, spNext := aHdr.prev, bHdr.next
	outPrev := spFirstLeafPage(a).h.prev
	outNext := spLastLeafPage(b).h.next

	rightKeys := make([]int32, len(merged)-cut)
	copy(rightKeys, merged[cut:])
	spBulkLoad(a, h, merged[:cut])
	spBulkLoad(b, h, rightKeys)

	aHdr, bHdr = a.spHeader(), b.spHeader()
	aHdr.prev, aHdr.next = spPrev, b
	bHdr.prev, bHdr.next = a, spNext

	firstA, lastA := spFirstLeafPage(a), spLastLeafPage(a)
	firstB, lastB := spFirstLeafPage(b), spLastLeafPage(b)
	firstA.h.prev = outPrev
	if !outPrev.isNil() {
		outPrev.page().h.next = refOf(firstA)
	}
	lastA.h.next = refOf(firstB)
	firstB.h.prev = refOf(lastA)
	lastB.h.next = outNext
	if !outNext.isNil() {
		outNext.page().h.prev = refOf(lastB)
	}
}

// spMergeInto rebuilds the surviving superpage from merged keys and frees
// the drained one.
func (t *Tree) spMergeInto(survivor, drained ref, merged []int32) {
	h := &t.hier
	sHdr := survivor.spHeader()
	dHdr := drained.spHeader()

	var spPrev, spNext ref
	var outPrev, outNext ref
	if sHdr.next == drained {
		spPrev, spNext = sHdr.prev, dHdr.next
		outPrev = spFirstLeafPage(survivor).h.prev
		outNext = spLastLeafPage(drained).h.next
	} else {
		spPrev, spNext = dHdr.prev, sHdr.next
		outPrev = spFirstLeafPage(drained).h.prev
		outNext = spLastLeafPage(survivor).h.next
	}

	spBulkLoad(survivor, h, merged)

	sHdr = survivor.spHeader()
	sHdr.prev, sHdr.next = spPrev, spNext
	if !spPrev.isNil() {
		spPrev.spHeader().next = survivor
	}
	if !spNext.isNil() {
		spNext.spHeader().prev = survivor
	}

	first, last := spFirstLeafPage(survivor), spLastLeafPage(survivor)
	first.h.prev = outPrev
	if !outPrev.isNil() {
		outPrev.page().h.next = refOf(first)
	}
	last.h.next = outNext
	if !outNext.isNil() {
		outNext.page().h.prev = refOf(last)
	}

	t.leaves.free(drained)
}

// rebalanceInodes propagates underflow through the outer internal nodes
// with the standard redistribute-then-merge policy and collapses an empty
// root.
func (t *Tree) rebalanceInodes(path []treePath) {
	for lv := len(path) - 1; lv >= 0; lv-- {
		node := path[lv].node

		if lv == 0 {
			// The root may hold fewer keys; collapse only when it
			// is down to a single child.
			if node.nkeys == 0 && t.height > 0 {
				t.root = node.children[0]
				t.inodes.free(inodeRef(node))
				t.height--
			}
			return
		}

		if int(node.nkeys) >= minIKeys {
			return
		}

		pp := path[lv-1].node
		pi := path[lv-1].idx

		// Redistribute from the left internal sibling.
		if pi > 0 {
			lsib := pp.children[pi-1].inode()
			if int(lsib.nkeys) > minIKeys {
				n := int(node.nkeys)
				copy(node.keys[1:n+1], node.keys[:n])
				copy(node.children[1:n+2], node.children[:n+1])
				node.keys[0] = pp.keys[pi-1]
				node.children[0] = lsib.children[lsib.nkeys]
				node.nkeys++
				pp.keys[pi-1] = lsib.keys[lsib.nkeys-1]
				lsib.nkeys--
				return
			}
		}

		// Redistribute from the right internal sibling.
		if pi < int(pp.nkeys) {
			rsib := pp.children[pi+1].inode()
			if int(rsib.nkeys) > minIKeys {
				node.keys[node.nkeys] = pp.keys[pi]
				node.children[node.nkeys+1] = rsib.children[0]
				node.nkeys++
				pp.keys[pi] = rsib.keys[0]
				rn := int(rsib.nkeys)
				copy(rsib.keys[:rn-1], rsib.keys[1:rn])
				copy(rsib.children[:rn], rsib.children[1:rn+1])
				rsib.nkeys--
				return
			}
		}

		// Merge with a sibling, pulling the separator down.
		if pi > 0 {
			lsibRef := pp.children[pi-1]
			lsib := lsibRef.inode()
			ln := int(lsib.nkeys)
			lsib.keys[ln] = pp.keys[pi-1]
			copy(lsib.keys[ln+1:], node.keys[:node.nkeys])
			copy(lsib.children[ln+1:], node.children[:node.nkeys+1])
			lsib.nkeys = uint16(ln + 1 + int(node.nkeys))
			pp.removeAt(pi - 1)
			t.inodes.free(inodeRef(node))
		} else {
			rsibRef := pp.children[pi+1]
			rsib := rsibRef.inode()
			nn := int(node.nkeys)
			node.keys[nn] = pp.keys[pi]
			copy(node.keys[nn+1:], rsib.keys[:rsib.nkeys])
			copy(node.children[nn+1:], rsib.children[:rsib.nkeys+1])
			node.nkeys = uint16(nn + 1 + int(rsib.nkeys))
			pp.removeAt(pi)
			t.inodes.free(rsibRef)
		}
	}
}
