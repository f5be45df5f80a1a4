package mtree

import "math/bits"

// Leaf-page operations: each 4 KiB page holds a B+ sub-tree of CL nodes in
// slots 1..63 (slot 0 is the header).  The three layout strategies share
// the same descent skeleton; FENCE adds a header-resident copy of the CL
// root and EYTZINGER replaces structural mutation with a dense rebuild.

const maxSubHeight = 8

// clPath records one descent step through the CL sub-tree.
type clPath struct {
	slot     uint8
	childIdx uint8
}

// ─── Slot allocator ───────────────────────────────────────────────────────────

// slotAlloc returns the lowest free slot index > 0, or 0 if the page is out
// of slots.  Bit 0 of the bitmap is reserved for the header.
func (p *page) slotAlloc() int {
	avail := ^p.h.bitmap &^ 1
	if avail == 0 {
		return 0
	}
	slot := bits.TrailingZeros64(avail)
	p.h.bitmap |= 1 << slot
	p.h.slotsUsed++
	return slot
}

func (p *page) slotFree(slot int) {
	p.h.bitmap &^= 1 << slot
	p.h.slotsUsed--
}

func (p *page) freeSlots() int { return pageSlots + 1 - int(p.h.slotsUsed) }

// ─── Descent ──────────────────────────────────────────────────────────────────

// childSlotOf resolves child ci of the internal node at parentSlot; for the
// Eytzinger layout children are implicit at contiguous slots.
func (p *page) childSlotOf(parentSlot, ci int) int {
	if p.eytzinger() {
		return parentSlot + 1 + ci
	}
	return int(p.inodeAt(parentSlot).children[ci])
}

// findLeaf walks the CL sub-tree to the leaf covering key, recording the
// (slot, child index) path.  With a warm fence cache the first step reads
// only the page header.
func (p *page) findLeaf(key int32, path *[maxSubHeight]clPath) (leafSlot, pathLen int) {
	slot := int(p.h.rootSlot)
	height := int(p.h.subHeight)
	n := 0
	level := 0

	if p.h.nfence > 0 && height > 0 {
		ci := firstGreater(p.h.fenceKeys[:p.h.nfence], key)
		path[n] = clPath{uint8(slot), uint8(ci)}
		n++
		slot = int(p.h.fenceSlots[ci])
		level = 1
	}

	for ; level < height; level++ {
		var ci int
		if p.eytzinger() {
			ci = p.eytzAt(slot).childIndex(key)
		} else {
			ci = p.inodeAt(slot).childIndex(key)
		}
		path[n] = clPath{uint8(slot), uint8(ci)}
		n++
		slot = p.childSlotOf(slot, ci)
	}
	return slot, n
}

// rightmostLeafFrom descends to the rightmost CL leaf of the subtree rooted
// at slot.
func (p *page) rightmostLeafFrom(slot int) *clLeaf {
	for p.slotTyp(slot) == clInodeTag {
		if p.eytzinger() {
			slot += int(p.eytzAt(slot).nchildren)
		} else {
			in := p.inodeAt(slot)
			slot = int(in.children[in.nkeys])
		}
	}
	return p.leafAt(slot)
}

func (p *page) leftmostLeafFrom(slot int) *clLeaf {
	for p.slotTyp(slot) == clInodeTag {
		slot = p.childSlotOf(slot, 0)
	}
	return p.leafAt(slot)
}

// ─── Search ───────────────────────────────────────────────────────────────────

// search finds the largest key <= key within this page.  The second return
// is false when every key in the page is greater; the caller then consults
// the previous page via the leaf linked list.
func (p *page) search(key int32) (int32, bool) {
	if p.h.nkeys == 0 {
		return 0, false
	}
	var path [maxSubHeight]clPath
	leafSlot, n := p.findLeaf(key, &path)

	cl := p.leafAt(leafSlot)
	if pos := cl.predecessor(key); pos >= 0 {
		return cl.keys[pos], true
	}

	// Key is below every key in this CL leaf: back up to the nearest
	// ancestor with a left sibling subtree and take its rightmost key.
	for i := n - 1; i >= 0; i-- {
		if path[i].childIdx > 0 {
			prev := p.childSlotOf(int(path[i].slot), int(path[i].childIdx)-1)
			last := p.rightmostLeafFrom(prev)
			if last.nkeys > 0 {
				return last.keys[last.nkeys-1], true
			}
			break
		}
	}
	return 0, false
}

func (p *page) contains(key int32) bool {
	if p.h.nkeys == 0 {
		return false
	}
	var path [maxSubHeight]clPath
	leafSlot, _ := p.findLeaf(key, &path)
	return p.leafAt(leafSlot).contains(key)
}

// minKey returns the smallest key in the page, or keyMax when empty.
func (p *page) minKey() int32 {
	if p.h.nkeys == 0 {
		return keyMax
	}
	cl := p.leftmostLeafFrom(int(p.h.rootSlot))
	return cl.keys[0]
}

// maxKey returns the largest key in the page; only valid when non-empty.
func (p *page) maxKey() int32 {
	cl := p.rightmostLeafFrom(int(p.h.rootSlot))
	return cl.keys[cl.nkeys-1]
}

// ─── Fence cache ──────────────────────────────────────────────────────────────

// refreshFence mirrors the CL root into the header when the FENCE strategy
// is active and the root is an internal with at most fenceCap separators.
// nfence == 0 means the cache is cold and search follows the CL root.
func (p *page) refreshFence(h *Hierarchy) {
	if h.Layout != LayoutFence {
		return
	}
	p.h.nfence = 0
	if p.h.subHeight == 0 {
		return
	}
	root := p.inodeAt(int(p.h.rootSlot))
	n := int(root.nkeys)
	if n > fenceCap {
		return
	}
	copy(p.h.fenceKeys[:n], root.keys[:n])
	copy(p.h.fenceSlots[:n+1], root.children[:n+1])
	p.h.nfence = uint8(n)
}

// ─── Insert ───────────────────────────────────────────────────────────────────

// splitDemand returns the number of fresh slots a split starting at the
// leaf on path would consume in the worst case.  Checking it up front keeps
// PAGE_FULL free of partial state changes.
func (p *page) splitDemand(path []clPath) int {
	need := 1 // the new CL leaf
	full := true
	for i := len(path) - 1; i >= 0; i-- {
		if int(p.inodeAt(int(path[i].slot)).nkeys) < clSepCap {
			full = false
			break
		}
		need++
	}
	if full {
		need++ // split reaches the CL root; a fresh root slot is needed
	}
	return need
}

func (p *page) insert(h *Hierarchy, key int32) status {
	if p.eytzinger() {
		return p.eytzInsert(h, key)
	}

	var path [maxSubHeight]clPath
	leafSlot, n := p.findLeaf(key, &path)
	cl := p.leafAt(leafSlot)

	if int(cl.nkeys) < clKeyCap {
		if st := cl.insert(key); st == statusDuplicate {
			return statusDuplicate
		}
		p.h.nkeys++
		return statusOK
	}
	if cl.contains(key) {
		return statusDuplicate
	}
	if p.freeSlots() < p.splitDemand(path[:n]) {
		return statusPageFull
	}

	// Split the CL leaf 50/50 and place the key in the matching half.
	newSlot := p.slotAlloc()
	right := p.leafAt(newSlot)
	right.init()
	sep := cl.split(right)
	if key < sep {
		cl.insert(key)
	} else {
		right.insert(key)
	}
	p.h.nkeys++

	// Propagate the new separator up the recorded path.
	rightSlot := uint8(newSlot)
	for i := n - 1; i >= 0; i-- {
		parent := p.inodeAt(int(path[i].slot))
		if int(parent.nkeys) < clSepCap {
			parent.insertAt(int(path[i].childIdx), sep, rightSlot)
			p.refreshFence(h)
			return statusOK
		}
		splitSlot := p.slotAlloc()
		ni := p.inodeAt(splitSlot)
		ni.init()
		sep = parent.splitWith(ni, int(path[i].childIdx), sep, rightSlot)
		rightSlot = uint8(splitSlot)
	}

	// The CL root itself split: grow the sub-tree by one level.
	rootSlot := p.slotAlloc()
	nr := p.inodeAt(rootSlot)
	nr.init()
	nr.keys[0] = sep
	nr.children[0] = p.h.rootSlot
	nr.children[1] = rightSlot
	nr.nkeys = 1
	p.h.rootSlot = uint8(rootSlot)
	p.h.subHeight++
	p.refreshFence(h)
	return statusOK
}

// eytzInsert collapses the split machinery: when the target CL leaf is
// full, the page is rebuilt densely with the key spliced in.  PAGE_FULL is
// raised only when the total would exceed the layout's key budget.
func (p *page) eytzInsert(h *Hierarchy, key int32) status {
	var path [maxSubHeight]clPath
	leafSlot, _ := p.findLeaf(key, &path)
	cl := p.leafAt(leafSlot)

	if int(cl.nkeys) < clKeyCap {
		if st := cl.insert(key); st == statusDuplicate {
			return statusDuplicate
		}
		p.h.nkeys++
		return statusOK
	}
	if cl.contains(key) {
		return statusDuplicate
	}
	if int(p.h.nkeys) >= h.PageMaxKeys {
		return statusPageFull
	}

	keys := p.appendSorted(make([]int32, 0, int(p.h.nkeys)+1))
	pos := lowerBound(keys, key)
	keys = append(keys, 0)
	copy(keys[pos+1:], keys[pos:])
	keys[pos] = key

	prev, next := p.h.prev, p.h.next
	p.bulkLoad(h, keys)
	p.h.prev, p.h.next = prev, next
	return statusOK
}

// ─── Delete ───────────────────────────────────────────────────────────────────

func (p *page) delete(h *Hierarchy, key int32) status {
	if p.eytzinger() {
		return p.eytzDelete(h, key)
	}

	var path [maxSubHeight]clPath
	leafSlot, n := p.findLeaf(key, &path)
	cl := p.leafAt(leafSlot)

	if cl.delete(key) == statusNotFound {
		return statusNotFound
	}
	p.h.nkeys--

	if n > 0 && int(cl.nkeys) < minCLKeys {
		p.rebalanceCL(path[:n], leafSlot)
	}
	p.refreshFence(h)

	if int(p.h.nkeys) < h.MinPageKeys {
		return statusUnderflow
	}
	return statusOK
}

// rebalanceCL restores the CL minimum-fill invariants bottom-up after a
// deletion: redistribute from the left sibling, then the right, then merge
// (preferring the left), continuing at the parent when the merge drains it.
func (p *page) rebalanceCL(path []clPath, curSlot int) {
	for level := len(path) - 1; level >= 0; level-- {
		parent := p.inodeAt(int(path[level].slot))
		cidx := int(path[level].childIdx)

		if p.slotTyp(curSlot) == clLeafTag {
			cur := p.leafAt(curSlot)
			if int(cur.nkeys) >= minCLKeys {
				return
			}
			if cidx > 0 {
				left := p.leafAt(int(parent.children[cidx-1]))
				if int(left.nkeys) > minCLKeys {
					moved := left.keys[left.nkeys-1]
					left.nkeys--
					cur.insert(moved)
					parent.keys[cidx-1] = cur.keys[0]
					return
				}
			}
			if cidx < int(parent.nkeys) {
				right := p.leafAt(int(parent.children[cidx+1]))
				if int(right.nkeys) > minCLKeys {
					moved := right.keys[0]
					right.delete(moved)
					cur.insert(moved)
					parent.keys[cidx] = right.keys[0]
					return
				}
			}
			if cidx > 0 {
				leftSlot := int(parent.children[cidx-1])
				left := p.leafAt(leftSlot)
				copy(left.keys[left.nkeys:], cur.keys[:cur.nkeys])
				left.nkeys += cur.nkeys
				p.slotFree(curSlot)
				parent.removeAt(cidx - 1)
			} else {
				rightSlot := int(parent.children[cidx+1])
				right := p.leafAt(rightSlot)
				copy(cur.keys[cur.nkeys:], right.keys[:right.nkeys])
				cur.nkeys += right.nkeys
				p.slotFree(rightSlot)
				parent.removeAt(cidx)
			}
		} else {
			cur := p.inodeAt(curSlot)
			if int(cur.nkeys) >= minCLSeps {
				return
			}
			if cidx > 0 {
				ls := p.inodeAt(int(parent.children[cidx-1]))
				if int(ls.nkeys) > minCLSeps {
					// Rotate right through the parent separator.
					cn := int(cur.nkeys)
					copy(cur.keys[1:cn+1], cur.keys[:cn])
					copy(cur.children[1:cn+2], cur.children[:cn+1])
					cur.keys[0] = parent.keys[cidx-1]
					cur.children[0] = ls.children[ls.nkeys]
					cur.nkeys++
					parent.keys[cidx-1] = ls.keys[ls.nkeys-1]
					ls.nkeys--
					return
				}
			}
			if cidx < int(parent.nkeys) {
				rs := p.inodeAt(int(parent.children[cidx+1]))
				if int(rs.nkeys) > minCLSeps {
					// Rotate left.
					cur.keys[cur.nkeys] = parent.keys[cidx]
					cur.children[cur.nkeys+1] = rs.children[0]
					cur.nkeys++
					parent.keys[cidx] = rs.keys[0]
					rn := int(rs.nkeys)
					copy(rs.keys[:rn-1], rs.keys[1:rn])
					copy(rs.children[:rn], rs.children[1:rn+1])
					rs.nkeys--
					return
				}
			}
			if cidx > 0 {
				lsSlot := int(parent.children[cidx-1])
				ls := p.inodeAt(lsSlot)
				ln := int(ls.nkeys)
				ls.keys[ln] = parent.keys[cidx-1]
				copy(ls.keys[ln+1:], cur.keys[:cur.nkeys])
				copy(ls.children[ln+1:], cur.children[:cur.nkeys+1])
				ls.nkeys = uint8(ln + 1 + int(cur.nkeys))
				p.slotFree(curSlot)
				parent.removeAt(cidx - 1)
			} else {
				rsSlot := int(parent.children[cidx+1])
				rs := p.inodeAt(rsSlot)
				cn := int(cur.nkeys)
				cur.keys[cn] = parent.keys[cidx]
				copy(cur.keys[cn+1:], rs.keys[:rs.nkeys])
				copy(cur.children[cn+1:], rs.children[:rs.nkeys+1])
				cur.nkeys = uint8(cn + 1 + int(rs.nkeys))
				p.slotFree(rsSlot)
				parent.removeAt(cidx)
			}
		}
		curSlot = int(path[level].slot)
	}

	// A root internal left with zero separators collapses onto its only
	// child.
	for p.h.subHeight > 0 {
		root := p.inodeAt(int(p.h.rootSlot))
		if root.nkeys != 0 {
			break
		}
		old := int(p.h.rootSlot)
		p.h.rootSlot = root.children[0]
		p.h.subHeight--
		p.slotFree(old)
	}
}

func (p *page) eytzDelete(h *Hierarchy, key int32) status {
	var path [maxSubHeight]clPath
	leafSlot, n := p.findLeaf(key, &path)
	cl := p.leafAt(leafSlot)

	if cl.delete(key) == statusNotFound {
		return statusNotFound
	}
	p.h.nkeys--

	if n > 0 && int(cl.nkeys) < minCLKeys {
		keys := p.appendSorted(make([]int32, 0, int(p.h.nkeys)))
		prev, next := p.h.prev, p.h.next
		p.bulkLoad(h, keys)
		p.h.prev, p.h.next = prev, next
	}

	if int(p.h.nkeys) < h.MinPageKeys {
		return statusUnderflow
	}
	return statusOK
}

// ─── Bulk load / split / extract ──────────────────────────────────────────────

// init resets the page to a single empty CL leaf.
func (p *page) init(h *Hierarchy) {
	p.bulkLoad(h, nil)
}

// bulkLoad rebuilds the page bottom-up from sorted keys.  The page is
// zeroed first, so callers must save and restore the linked-list pointers.
func (p *page) bulkLoad(h *Hierarchy, keys []int32) {
	*p = page{}
	p.h.typ = nodeLeaf
	p.h.bitmap = 1
	p.h.slotsUsed = 1
	if h.Layout == LayoutEytzinger {
		p.h.flags = flagEytzinger
	}

	n := len(keys)
	if n == 0 {
		root := p.slotAlloc()
		p.leafAt(root).init()
		p.h.rootSlot = uint8(root)
		return
	}

	nleaves := (n + clKeyCap - 1) / clKeyCap
	perLeaf := n / nleaves
	extra := n % nleaves

	if p.eytzinger() && nleaves > 1 {
		// Allocate the root first so the children occupy the
		// contiguous slots right after it.
		rootSlot := p.slotAlloc()
		root := p.eytzAt(rootSlot)
		root.init()
		offset := 0
		for i := 0; i < nleaves; i++ {
			k := perLeaf
			if i < extra {
				k++
			}
			slot := p.slotAlloc()
			cl := p.leafAt(slot)
			cl.init()
			copy(cl.keys[:k], keys[offset:offset+k])
			cl.nkeys = uint8(k)
			if i > 0 {
				root.keys[i-1] = keys[offset]
			}
			offset += k
		}
		root.nkeys = uint8(nleaves - 1)
		root.nchildren = uint8(nleaves)
		p.h.rootSlot = uint8(rootSlot)
		p.h.subHeight = 1
		p.h.nkeys = uint16(n)
		return
	}

	var slotsA, slotsB [pageSlots]uint8
	var sepsA, sepsB [pageSlots]int32
	level, seps := slotsA[:0], sepsA[:0]
	offset := 0
	for i := 0; i < nleaves; i++ {
		k := perLeaf
		if i < extra {
			k++
		}
		slot := p.slotAlloc()
		cl := p.leafAt(slot)
		cl.init()
		copy(cl.keys[:k], keys[offset:offset+k])
		cl.nkeys = uint8(k)
		level = append(level, uint8(slot))
		seps = append(seps, keys[offset])
		offset += k
	}
	p.h.nkeys = uint16(n)

	height := 0
	next, nextSeps := slotsB[:0], sepsB[:0]
	for len(level) > 1 {
		numParents := (len(level) + clChildCap - 1) / clChildCap
		perParent := len(level) / numParents
		extraC := len(level) % numParents
		ci := 0
		next, nextSeps = next[:0], nextSeps[:0]
		for pi := 0; pi < numParents; pi++ {
			nc := perParent
			if pi < extraC {
				nc++
			}
			ps := p.slotAlloc()
			in := p.inodeAt(ps)
			in.init()
			in.children[0] = level[ci]
			for j := 1; j < nc; j++ {
				in.keys[j-1] = seps[ci+j]
				in.children[j] = level[ci+j]
			}
			in.nkeys = uint8(nc - 1)
			next = append(next, uint8(ps))
			nextSeps = append(nextSeps, seps[ci])
			ci += nc
		}
		level, next = next, level
		seps, nextSeps = nextSeps, seps
		height++
	}

	p.h.rootSlot = level[0]
	p.h.subHeight = uint8(height)
	p.refreshFence(h)
}

// split extracts the page's keys, bulk-loads the lower half back and the
// upper half into right, and returns the separator (first key of right).
// The caller restores the leaf linked list.
func (p *page) split(h *Hierarchy, right *page) int32 {
	keys := p.appendSorted(make([]int32, 0, int(p.h.nkeys)))
	leftN := len(keys) / 2
	sep := keys[leftN]
	rightKeys := make([]int32, len(keys)-leftN)
	copy(rightKeys, keys[leftN:])
	p.bulkLoad(h, keys[:leftN])
	right.bulkLoad(h, rightKeys)
	return sep
}

// appendSorted appends the page's keys in order; the result length always
// matches the header's key count.
func (p *page) appendSorted(dst []int32) []int32 {
	if p.h.nkeys == 0 {
		return dst
	}
	return p.appendSubtree(dst, int(p.h.rootSlot))
}

func (p *page) appendSubtree(dst []int32, slot int) []int32 {
	if p.slotTyp(slot) == clLeafTag {
		cl := p.leafAt(slot)
		return append(dst, cl.keys[:cl.nkeys]...)
	}
	if p.eytzinger() {
		e := p.eytzAt(slot)
		for i := 0; i < int(e.nchildren); i++ {
			dst = p.appendSubtree(dst, slot+1+i)
		}
		return dst
	}
	in := p.inodeAt(slot)
	for i := 0; i <= int(in.nkeys); i++ {
		dst = p.appendSubtree(dst, int(in.children[i]))
	}
	return dst
}
