package mtree

import (
	"math/bits"
	"unsafe"
)

// Superpage nesting: a 2 MiB leaf whose interior is a B+ sub-tree of 4 KiB
// pages.  Page 0 holds the header, pages 1..511 are page-level internals
// (separators over u16 page indices) or leaf pages exactly as in page.go.
// All page-level operations are reused unchanged; the logic here mirrors
// the outer tree with page indices in place of pointers.

const spMaxHeight = 4

type spPath struct {
	pageIdx  uint16
	childIdx uint16
}

// ─── Page allocator within a superpage ────────────────────────────────────────

// spPageAlloc returns a free page index (1..511) or 0 when the superpage is
// out of pages.  Bit 0 tracks the header page.
func spPageAlloc(hdr *spHeader) int {
	for w := range hdr.bitmap {
		avail := ^hdr.bitmap[w]
		if w == 0 {
			avail &^= 1
		}
		if avail == 0 {
			continue
		}
		bit := bits.TrailingZeros64(avail)
		idx := w*64 + bit
		if idx >= spPages {
			return 0
		}
		hdr.bitmap[w] |= 1 << bit
		hdr.npagesUsed++
		return idx
	}
	return 0
}

func spPageFree(sp ref, idx int) {
	hdr := sp.spHeader()
	hdr.bitmap[idx/64] &^= 1 << (idx % 64)
	hdr.npagesUsed--
	b := unsafe.Slice((*byte)(spPageAt(sp, idx)), pageSize)
	clear(b)
}

func spFreePages(sp ref) int {
	return spPages - int(sp.spHeader().npagesUsed)
}

// ─── Descent ──────────────────────────────────────────────────────────────────

func (in *spInode) search(key int32) int {
	n := int(in.nkeys)
	if n <= inodeSearchCutoff {
		return firstGreater(in.keys[:n], key)
	}
	lo, hi := 0, n
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if in.keys[mid] <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (in *spInode) insertAt(pos int, sep int32, right uint16) {
	n := int(in.nkeys)
	copy(in.keys[pos+1:n+1], in.keys[pos:n])
	copy(in.children[pos+2:n+2], in.children[pos+1:n+1])
	in.keys[pos] = sep
	in.children[pos+1] = right
	in.nkeys = uint16(n + 1)
}

func (in *spInode) removeAt(pos int) {
	n := int(in.nkeys)
	copy(in.keys[pos:n-1], in.keys[pos+1:n])
	copy(in.children[pos+1:n], in.children[pos+2:n+1])
	in.nkeys = uint16(n - 1)
}

func spFindLeaf(sp ref, key int32, path *[spMaxHeight]spPath) (leafIdx, pathLen int) {
	hdr := sp.spHeader()
	idx := int(hdr.rootPage)
	n := 0
	for level := 0; level < int(hdr.subHeight); level++ {
		in := spInodeAt(sp, idx)
		ci := in.search(key)
		path[n] = spPath{uint16(idx), uint16(ci)}
		n++
		idx = int(in.children[ci])
	}
	return idx, n
}

func spLeftmostLeaf(sp ref) int {
	hdr := sp.spHeader()
	idx := int(hdr.rootPage)
	for level := 0; level < int(hdr.subHeight); level++ {
		idx = int(spInodeAt(sp, idx).children[0])
	}
	return idx
}

func spRightmostLeaf(sp ref) int {
	hdr := sp.spHeader()
	idx := int(hdr.rootPage)
	for level := 0; level < int(hdr.subHeight); level++ {
		in := spInodeAt(sp, idx)
		idx = int(in.children[in.nkeys])
	}
	return idx
}

// spFindLeafPage resolves the leaf page covering key; search, contains and
// iteration all go through it and then reuse the page-level machinery.
func spFindLeafPage(sp ref, key int32) *page {
	var path [spMaxHeight]spPath
	idx, _ := spFindLeaf(sp, key, &path)
	return spLeafAt(sp, idx)
}

func spFirstLeafPage(sp ref) *page { return spLeafAt(sp, spLeftmostLeaf(sp)) }
func spLastLeafPage(sp ref) *page  { return spLeafAt(sp, spRightmostLeaf(sp)) }

func spMinKey(sp ref) int32 {
	if sp.spHeader().nkeys == 0 {
		return keyMax
	}
	return spFirstLeafPage(sp).minKey()
}

func spMaxKey(sp ref) int32 {
	return spLastLeafPage(sp).maxKey()
}

// ─── Initialisation / bulk load ───────────────────────────────────────────────

func spZero(sp ref) {
	b := unsafe.Slice((*byte)(sp.ptr()), spSize)
	clear(b)
}

func spInit(sp ref, h *Hierarchy) {
	spBulkLoad(sp, h, nil)
}

// spBulkLoad rebuilds the superpage bottom-up from sorted keys.  The whole
// region is zeroed, so callers must save and restore both the page-level
// boundary links and the superpage links.
func spBulkLoad(sp ref, h *Hierarchy, keys []int32) {
	spZero(sp)
	hdr := sp.spHeader()
	hdr.typ = nodeLeaf
	hdr.bitmap[0] = 1
	hdr.npagesUsed = 1

	n := len(keys)
	if n == 0 {
		root := spPageAlloc(hdr)
		spLeafAt(sp, root).init(h)
		hdr.rootPage = uint16(root)
		return
	}

	nleaves := (n + h.PageMaxKeys - 1) / h.PageMaxKeys
	perLeaf := n / nleaves
	extra := n % nleaves

	leafIdx := make([]uint16, nleaves)
	seps := make([]int32, nleaves)
	offset := 0
	for i := 0; i < nleaves; i++ {
		k := perLeaf
		if i < extra {
			k++
		}
		idx := spPageAlloc(hdr)
		spLeafAt(sp, idx).bulkLoad(h, keys[offset:offset+k])
		leafIdx[i] = uint16(idx)
		seps[i] = keys[offset]
		offset += k
	}
	hdr.nkeys = uint32(n)

	// Chain the page leaves; boundary links stay nil for the caller.
	for i := 0; i < nleaves; i++ {
		pg := spLeafAt(sp, int(leafIdx[i]))
		if i > 0 {
			pg.h.prev = refOf(spLeafAt(sp, int(leafIdx[i-1])))
		}
		if i < nleaves-1 {
			pg.h.next = refOf(spLeafAt(sp, int(leafIdx[i+1])))
		}
	}

	if nleaves == 1 {
		hdr.rootPage = leafIdx[0]
		return
	}

	level, levelSeps := leafIdx, seps
	height := 0
	for len(level) > 1 {
		numParents := (len(level) + spMaxIKeys) / (spMaxIKeys + 1)
		if numParents == 0 {
			numParents = 1
		}
		nextIdx := make([]uint16, numParents)
		nextSeps := make([]int32, numParents)
		perParent := len(level) / numParents
		extraC := len(level) % numParents
		ci := 0
		for pi := 0; pi < numParents; pi++ {
			nc := perParent
			if pi < extraC {
				nc++
			}
			idx := spPageAlloc(hdr)
			in := spInodeAt(sp, idx)
			in.typ = nodeSPInode
			in.children[0] = level[ci]
			for j := 1; j < nc; j++ {
				in.keys[j-1] = levelSeps[ci+j]
				in.children[j] = level[ci+j]
			}
			in.nkeys = uint16(nc - 1)
			nextIdx[pi] = uint16(idx)
			nextSeps[pi] = levelSeps[ci]
			ci += nc
		}
		level, levelSeps = nextIdx, nextSeps
		height++
	}

	hdr.rootPage = level[0]
	hdr.subHeight = uint8(height)
}

// ─── Insert ───────────────────────────────────────────────────────────────────

// spSplitDemand mirrors page.splitDemand at the page level.
func spSplitDemand(sp ref, path []spPath) int {
	need := 1
	full := true
	for i := len(path) - 1; i >= 0; i-- {
		if int(spInodeAt(sp, int(path[i].pageIdx)).nkeys) < spMaxIKeys {
			full = false
			break
		}
		need++
	}
	if full {
		need++
	}
	return need
}

func spInsert(sp ref, h *Hierarchy, key int32) status {
	hdr := sp.spHeader()
	var path [spMaxHeight]spPath
	leafIdx, n := spFindLeaf(sp, key, &path)
	pg := spLeafAt(sp, leafIdx)

	st := pg.insert(h, key)
	if st == statusDuplicate {
		return statusDuplicate
	}
	if st == statusOK {
		hdr.nkeys++
		return statusOK
	}

	// PAGE_FULL: split the page leaf inside the superpage.  If the
	// superpage cannot host the split, the whole superpage splits one
	// level up.
	if spFreePages(sp) < spSplitDemand(sp, path[:n]) {
		return statusPageFull
	}

	newIdx := spPageAlloc(hdr)
	newPage := spLeafAt(sp, newIdx)

	savedPrev, savedNext := pg.h.prev, pg.h.next
	sep := pg.split(h, newPage)
	if key < sep {
		pg.insert(h, key)
	} else {
		newPage.insert(h, key)
	}
	hdr.nkeys++

	// Splice the new page after pg in the leaf chain.
	pg.h.prev = savedPrev
	newPage.h.next = savedNext
	newPage.h.prev = refOf(pg)
	pg.h.next = refOf(newPage)
	if !savedNext.isNil() {
		savedNext.page().h.prev = refOf(newPage)
	}

	sep = newPage.minKey()
	rightPage := uint16(newIdx)

	for level := n - 1; level >= 0; level-- {
		parent := spInodeAt(sp, int(path[level].pageIdx))
		if int(parent.nkeys) < spMaxIKeys {
			pos := lowerBound(parent.keys[:parent.nkeys], sep)
			parent.insertAt(pos, sep, rightPage)
			return statusOK
		}

		// Page-level internal overflow.  With 511 usable pages and a
		// 682-way fan-out this is unreachable in the default
		// configuration, but the split keeps the structure general.
		splitIdx := spPageAlloc(hdr)
		ni := spInodeAt(sp, splitIdx)
		ni.typ = nodeSPInode

		pn := int(parent.nkeys)
		pos := lowerBound(parent.keys[:pn], sep)
		allKeys := make([]int32, pn+1)
		allChildren := make([]uint16, pn+2)

		copy(allKeys[:pos], parent.keys[:pos])
		allKeys[pos] = sep
		copy(allKeys[pos+1:], parent.keys[pos:pn])
		copy(allChildren[:pos+1], parent.children[:pos+1])
		allChildren[pos+1] = rightPage
		copy(allChildren[pos+2:], parent.children[pos+1:pn+1])

		total := pn + 1
		leftN := total / 2
		rightN := total - leftN - 1
		sep = allKeys[leftN]

		copy(parent.keys[:leftN], allKeys[:leftN])
		copy(parent.children[:leftN+1], allChildren[:leftN+1])
		parent.nkeys = uint16(leftN)

		copy(ni.keys[:rightN], allKeys[leftN+1:])
		copy(ni.children[:rightN+1], allChildren[leftN+1:])
		ni.nkeys = uint16(rightN)

		rightPage = uint16(splitIdx)
	}

	rootIdx := spPageAlloc(hdr)
	nr := spInodeAt(sp, rootIdx)
	nr.typ = nodeSPInode
	nr.keys[0] = sep
	nr.children[0] = hdr.rootPage
	nr.children[1] = rightPage
	nr.nkeys = 1
	hdr.rootPage = uint16(rootIdx)
	hdr.subHeight++
	return statusOK
}

func spContains(sp ref, key int32) bool {
	if sp.spHeader().nkeys == 0 {
		return false
	}
	return spFindLeafPage(sp, key).contains(key)
}

// ─── Delete ───────────────────────────────────────────────────────────────────

func spDelete(sp ref, h *Hierarchy, key int32) status {
	hdr := sp.spHeader()
	var path [spMaxHeight]spPath
	leafIdx, n := spFindLeaf(sp, key, &path)
	pg := spLeafAt(sp, leafIdx)

	st := pg.delete(h, key)
	if st == statusNotFound {
		return statusNotFound
	}
	hdr.nkeys--

	if st == statusUnderflow && n > 0 {
		spRebalancePage(sp, h, path[:n], leafIdx)
	}

	if int(hdr.nkeys) < h.MinSPKeys {
		return statusUnderflow
	}
	return statusOK
}

// spRebalancePage handles page-leaf underflow within a superpage with the
// same eager redistribute/merge policy the outer tree applies to pages.
func spRebalancePage(sp ref, h *Hierarchy, path []spPath, leafIdx int) {
	hdr := sp.spHeader()
	parent := spInodeAt(sp, int(path[len(path)-1].pageIdx))
	cidx := int(path[len(path)-1].childIdx)
	pg := spLeafAt(sp, leafIdx)

	// Redistribute from the left page sibling.
	if cidx > 0 {
		left := spLeafAt(sp, int(parent.children[cidx-1]))
		if int(left.h.nkeys) > h.MinPageKeys {
			merged := left.appendSorted(make([]int32, 0, int(left.h.nkeys)+int(pg.h.nkeys)))
			merged = pg.appendSorted(merged)
			newLN := len(merged) / 2

			relinkPair(h, left, pg, merged, newLN)
			parent.keys[cidx-1] = pg.minKey()
			return
		}
	}

	// Redistribute from the right page sibling.
	if cidx < int(parent.nkeys) {
		right := spLeafAt(sp, int(parent.children[cidx+1]))
		if int(right.h.nkeys) > h.MinPageKeys {
			merged := pg.appendSorted(make([]int32, 0, int(pg.h.nkeys)+int(right.h.nkeys)))
			merged = right.appendSorted(merged)
			newLN := len(merged) / 2

			relinkPair(h, pg, right, merged, newLN)
			parent.keys[cidx] = right.minKey()
			return
		}
	}

	// Merge with a sibling, preferring the left.
	if cidx > 0 {
		leftIdx := int(parent.children[cidx-1])
		left := spLeafAt(sp, leftIdx)
		merged := left.appendSorted(make([]int32, 0, int(left.h.nkeys)+int(pg.h.nkeys)))
		merged = pg.appendSorted(merged)

		savedPrev := left.h.prev
		savedNext := pg.h.next
		left.bulkLoad(h, merged)
		left.h.prev = savedPrev
		left.h.next = savedNext
		if !savedNext.isNil() {
			savedNext.page().h.prev = refOf(left)
		}
		parent.removeAt(cidx - 1)
		spPageFree(sp, leafIdx)
	} else {
		rightIdx := int(parent.children[cidx+1])
		right := spLeafAt(sp, rightIdx)
		merged := pg.appendSorted(make([]int32, 0, int(pg.h.nkeys)+int(right.h.nkeys)))
		merged = right.appendSorted(merged)

		savedPrev := pg.h.prev
		savedNext := right.h.next
		pg.bulkLoad(h, merged)
		pg.h.prev = savedPrev
		pg.h.next = savedNext
		if !savedNext.isNil() {
			savedNext.page().h.prev = refOf(pg)
		}
		parent.removeAt(cidx)
		spPageFree(sp, rightIdx)
	}

	// Collapse an empty page-level root.
	for hdr.subHeight > 0 {
		root := spInodeAt(sp, int(hdr.rootPage))
		if root.nkeys != 0 {
			break
		}
		old := int(hdr.rootPage)
		hdr.rootPage = root.children[0]
		hdr.subHeight--
		spPageFree(sp, old)
	}
}

// relinkPair rebuilds two adjacent pages from merged sorted keys split at
// cut, preserving the surrounding leaf links.
func relinkPair(h *Hierarchy, left, right *page, merged []int32, cut int) {
	lPrev, rNext := left.h.prev, right.h.next
	rightKeys := make([]int32, len(merged)-cut)
	copy(rightKeys, merged[cut:])
	left.bulkLoad(h, merged[:cut])
	right.bulkLoad(h, rightKeys)
	left.h.prev = lPrev
	left.h.next = refOf(right)
	right.h.prev = refOf(left)
	right.h.next = rNext
}

// ─── Split / extract ──────────────────────────────────────────────────────────

func spAppendSorted(sp ref, dst []int32) []int32 {
	hdr := sp.spHeader()
	if hdr.nkeys == 0 {
		return dst
	}
	return spAppendSubtree(sp, dst, int(hdr.rootPage), int(hdr.subHeight))
}

func spAppendSubtree(sp ref, dst []int32, idx, height int) []int32 {
	if height == 0 {
		return spLeafAt(sp, idx).appendSorted(dst)
	}
	in := spInodeAt(sp, idx)
	for i := 0; i <= int(in.nkeys); i++ {
		dst = spAppendSubtree(sp, dst, int(in.children[i]), height-1)
	}
	return dst
}

// spSplit halves sp into itself and newSp and returns the separator.  Both
// superpages are rebuilt; all boundary links are the caller's to restore.
func spSplit(sp, newSp ref, h *Hierarchy) int32 {
	keys := spAppendSorted(sp, make([]int32, 0, sp.spHeader().nkeys))
	leftN := len(keys) / 2
	sep := keys[leftN]
	rightKeys := make([]int32, len(keys)-leftN)
	copy(rightKeys, keys[leftN:])
	spBulkLoad(sp, h, keys[:leftN])
	spBulkLoad(newSp, h, rightKeys)
	return sep
}
