package mtree

import "math/bits"

// Cache-line sub-node operations.  All of them are allocation-free; slot
// management belongs to the owning page.
//
// The search primitives mirror the four-lane compare/movemask/ctz shape of
// the vectorised original: each block of four keys is compared against the
// query, the greater-than results are packed into a mask, and the first set
// bit yields the answer.  On hardware with vector units the same loop is a
// single compare per block; Go has no intrinsics, so the blocks are scalar.

// firstGreater returns the index of the first key strictly greater than
// key, or len(keys) if none.  Keys must be sorted ascending.
func firstGreater(keys []int32, key int32) int {
	n := len(keys)
	i := 0
	for ; i+3 < n; i += 4 {
		m := 0
		if keys[i] > key {
			m |= 1
		}
		if keys[i+1] > key {
			m |= 2
		}
		if keys[i+2] > key {
			m |= 4
		}
		if keys[i+3] > key {
			m |= 8
		}
		if m != 0 {
			return i + bits.TrailingZeros(uint(m))
		}
	}
	for ; i < n; i++ {
		if keys[i] > key {
			return i
		}
	}
	return n
}

// lowerBound returns the first index whose key is >= key.
func lowerBound(keys []int32, key int32) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// ─── CL leaf ──────────────────────────────────────────────────────────────────

func (cl *clLeaf) init() {
	*cl = clLeaf{typ: clLeafTag}
}

// predecessor returns the index of the largest key <= key, or -1.
func (cl *clLeaf) predecessor(key int32) int {
	return firstGreater(cl.keys[:cl.nkeys], key) - 1
}

func (cl *clLeaf) insert(key int32) status {
	n := int(cl.nkeys)
	pos := lowerBound(cl.keys[:n], key)
	if pos < n && cl.keys[pos] == key {
		return statusDuplicate
	}
	if n >= clKeyCap {
		return statusPageFull
	}
	copy(cl.keys[pos+1:n+1], cl.keys[pos:n])
	cl.keys[pos] = key
	cl.nkeys = uint8(n + 1)
	return statusOK
}

func (cl *clLeaf) delete(key int32) status {
	n := int(cl.nkeys)
	pos := lowerBound(cl.keys[:n], key)
	if pos >= n || cl.keys[pos] != key {
		return statusNotFound
	}
	copy(cl.keys[pos:n-1], cl.keys[pos+1:n])
	cl.nkeys = uint8(n - 1)
	return statusOK
}

func (cl *clLeaf) contains(key int32) bool {
	n := int(cl.nkeys)
	pos := lowerBound(cl.keys[:n], key)
	return pos < n && cl.keys[pos] == key
}

// split halves cl into a freshly initialised right leaf and returns the
// separator (first key of right).  Left keeps the lower half.
func (cl *clLeaf) split(right *clLeaf) int32 {
	total := int(cl.nkeys)
	leftN := total / 2
	rightN := total - leftN
	copy(right.keys[:rightN], cl.keys[leftN:total])
	right.nkeys = uint8(rightN)
	cl.nkeys = uint8(leftN)
	return right.keys[0]
}

// ─── CL internal ──────────────────────────────────────────────────────────────

func (in *clInode) init() {
	*in = clInode{typ: clInodeTag}
}

// childIndex returns i such that children[i] covers key: the smallest i
// with keys[i] > key, or nkeys if none.
func (in *clInode) childIndex(key int32) int {
	return firstGreater(in.keys[:in.nkeys], key)
}

// insertAt writes a separator and its right child at pos.  The caller must
// have checked there is room.
func (in *clInode) insertAt(pos int, sep int32, rightSlot uint8) {
	n := int(in.nkeys)
	copy(in.keys[pos+1:n+1], in.keys[pos:n])
	copy(in.children[pos+2:n+2], in.children[pos+1:n+1])
	in.keys[pos] = sep
	in.children[pos+1] = rightSlot
	in.nkeys = uint8(n + 1)
}

// removeAt drops the separator at pos and the child at pos+1.
func (in *clInode) removeAt(pos int) {
	n := int(in.nkeys)
	copy(in.keys[pos:n-1], in.keys[pos+1:n])
	copy(in.children[pos+1:n], in.children[pos+2:n+1])
	in.nkeys = uint8(n - 1)
}

// splitWith splits a full internal while inserting (sep, rightSlot) at
// childIdx, using merged scratch arrays so the median can be chosen from
// all 13 separators.  Left keeps 6 separators, right gets 6, the median is
// returned for promotion.
func (in *clInode) splitWith(right *clInode, childIdx int, sep int32, rightSlot uint8) int32 {
	n := int(in.nkeys)
	var allKeys [clSepCap + 1]int32
	var allChildren [clChildCap + 1]uint8

	copy(allKeys[:childIdx], in.keys[:childIdx])
	allKeys[childIdx] = sep
	copy(allKeys[childIdx+1:n+1], in.keys[childIdx:n])

	copy(allChildren[:childIdx+1], in.children[:childIdx+1])
	allChildren[childIdx+1] = rightSlot
	copy(allChildren[childIdx+2:n+2], in.children[childIdx+1:n+1])

	total := n + 1
	leftN := total / 2
	rightN := total - leftN - 1
	median := allKeys[leftN]

	copy(in.keys[:leftN], allKeys[:leftN])
	copy(in.children[:leftN+1], allChildren[:leftN+1])
	in.nkeys = uint8(leftN)

	copy(right.keys[:rightN], allKeys[leftN+1:total])
	copy(right.children[:rightN+1], allChildren[leftN+1:total+1])
	right.nkeys = uint8(rightN)

	return median
}

// ─── EYTZINGER CL internal ────────────────────────────────────────────────────

func (e *clEytz) init() {
	*e = clEytz{typ: clInodeTag}
}

// childIndex has the same contract as clInode.childIndex; the child's slot
// is the root slot plus 1 plus the returned index.
func (e *clEytz) childIndex(key int32) int {
	return firstGreater(e.keys[:e.nkeys], key)
}
