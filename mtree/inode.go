package mtree

// Outer internal node operations.  Keys are kept sorted; search uses the
// block-compare linear scan for small nodes and binary search beyond that,
// matching the vectorised original's size cutoff.

// inodeSearchCutoff is the node size up to which the linear block scan
// beats binary search.
const inodeSearchCutoff = 32

// search returns the child index to follow for key: the smallest i with
// keys[i] > key, or nkeys if none, so children[i] covers keys >= keys[i-1].
func (in *inode) search(key int32) int {
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

func (in *inode) init() {
	in.typ = nodeInternal
	in.nkeys = 0
}

// insertAt writes a separator and right child at pos; caller checks room.
func (in *inode) insertAt(pos int, sep int32, right ref) {
	n := int(in.nkeys)
	copy(in.keys[pos+1:n+1], in.keys[pos:n])
	copy(in.children[pos+2:n+2], in.children[pos+1:n+1])
	in.keys[pos] = sep
	in.children[pos+1] = right
	in.nkeys = uint16(n + 1)
}

// removeAt drops the separator at pos and the child at pos+1.
func (in *inode) removeAt(pos int) {
	n := int(in.nkeys)
	copy(in.keys[pos:n-1], in.keys[pos+1:n])
	copy(in.children[pos+1:n], in.children[pos+2:n+1])
	in.nkeys = uint16(n - 1)
}

// splitWith splits a full internal while inserting (sep, right) at pos.
// Left keeps the lower half, the median is returned for promotion, and the
// upper half moves to next.
func (in *inode) splitWith(next *inode, pos int, sep int32, right ref) int32 {
	n := int(in.nkeys)
	allKeys := make([]int32, n+1)
	allChildren := make([]ref, n+2)

	copy(allKeys[:pos], in.keys[:pos])
	allKeys[pos] = sep
	copy(allKeys[pos+1:], in.keys[pos:n])

	copy(allChildren[:pos+1], in.children[:pos+1])
	allChildren[pos+1] = right
	copy(allChildren[pos+2:], in.children[pos+1:n+1])

	total := n + 1
	leftN := total / 2
	rightN := total - leftN - 1
	median := allKeys[leftN]

	copy(in.keys[:leftN], allKeys[:leftN])
	copy(in.children[:leftN+1], allChildren[:leftN+1])
	in.nkeys = uint16(leftN)

	copy(next.keys[:rightN], allKeys[leftN+1:])
	copy(next.children[:rightN+1], allChildren[leftN+1:])
	next.nkeys = uint16(rightN)

	return median
}
