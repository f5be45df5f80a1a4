// Package sortedslice is the baseline comparator: a plain sorted slice
// with binary search.  It is the simplest correct ordered set and anchors
// the benchmark results.
package sortedslice

import (
	"slices"

	"github.com/matryoshka-bench/mtree/index"
)

var _ index.OrderedSet = (*Set)(nil)
var _ index.Ranger = (*Set)(nil)

type Set struct {
	keys []int32
}

func New() *Set {
	return &Set{keys: make([]int32, 0)}
}

func (s *Set) Insert(key int32) bool {
	i, found := slices.BinarySearch(s.keys, key)
	if found {
		return false
	}
	s.keys = slices.Insert(s.keys, i, key)
	return true
}

func (s *Set) Remove(key int32) bool {
	i, found := slices.BinarySearch(s.keys, key)
	if !found {
		return false
	}
	s.keys = slices.Delete(s.keys, i, i+1)
	return true
}

func (s *Set) Search(key int32) (int32, bool) {
	// First index >= key; the predecessor sits just before it unless the
	// key itself is present.
	i, found := slices.BinarySearch(s.keys, key)
	if found {
		return key, true
	}
	if i == 0 {
		return 0, false
	}
	return s.keys[i-1], true
}

func (s *Set) Contains(key int32) bool {
	_, found := slices.BinarySearch(s.keys, key)
	return found
}

func (s *Set) BulkLoad(keys []int32) {
	s.keys = slices.Clone(keys)
}

func (s *Set) Len() uint64 { return uint64(len(s.keys)) }

func (s *Set) IterFrom(start int32) index.Iterator {
	i, _ := slices.BinarySearch(s.keys, start)
	return &iterator{keys: s.keys, pos: i}
}

func (s *Set) Close() error { return nil }

type iterator struct {
	keys []int32
	pos  int
}

func (it *iterator) Next() (int32, bool) {
	if it.pos >= len(it.keys) {
		return 0, false
	}
	k := it.keys[it.pos]
	it.pos++
	return k, true
}

func (it *iterator) Close() {}
