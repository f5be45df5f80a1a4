// Package hashset wraps a Set3 hash set behind the common OrderedSet
// interface.  Hash sets have no native predecessor search, so Search falls
// back to a point lookup — the same concession the benchmark makes for
// other unordered structures.
package hashset

import (
	set3 "github.com/TomTonic/Set3"

	"github.com/matryoshka-bench/mtree/index"
)

var _ index.OrderedSet = (*Set)(nil)

type Set struct {
	set *set3.Set3[int32]
}

func New() *Set {
	return &Set{set: set3.Empty[int32]()}
}

func (s *Set) Insert(key int32) bool {
	if s.set.Contains(key) {
		return false
	}
	s.set.Add(key)
	return true
}

func (s *Set) Remove(key int32) bool {
	if !s.set.Contains(key) {
		return false
	}
	s.set.Remove(key)
	return true
}

// Search degrades to a membership probe; an ordered result is not
// available from a hash set.
func (s *Set) Search(key int32) (int32, bool) {
	if s.set.Contains(key) {
		return key, true
	}
	return 0, false
}

func (s *Set) Contains(key int32) bool { return s.set.Contains(key) }

func (s *Set) BulkLoad(keys []int32) {
	s.set = set3.EmptyWithCapacity[int32](uint32(len(keys)))
	for _, k := range keys {
		s.set.Add(k)
	}
}

func (s *Set) Len() uint64 { return uint64(s.set.Size()) }

func (s *Set) Close() error { return nil }
