// Package mtreeset adapts the matryoshka tree to the common benchmark
// interface, one constructor per hierarchy strategy.
package mtreeset

import (
	"github.com/matryoshka-bench/mtree/index"
	"github.com/matryoshka-bench/mtree/mtree"
)

var _ index.OrderedSet = (*Set)(nil)
var _ index.Ranger = (*Set)(nil)

// Set wraps a mtree.Tree behind index.OrderedSet.
type Set struct {
	tree *mtree.Tree
	hier mtree.Hierarchy
}

// New returns a set with the default hierarchy.
func New() *Set { return NewWith(mtree.DefaultHierarchy()) }

// NewFence returns a set with the fence-cache hierarchy.
func NewFence() *Set { return NewWith(mtree.FenceHierarchy()) }

// NewEytzinger returns a set with the dense-BFS CL layout.
func NewEytzinger() *Set { return NewWith(mtree.EytzingerHierarchy()) }

// NewSuperpage returns a set with 2 MiB superpage leaves.
func NewSuperpage() *Set { return NewWith(mtree.SuperpageHierarchy()) }

// NewWith returns a set with the given hierarchy.
func NewWith(h mtree.Hierarchy) *Set {
	return &Set{tree: mtree.NewWith(h), hier: h}
}

func (s *Set) Insert(key int32) bool   { return s.tree.Insert(key) }
func (s *Set) Remove(key int32) bool   { return s.tree.Delete(key) }
func (s *Set) Contains(key int32) bool { return s.tree.Contains(key) }
func (s *Set) Len() uint64             { return s.tree.Len() }

func (s *Set) Search(key int32) (int32, bool) { return s.tree.Search(key) }

// BulkLoad rebuilds the tree from sorted keys, releasing the old one.
func (s *Set) BulkLoad(keys []int32) {
	s.tree.Close()
	s.tree = mtree.BulkLoadWith(keys, s.hier)
}

func (s *Set) IterFrom(start int32) index.Iterator {
	return s.tree.IterFrom(start)
}

func (s *Set) Close() error {
	s.tree.Close()
	return nil
}
