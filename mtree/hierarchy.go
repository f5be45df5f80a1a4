package mtree

// Layout selects the intra-page CL layout strategy.
type Layout uint8

const (
	// LayoutDefault arranges CL sub-nodes as a conventional B+ sub-tree
	// with explicit child slot indices.
	LayoutDefault Layout = iota
	// LayoutFence additionally mirrors the CL root's separators into the
	// page header, so search can pick the first child without loading the
	// CL root's cache line.
	LayoutFence
	// LayoutEytzinger stores the CL root's children at contiguous slots
	// right after it (dense BFS order) and is valid only while the page
	// sub-tree has height <= 1; structural changes rebuild the page.
	LayoutEytzinger
)

// Hierarchy describes the blocking configuration of a tree: leaf allocation
// size, CL capacities, and the derived page/superpage key budgets.  A
// Hierarchy is immutable once a tree is built from it.
type Hierarchy struct {
	// LeafAlloc is the allocation size of an outer-tree leaf: 4 KiB for
	// page leaves, 2 MiB for superpage leaves.
	LeafAlloc int

	Layout     Layout
	Superpages bool

	CLKeyCap   int
	CLSepCap   int
	CLChildCap int
	PageSlots  int

	MinCLKeys     int
	MinCLChildren int

	// PageMaxKeys is the bulk-load capacity of a single page; inserts
	// past it (or past the slot bitmap) report PAGE_FULL and trigger a
	// page split one level up.
	PageMaxKeys int
	MinPageKeys int

	// Superpage budgets; zero unless Superpages is set.
	SPMaxKeys int
	MinSPKeys int
}

// pageCap returns the bulk-load key capacity of one page for the given CL
// layout.  With the default layout a page fits 57 CL leaves (57 leaves + 5
// internals + 1 root = 63 slots), 855 keys.  Eytzinger caps the sub-tree at
// height 1 with a 15-way root: 225 keys.
func pageCap(layout Layout) int {
	if layout == LayoutEytzinger {
		return eytzChildCap * clKeyCap
	}
	return 57 * clKeyCap
}

func baseHierarchy(layout Layout) Hierarchy {
	pageKeys := pageCap(layout)
	return Hierarchy{
		LeafAlloc:     pageSize,
		Layout:        layout,
		CLKeyCap:      clKeyCap,
		CLSepCap:      clSepCap,
		CLChildCap:    clChildCap,
		PageSlots:     pageSlots,
		MinCLKeys:     minCLKeys,
		MinCLChildren: minCLSeps + 1,
		PageMaxKeys:   pageKeys,
		MinPageKeys:   pageKeys / 4,
	}
}

// DefaultHierarchy returns the standard x86-64 configuration: 4 KiB page
// leaves with the default CL layout.
func DefaultHierarchy() Hierarchy { return baseHierarchy(LayoutDefault) }

// FenceHierarchy returns the default configuration with the header-resident
// fence cache enabled.
func FenceHierarchy() Hierarchy { return baseHierarchy(LayoutFence) }

// EytzingerHierarchy returns the dense-BFS CL layout configuration.
func EytzingerHierarchy() Hierarchy { return baseHierarchy(LayoutEytzinger) }

// SuperpageHierarchy returns the 2 MiB leaf configuration: each outer-tree
// leaf is a superpage holding a B+ sub-tree of 4 KiB pages.
func SuperpageHierarchy() Hierarchy {
	h := baseHierarchy(LayoutDefault)
	h.LeafAlloc = spSize
	h.Superpages = true
	// 510 leaf pages plus one page-level internal fit under the root.
	h.SPMaxKeys = (spPages - 2) * h.PageMaxKeys
	h.MinSPKeys = h.SPMaxKeys / 4
	return h
}

// CustomHierarchy returns a configuration for the given leaf allocation
// size.  Sizes of at least 2 MiB select the superpage nesting; anything
// else falls back to 4 KiB page leaves.
func CustomHierarchy(leafAlloc int) Hierarchy {
	if leafAlloc >= spSize {
		return SuperpageHierarchy()
	}
	return DefaultHierarchy()
}
