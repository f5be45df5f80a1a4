// Package mtree implements an ordered in-memory index over int32 keys as a
// matryoshka-nested B+ tree: the outer tree uses 4 KiB page-aligned nodes,
// but each leaf page is itself a small B+ tree of 64 B cache-line-sized
// sub-nodes.  The nesting maps the structure onto the memory hierarchy:
//
//	Level 0: vector register     — block compare within CL sub-nodes
//	Level 1: cache line (64 B)   — CL sub-node (15 keys or 12 separators)
//	Level 2: page (4 KiB)        — B+ tree of CL sub-nodes
//	Level 3: superpage (2 MiB)   — optional B+ tree of page sub-nodes
//	Level 4: main memory         — outer B+ tree
//
// Operations within a leaf page modify only the affected CL sub-nodes,
// so a point mutation touches O(log b) cache lines instead of rebuilding
// a flat key array.
//
// All nodes live in raw page-aligned memory obtained from per-tree arena
// allocators and are accessed through unsafe overlays of the layout structs
// below.  Node memory is invisible to the garbage collector; Close releases
// every arena.
package mtree

import "unsafe"

// ─── Sizes and capacities ─────────────────────────────────────────────────────

const (
	clSize   = 64   // one cache line
	pageSize = 4096 // one leaf page / outer internal node
	spSize   = 2 << 20

	// CL sub-node capacities.  A CL leaf holds 15 int32 keys after the
	// 4-byte header; a CL internal holds 12 separators plus 13 one-byte
	// child slot indices.
	clKeyCap   = 15
	clSepCap   = 12
	clChildCap = 13

	// Minimum fill for non-root CL sub-nodes: a leaf keeps at least 7
	// keys, an internal at least 7 children (6 separators).
	minCLKeys = 7
	minCLSeps = 6

	// Slots per page: slot 0 is the page header, 1..63 hold CL nodes.
	pageSlots = 63

	// Eytzinger layout: the CL root's children sit at contiguous slots
	// right after it, so the child array is implicit and the key array
	// grows to 15 (up to 14 separators, 15 children).
	eytzChildCap = 15

	// Outer internal node: 16 B header + 339 keys + 340 child refs + pad.
	maxIKeys = 339
	minIKeys = maxIKeys / 2

	// Superpage: page 0 is the header, pages 1..511 hold page-level
	// internals or leaf pages.  A page-level internal routes by up to
	// 681 separators over u16 page indices.
	spPages    = 512
	spMaxIKeys = 681

	keyMax = int32(1<<31 - 1)
)

// Node type tags (first bytes of every node).
const (
	nodeInternal = 0 // outer internal
	nodeLeaf     = 1 // leaf page or superpage
	nodeSPInode  = 2 // page-level internal within a superpage

	clFree     = 0
	clLeafTag  = 1
	clInodeTag = 2
)

// Page header flag bits.
const flagEytzinger = 1 << 0

// ─── References ───────────────────────────────────────────────────────────────

// ref is a tagged reference to a page-aligned node.  The low 12 bits of a
// leaf reference are free and encode the leaf's CL sub-tree root slot
// (bits 0-5) and sub-tree height (bits 6-8) so a reader can locate the CL
// root before touching the page header.  Outer internal references and
// superpage references carry a zero tag.
type ref uintptr

const (
	tagMask      = ref(pageSize - 1)
	tagSlotMask  = ref(0x3F)
	tagHeightPos = 6
)

func (r ref) isNil() bool { return r == 0 }

func (r ref) ptr() unsafe.Pointer {
	return unsafe.Pointer(r &^ tagMask)
}

func (r ref) rootSlot() int  { return int(r & tagSlotMask) }
func (r ref) subHeight() int { return int((r >> tagHeightPos) & 0x7) }

func (r ref) page() *page   { return (*page)(r.ptr()) }
func (r ref) inode() *inode { return (*inode)(r.ptr()) }

// taggedLeaf builds a leaf reference carrying the page's current root slot
// and sub-height.  Every mutation that moves either field must re-tag the
// parent's child entry before the next descent reads it.
func taggedLeaf(p *page) ref {
	return ref(uintptr(unsafe.Pointer(p))) |
		ref(p.h.rootSlot)&tagSlotMask |
		ref(p.h.subHeight&0x7)<<tagHeightPos
}

// ─── Cache-line node layouts (bit-exact, 64 B each) ───────────────────────────

type clLeaf struct {
	typ   uint8
	nkeys uint8
	_     [2]byte
	keys  [clKeyCap]int32
}

type clInode struct {
	typ      uint8
	nkeys    uint8
	children [clChildCap]uint8
	_        uint8
	keys     [clSepCap]int32
}

// clEytz is the EYTZINGER variant of a CL internal: children are implicit
// (child i of the root at slot R lives at slot R+1+i), which frees the
// child array for three more separators.
type clEytz struct {
	typ       uint8
	nkeys     uint8
	nchildren uint8
	_         uint8
	keys      [eytzChildCap]int32
}

// ─── Page layout (bit-exact, 4096 B) ──────────────────────────────────────────

type pageHeader struct {
	typ        uint16
	nkeys      uint16
	rootSlot   uint8
	subHeight  uint8
	slotsUsed  uint8
	flags      uint8
	bitmap     uint64 // bit i set iff slot i is in use; bit 0 always set
	prev       ref
	next       ref
	fenceKeys  [fenceCap]int32
	fenceSlots [fenceCap + 1]uint8
	nfence     uint8
}

const fenceCap = 6

type page struct {
	h     pageHeader
	slots [pageSlots][clSize]byte
}

func (p *page) slot(i int) unsafe.Pointer { return unsafe.Pointer(&p.slots[i-1]) }
func (p *page) slotTyp(i int) uint8       { return p.slots[i-1][0] }
func (p *page) leafAt(i int) *clLeaf      { return (*clLeaf)(p.slot(i)) }
func (p *page) inodeAt(i int) *clInode    { return (*clInode)(p.slot(i)) }
func (p *page) eytzAt(i int) *clEytz      { return (*clEytz)(p.slot(i)) }

func (p *page) eytzinger() bool { return p.h.flags&flagEytzinger != 0 }

// ─── Outer internal node layout (bit-exact, 4096 B) ───────────────────────────

type inode struct {
	typ      uint16
	nkeys    uint16
	_        [12]byte
	keys     [maxIKeys]int32
	_        uint32
	children [maxIKeys + 1]ref
}

// ─── Superpage layouts ────────────────────────────────────────────────────────

// spHeader occupies the start of page 0 of a superpage; the remainder of
// that page is unused padding.
type spHeader struct {
	typ        uint16
	_          uint16
	nkeys      uint32
	rootPage   uint16
	subHeight  uint8
	_          uint8
	npagesUsed uint16
	_          uint16
	bitmap     [spPages / 64]uint64
	prev       ref
	next       ref
}

// spInode is a page-level internal node within a superpage: separators over
// u16 page indices instead of pointers.
type spInode struct {
	typ      uint16
	nkeys    uint16
	_        [4]byte
	keys     [spMaxIKeys]int32
	children [spMaxIKeys + 1]uint16
}

func (r ref) spHeader() *spHeader { return (*spHeader)(r.ptr()) }

// spPageAt returns page idx of the superpage at r as raw memory.
func spPageAt(r ref, idx int) unsafe.Pointer {
	return unsafe.Pointer(uintptr(r.ptr()) + uintptr(idx)*pageSize)
}

func spLeafAt(r ref, idx int) *page     { return (*page)(spPageAt(r, idx)) }
func spInodeAt(r ref, idx int) *spInode { return (*spInode)(spPageAt(r, idx)) }

// refOf recovers the ref of an arena-backed page for linked-list fields.
func refOf(p *page) ref { return ref(uintptr(unsafe.Pointer(p))) }

func inodeRef(in *inode) ref { return ref(uintptr(unsafe.Pointer(in))) }

// ─── Layout guards ────────────────────────────────────────────────────────────

// Compile-time asserts that the overlay structs match the wire-exact sizes
// the slot arithmetic depends on.
var (
	_ [0]byte = [unsafe.Sizeof(clLeaf{}) - clSize]byte{}
	_ [0]byte = [unsafe.Sizeof(clInode{}) - clSize]byte{}
	_ [0]byte = [unsafe.Sizeof(clEytz{}) - clSize]byte{}
	_ [0]byte = [unsafe.Sizeof(pageHeader{}) - clSize]byte{}
	_ [0]byte = [unsafe.Sizeof(page{}) - pageSize]byte{}
	_ [0]byte = [unsafe.Sizeof(inode{}) - pageSize]byte{}
	_ [0]byte = [unsafe.Sizeof(spInode{}) - pageSize]byte{}
)
