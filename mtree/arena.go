package mtree

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// Arena-backed slab allocator.  Each arena is a contiguous anonymous
// mapping subdivided into fixed-size pages tracked by a bitmap; arenas are
// chained and a new one is mapped when every existing arena is full.
// Co-locating leaves inside shared arenas keeps the working set dense in
// the TLB; arenas of at least 2 MiB are hinted huge-page-eligible where the
// platform supports it.

type arena struct {
	buf      mmap.MMap
	base     uintptr
	pageSize int
	numPages int
	bitmap   []uint64
	next     *arena
}

type allocator struct {
	arenas    *arena
	arenaSize int
	pageSize  int
}

func newAllocator(arenaSize, pageSize int) *allocator {
	return &allocator{arenaSize: arenaSize, pageSize: pageSize}
}

func mapArena(arenaSize, pageSize int) (*arena, error) {
	buf, err := mmap.MapRegion(nil, arenaSize, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("mtree: arena map: %w", err)
	}
	if arenaSize >= spSize {
		adviseHugePages(buf)
	}
	numPages := arenaSize / pageSize
	return &arena{
		buf:      buf,
		base:     uintptr(unsafe.Pointer(&buf[0])),
		pageSize: pageSize,
		numPages: numPages,
		bitmap:   make([]uint64, (numPages+63)/64),
	}, nil
}

func (a *arena) allocPage() ref {
	for w, word := range a.bitmap {
		if word == ^uint64(0) {
			continue
		}
		bit := bits.TrailingZeros64(^word)
		idx := w*64 + bit
		if idx >= a.numPages {
			return 0
		}
		a.bitmap[w] |= 1 << bit
		return ref(a.base + uintptr(idx)*uintptr(a.pageSize))
	}
	return 0
}

func (a *arena) contains(r ref) bool {
	addr := uintptr(r.ptr())
	return addr >= a.base && addr < a.base+uintptr(len(a.buf))
}

func (a *arena) freePage(r ref) {
	idx := int(uintptr(r.ptr())-a.base) / a.pageSize
	a.bitmap[idx/64] &^= 1 << (idx % 64)
	// Zero the page so the next allocation starts clean.
	off := idx * a.pageSize
	clear(a.buf[off : off+a.pageSize])
}

// alloc returns a zeroed page-aligned block of the allocator's page size.
func (al *allocator) alloc() (ref, error) {
	for a := al.arenas; a != nil; a = a.next {
		if r := a.allocPage(); !r.isNil() {
			return r, nil
		}
	}
	a, err := mapArena(al.arenaSize, al.pageSize)
	if err != nil {
		return 0, err
	}
	a.next = al.arenas
	al.arenas = a
	return a.allocPage(), nil
}

// free returns the block to its owning arena by pointer-range membership.
func (al *allocator) free(r ref) {
	if r.isNil() {
		return
	}
	for a := al.arenas; a != nil; a = a.next {
		if a.contains(r) {
			a.freePage(r)
			return
		}
	}
}

// destroy unmaps every arena.
func (al *allocator) destroy() {
	for a := al.arenas; a != nil; {
		next := a.next
		a.buf.Unmap()
		a = next
	}
	al.arenas = nil
}
