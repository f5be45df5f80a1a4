package mtree

import "testing"

func TestArenaBasic(t *testing.T) {
	al := newAllocator(16*pageSize, pageSize)
	defer al.destroy()

	// Fill one arena completely.
	pages := make([]ref, 16)
	for i := range pages {
		r, err := al.alloc()
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if r.isNil() {
			t.Fatalf("alloc %d returned nil", i)
		}
		pages[i] = r
	}
	for i := range pages {
		for j := i + 1; j < len(pages); j++ {
			if pages[i] == pages[j] {
				t.Fatalf("duplicate page %d/%d", i, j)
			}
		}
	}

	// Free two and reallocate; the freed slots must be reused.
	al.free(pages[5])
	al.free(pages[10])
	r1, err := al.alloc()
	if err != nil {
		t.Fatalf("realloc: %v", err)
	}
	r2, err := al.alloc()
	if err != nil {
		t.Fatalf("realloc: %v", err)
	}
	if r1 != pages[5] && r1 != pages[10] {
		t.Fatal("freed slot not reused")
	}
	if r2 == r1 {
		t.Fatal("same slot handed out twice")
	}

	// One more allocation must spill into a second arena.
	extra, err := al.alloc()
	if err != nil {
		t.Fatalf("second arena: %v", err)
	}
	if extra.isNil() {
		t.Fatal("second arena alloc nil")
	}
	if al.arenas == nil || al.arenas.next == nil {
		t.Fatal("second arena was not created")
	}
}

func TestArenaCoLocation(t *testing.T) {
	const arenaSize = 16 * pageSize
	al := newAllocator(arenaSize, pageSize)
	defer al.destroy()

	r1, _ := al.alloc()
	r2, _ := al.alloc()
	d := uintptr(r1) - uintptr(r2)
	if uintptr(r2) > uintptr(r1) {
		d = uintptr(r2) - uintptr(r1)
	}
	if d >= arenaSize {
		t.Fatalf("pages %x and %x not co-located", r1, r2)
	}
}

func TestArenaZeroOnReuse(t *testing.T) {
	al := newAllocator(4*pageSize, pageSize)
	defer al.destroy()

	r, _ := al.alloc()
	p := r.page()
	p.h.nkeys = 1234
	p.slots[7][3] = 0xAB
	al.free(r)

	r2, _ := al.alloc()
	if r2 != r {
		t.Fatal("expected the freed page back")
	}
	p2 := r2.page()
	if p2.h.nkeys != 0 || p2.slots[7][3] != 0 {
		t.Fatal("reused page not zeroed")
	}
}

func TestArenaAlignment(t *testing.T) {
	al := newAllocator(spSize, pageSize)
	defer al.destroy()
	for i := 0; i < 8; i++ {
		r, _ := al.alloc()
		if uintptr(r)%pageSize != 0 {
			t.Fatalf("page %x not page-aligned", r)
		}
	}
}
