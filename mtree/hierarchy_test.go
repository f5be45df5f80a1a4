package mtree

import (
	"math"
	"math/rand"
	"testing"
)

func TestHierarchyCapacities(t *testing.T) {
	h := DefaultHierarchy()
	if h.CLKeyCap != 15 || h.CLSepCap != 12 || h.CLChildCap != 13 {
		t.Fatalf("CL capacities %d/%d/%d", h.CLKeyCap, h.CLSepCap, h.CLChildCap)
	}
	if h.PageSlots != 63 {
		t.Fatalf("page slots %d", h.PageSlots)
	}
	if h.MinCLKeys != 7 || h.MinCLChildren != 7 {
		t.Fatalf("CL minima %d/%d", h.MinCLKeys, h.MinCLChildren)
	}
	if h.PageMaxKeys != 855 {
		t.Fatalf("page capacity %d", h.PageMaxKeys)
	}
	if h.MinPageKeys != h.PageMaxKeys/4 {
		t.Fatalf("page minimum %d", h.MinPageKeys)
	}
	if h.Superpages || h.LeafAlloc != pageSize {
		t.Fatal("default hierarchy misconfigured")
	}
}

func TestHierarchySuperpage(t *testing.T) {
	h := SuperpageHierarchy()
	if !h.Superpages || h.LeafAlloc != 2<<20 {
		t.Fatal("superpage hierarchy misconfigured")
	}
	if h.SPMaxKeys <= 0 || h.MinSPKeys != h.SPMaxKeys/4 {
		t.Fatalf("superpage budgets %d/%d", h.SPMaxKeys, h.MinSPKeys)
	}
}

func TestHierarchyEytzinger(t *testing.T) {
	h := EytzingerHierarchy()
	if h.Layout != LayoutEytzinger {
		t.Fatal("layout tag wrong")
	}
	if h.PageMaxKeys != eytzChildCap*clKeyCap {
		t.Fatalf("eytzinger capacity %d", h.PageMaxKeys)
	}
}

func TestHierarchyCustom(t *testing.T) {
	if h := CustomHierarchy(4096); h.Superpages {
		t.Fatal("4 KiB custom should use page leaves")
	}
	if h := CustomHierarchy(2 << 20); !h.Superpages {
		t.Fatal("2 MiB custom should use superpages")
	}
}

// TestStrategyEquivalence runs the same operation stream through every
// hierarchy; externally they must be indistinguishable.
func TestStrategyEquivalence(t *testing.T) {
	type op struct {
		del bool
		key int32
	}
	rnd := rand.New(rand.NewSource(29))
	ops := make([]op, 15000)
	for i := range ops {
		ops[i] = op{del: rnd.Intn(3) == 0, key: int32(rnd.Intn(6000))}
	}

	trees := make(map[string]*Tree)
	for name, h := range allHierarchies() {
		trees[name] = NewWith(h)
		defer trees[name].Close()
	}

	for _, o := range ops {
		var want bool
		first := true
		for name, tr := range trees {
			var got bool
			if o.del {
				got = tr.Delete(o.key)
			} else {
				got = tr.Insert(o.key)
			}
			if first {
				want, first = got, false
			} else if got != want {
				t.Fatalf("%s diverged on %+v", name, o)
			}
		}
	}

	ref := trees["default"]
	for name, tr := range trees {
		if tr.Len() != ref.Len() {
			t.Fatalf("%s size %d, default %d", name, tr.Len(), ref.Len())
		}
	}
	itD := ref.IterFrom(math.MinInt32)
	itE := trees["eytzinger"].IterFrom(math.MinInt32)
	itS := trees["superpage"].IterFrom(math.MinInt32)
	defer itD.Close()
	defer itE.Close()
	defer itS.Close()
	for {
		kd, okd := itD.Next()
		ke, oke := itE.Next()
		ks, oks := itS.Next()
		if okd != oke || okd != oks || (okd && (kd != ke || kd != ks)) {
			t.Fatal("iteration sequences diverge across strategies")
		}
		if !okd {
			break
		}
	}
}
