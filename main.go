// Command mtree-bench runs the comparative benchmark suite: the matryoshka
// tree in each hierarchy configuration against a sorted slice, a hash set,
// and Pebble.  One JSON record per run goes to stdout; -plot renders a
// throughput chart from the collected results.
//
// Usage:
//
//	mtree-bench -library matryoshka -workload rand_insert -size 1000000
//	mtree-bench -all -plot results.png
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/matryoshka-bench/mtree/index"
	"github.com/matryoshka-bench/mtree/index/hashset"
	"github.com/matryoshka-bench/mtree/index/mtreeset"
	"github.com/matryoshka-bench/mtree/index/pebbleset"
	"github.com/matryoshka-bench/mtree/index/sortedslice"
)

type factory func() (index.OrderedSet, error)

var libraries = map[string]factory{
	"matryoshka":       func() (index.OrderedSet, error) { return mtreeset.New(), nil },
	"matryoshka_fence": func() (index.OrderedSet, error) { return mtreeset.NewFence(), nil },
	"matryoshka_eytz":  func() (index.OrderedSet, error) { return mtreeset.NewEytzinger(), nil },
	"matryoshka_super": func() (index.OrderedSet, error) { return mtreeset.NewSuperpage(), nil },
	"sorted_slice":     func() (index.OrderedSet, error) { return sortedslice.New(), nil },
	"hashset":          func() (index.OrderedSet, error) { return hashset.New(), nil },
	"pebble":           func() (index.OrderedSet, error) { return pebbleset.Open() },
}

var libraryOrder = []string{
	"matryoshka", "matryoshka_fence", "matryoshka_eytz", "matryoshka_super",
	"sorted_slice", "hashset", "pebble",
}

var defaultSizes = []int{65536, 262144, 1048576, 4194304}

func main() {
	var (
		library  = flag.String("library", "", "library to benchmark (default: all)")
		workload = flag.String("workload", "", "workload to run (default: all)")
		sizeStr  = flag.String("size", "", "comma-separated key counts (default: sweep)")
		all      = flag.Bool("all", false, "run every library and workload")
		plotOut  = flag.String("plot", "", "write a throughput chart to this PNG file")
		mem      = flag.Bool("mem", false, "report heap stats after each load")
	)
	flag.Parse()

	libs := pickKeys(*library, libraryOrder)
	wls := pickKeys(*workload, workloadOrder)
	if !*all && *library == "" && *workload == "" && *sizeStr == "" {
		flag.Usage()
		os.Exit(2)
	}

	sizes := defaultSizes
	if *sizeStr != "" {
		sizes = nil
		for _, f := range strings.Split(*sizeStr, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil || n <= 0 {
				log.Fatalf("bad -size value %q", f)
			}
			sizes = append(sizes, n)
		}
	}

	enc := newEmitter()
	var results []Result

	for _, lib := range libs {
		mk, ok := libraries[lib]
		if !ok {
			log.Fatalf("unknown library %q", lib)
		}
		for _, n := range sizes {
			for _, wl := range wls {
				fn, ok := workloads[wl]
				if !ok {
					log.Fatalf("unknown workload %q", wl)
				}
				s, err := mk()
				if err != nil {
					log.Fatalf("%s: %v", lib, err)
				}
				res := fn(s, lib, n)
				if *mem {
					ms := sampleMem()
					fmt.Fprintf(os.Stderr, "%s/%s n=%d heap=%dMB objects=%d\n",
						lib, wl, n, ms.AllocMB, ms.HeapObjects)
				}
				if err := s.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "%s: close: %v\n", lib, err)
				}
				emit(enc, res)
				results = append(results, res)
			}
		}
	}

	if *plotOut != "" {
		if err := renderPlot(results, *plotOut); err != nil {
			log.Fatalf("plot: %v", err)
		}
	}
}

// pickKeys returns either the single named entry or the full ordered list.
func pickKeys(name string, order []string) []string {
	if name == "" {
		return order
	}
	return []string{name}
}
