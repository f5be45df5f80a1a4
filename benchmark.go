package main

import (
	"encoding/json"
	"os"
	"runtime"
)

// Result is one benchmark run, emitted as a single JSON line on stdout.
type Result struct {
	Library    string  `json:"library"`
	Workload   string  `json:"workload"`
	N          int     `json:"n"`
	Ops        int     `json:"ops"`
	ElapsedSec float64 `json:"elapsed_sec"`
	Mops       float64 `json:"mops"`
	NsPerOp    float64 `json:"ns_per_op"`
}

func makeResult(library, workload string, n, ops int, elapsed float64) Result {
	return Result{
		Library:    library,
		Workload:   workload,
		N:          n,
		Ops:        ops,
		ElapsedSec: elapsed,
		Mops:       float64(ops) / elapsed / 1e6,
		NsPerOp:    elapsed / float64(ops) * 1e9,
	}
}

func emit(w *json.Encoder, r Result) {
	_ = w.Encode(r)
}

// MemoryStats samples the live heap after a forced GC, so the numbers
// reflect retained data rather than garbage.  Arena-backed structures
// (the matryoshka tree, Pebble's block cache) live mostly outside the Go
// heap and show up small here by design.
type MemoryStats struct {
	AllocMB     uint64
	HeapObjects uint64
}

func sampleMem() MemoryStats {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocMB:     m.Alloc / 1024 / 1024,
		HeapObjects: m.HeapObjects,
	}
}

func newEmitter() *json.Encoder {
	return json.NewEncoder(os.Stdout)
}
