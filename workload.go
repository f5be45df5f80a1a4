package main

import (
	"time"

	"github.com/matryoshka-bench/mtree/index"
)

// Benchmark workloads.  Key material is generated outside the timed
// section; every generator is seeded so runs are reproducible.

// rng is the xorshift64 generator the workloads share.
type rng struct{ s uint64 }

func newRng(seed uint64) *rng {
	if seed == 0 {
		seed = 1
	}
	return &rng{s: seed}
}

func (r *rng) next() uint32 {
	r.s ^= r.s << 13
	r.s ^= r.s >> 7
	r.s ^= r.s << 17
	return uint32(r.s)
}

func (r *rng) nextIn(lo, hi int32) int32 {
	return lo + int32(r.next()%uint32(hi-lo))
}

// makeSortedKeys returns 1, 3, 5, ..., 2n-1.  Odd keys keep predecessor
// queries interesting: every positive even query has a strict predecessor.
func makeSortedKeys(n int) []int32 {
	keys := make([]int32, n)
	for i := range keys {
		keys[i] = int32(i*2 + 1)
	}
	return keys
}

// makeShuffledKeys returns the odd keys in Fisher-Yates order.
func makeShuffledKeys(n int, seed uint64) []int32 {
	keys := make([]int32, n)
	for i := range keys {
		keys[i] = int32(i)
	}
	r := newRng(seed)
	for i := n - 1; i > 0; i-- {
		j := int(r.next() % uint32(i+1))
		keys[i], keys[j] = keys[j], keys[i]
	}
	for i := range keys {
		keys[i] = keys[i]*2 + 1
	}
	return keys
}

type workloadFunc func(s index.OrderedSet, name string, n int) Result

var workloads = map[string]workloadFunc{
	"seq_insert":         workloadSeqInsert,
	"rand_insert":        workloadRandInsert,
	"rand_delete":        workloadRandDelete,
	"mixed":              workloadMixed,
	"ycsb_a":             workloadYcsbA,
	"ycsb_b":             workloadYcsbB,
	"search_after_churn": workloadSearchAfterChurn,
}

// workloadOrder keeps -all output deterministic.
var workloadOrder = []string{
	"seq_insert", "rand_insert", "rand_delete",
	"mixed", "ycsb_a", "ycsb_b", "search_after_churn",
}

var sink bool

// workloadSeqInsert inserts ascending keys one by one.
func workloadSeqInsert(s index.OrderedSet, name string, n int) Result {
	keys := makeSortedKeys(n)
	start := time.Now()
	for _, k := range keys {
		s.Insert(k)
	}
	return makeResult(name, "seq_insert", n, n, time.Since(start).Seconds())
}

// workloadRandInsert inserts n unique keys in random order.
func workloadRandInsert(s index.OrderedSet, name string, n int) Result {
	keys := makeShuffledKeys(n, 42)
	start := time.Now()
	for _, k := range keys {
		s.Insert(k)
	}
	return makeResult(name, "rand_insert", n, n, time.Since(start).Seconds())
}

// workloadRandDelete bulk-loads n keys and deletes them all in random
// order.
func workloadRandDelete(s index.OrderedSet, name string, n int) Result {
	s.BulkLoad(makeSortedKeys(n))
	shuffled := makeShuffledKeys(n, 99)
	start := time.Now()
	for _, k := range shuffled {
		s.Remove(k)
	}
	return makeResult(name, "rand_delete", n, n, time.Since(start).Seconds())
}

// workloadMixed alternates inserts of new keys with deletes of existing
// ones over a pre-loaded set.
func workloadMixed(s index.OrderedSet, name string, n int) Result {
	s.BulkLoad(makeSortedKeys(n))
	victims := makeShuffledKeys(n, 77)
	nextNew := int32(n*2 + 1)
	delIdx := 0

	start := time.Now()
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			sink = s.Insert(nextNew)
			nextNew += 2
		} else if delIdx < len(victims) {
			sink = s.Remove(victims[delIdx])
			delIdx++
		}
	}
	return makeResult(name, "mixed", n, n, time.Since(start).Seconds())
}

// workloadYcsbA is write-heavy: 95% insert / 5% predecessor search.
func workloadYcsbA(s index.OrderedSet, name string, n int) Result {
	r := newRng(55)
	nextKey := int32(1)

	start := time.Now()
	for i := 0; i < n; i++ {
		if r.next()%100 < 95 {
			s.Insert(nextKey)
			nextKey += 2
		} else {
			_, sink = s.Search(r.nextIn(0, nextKey))
		}
	}
	return makeResult(name, "ycsb_a", n, n, time.Since(start).Seconds())
}

// workloadYcsbB is delete-heavy over a pre-loaded set: 50% delete / 50%
// search.
func workloadYcsbB(s index.OrderedSet, name string, n int) Result {
	s.BulkLoad(makeSortedKeys(n))
	shuffled := makeShuffledKeys(n, 88)
	r := newRng(66)
	delIdx := 0

	start := time.Now()
	for i := 0; i < n; i++ {
		if i%2 == 0 && delIdx < len(shuffled) {
			sink = s.Remove(shuffled[delIdx])
			delIdx++
		} else {
			_, sink = s.Search(r.nextIn(0, int32(n*2)))
		}
	}
	return makeResult(name, "ycsb_b", n, n, time.Since(start).Seconds())
}

// workloadSearchAfterChurn measures steady-state search latency: load n
// keys, churn the structure with n/2 untimed mixed operations, then time a
// large batch of random predecessor queries.
func workloadSearchAfterChurn(s index.OrderedSet, name string, n int) Result {
	s.BulkLoad(makeSortedKeys(n))

	r := newRng(33)
	nextNew := int32(n*2 + 1)
	for i := 0; i < n/2; i++ {
		if i%2 == 0 {
			s.Insert(nextNew)
			nextNew += 2
		} else {
			s.Remove(r.nextIn(1, int32(n*2)))
		}
	}

	const nq = 5_000_000
	queries := make([]int32, nq)
	for i := range queries {
		queries[i] = r.nextIn(0, nextNew)
	}

	// Warm up before timing.
	for i := 0; i < 100_000; i++ {
		_, sink = s.Search(queries[i])
	}

	start := time.Now()
	for _, q := range queries {
		_, sink = s.Search(q)
	}
	return makeResult(name, "search_after_churn", n, nq, time.Since(start).Seconds())
}
