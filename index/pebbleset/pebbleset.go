// Package pebbleset wraps Pebble (CockroachDB's LSM storage engine) behind
// the common OrderedSet interface so it can be benchmarked alongside the
// matryoshka tree.  Keys are encoded big-endian with the sign bit flipped
// so lexicographic order matches numeric order.
package pebbleset

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"

	"github.com/matryoshka-bench/mtree/index"
)

var _ index.OrderedSet = (*Set)(nil)

type Set struct {
	db  *pebble.DB
	dir string
	n   uint64
}

// Open creates a Pebble database in a fresh temporary directory; Close
// removes it again.
func Open() (*Set, error) {
	dir, err := os.MkdirTemp("", "pebbleset")
	if err != nil {
		return nil, fmt.Errorf("pebbleset: tempdir: %w", err)
	}
	opts := &pebble.Options{
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 4,
		L0CompactionThreshold:       4,
		L0StopWritesThreshold:       12,
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("pebbleset: open: %w", err)
	}
	return &Set{db: db, dir: dir}, nil
}

// Close shuts Pebble down and deletes the backing directory.
func (s *Set) Close() error {
	if err := s.db.Close(); err != nil {
		return err
	}
	return os.RemoveAll(s.dir)
}

func (s *Set) Insert(key int32) bool {
	if s.Contains(key) {
		return false
	}
	if err := s.db.Set(encodeKey(key), nil, pebble.NoSync); err != nil {
		return false
	}
	s.n++
	return true
}

func (s *Set) Remove(key int32) bool {
	if !s.Contains(key) {
		return false
	}
	if err := s.db.Delete(encodeKey(key), pebble.NoSync); err != nil {
		return false
	}
	s.n--
	return true
}

func (s *Set) Contains(key int32) bool {
	_, closer, err := s.db.Get(encodeKey(key))
	if err != nil {
		return false
	}
	closer.Close()
	return true
}

// Search runs a predecessor lookup with a reverse seek: SeekLT on the
// exclusive upper bound lands on the largest stored key <= key.
func (s *Set) Search(key int32) (int32, bool) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return 0, false
	}
	defer iter.Close()
	var ok bool
	if key == 1<<31-1 {
		// No exclusive upper bound exists past MaxInt32.
		ok = iter.Last()
	} else {
		ok = iter.SeekLT(encodeKeyExclusive(key))
	}
	if !ok {
		return 0, false
	}
	return decodeKey(iter.Key()), true
}

func (s *Set) BulkLoad(keys []int32) {
	batch := s.db.NewBatch()
	// Drop every stored key first: all keys are 4 bytes, so they sort below
	// the 5-byte bound.
	_ = batch.DeleteRange([]byte{0, 0, 0, 0}, []byte{0xff, 0xff, 0xff, 0xff, 0}, nil)
	for _, k := range keys {
		_ = batch.Set(encodeKey(k), nil, nil)
	}
	_ = batch.Commit(pebble.NoSync)
	s.n = uint64(len(keys))
}

func (s *Set) Len() uint64 { return s.n }

// ─── Key encoding ─────────────────────────────────────────────────────────────

func encodeKey(k int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(k)^0x80000000)
	return b
}

// encodeKeyExclusive returns the exclusive upper bound for SeekLT, which
// excludes its argument while our interface is inclusive.
func encodeKeyExclusive(k int32) []byte {
	b := encodeKey(k)
	for i := 3; i >= 0; i-- {
		b[i]++
		if b[i] != 0 {
			break
		}
	}
	return b
}

func decodeKey(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b) ^ 0x80000000)
}
