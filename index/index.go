// Package index defines the common interface every benchmarked ordered-set
// implementation adapts to, so the workload driver can treat the
// matryoshka tree and the comparison libraries uniformly.
package index

// OrderedSet is a duplicate-free set of int32 keys with predecessor
// search.
type OrderedSet interface {
	// Insert adds key; false means it was already present.
	Insert(key int32) bool
	// Remove deletes key; false means it was not present.
	Remove(key int32) bool
	// Search returns the largest key <= key, if any.
	Search(key int32) (int32, bool)
	// Contains reports membership.
	Contains(key int32) bool
	// BulkLoad replaces the contents with the given strictly ascending
	// keys.
	BulkLoad(keys []int32)
	// Len returns the number of keys.
	Len() uint64
	// Close releases any resources held by the implementation.
	Close() error
}

// Ranger is implemented by sets that support in-order iteration from a
// starting key.
type Ranger interface {
	IterFrom(start int32) Iterator
}

// Iterator yields keys in ascending order.
type Iterator interface {
	Next() (int32, bool)
	Close()
}
