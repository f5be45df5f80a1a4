//go:build !linux

package mtree

// adviseHugePages is a no-op on platforms without madvise-style huge-page
// control.
func adviseHugePages(b []byte) {}
