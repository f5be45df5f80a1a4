//go:build linux

package mtree

import "golang.org/x/sys/unix"

// adviseHugePages marks the region transparent-huge-page eligible.  The
// hint is best-effort; kernels without THP simply ignore it.
func adviseHugePages(b []byte) {
	_ = unix.Madvise(b, unix.MADV_HUGEPAGE)
}
