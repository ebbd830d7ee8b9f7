//go:build linux

package physmem

import (
	"vmkernel/kernel"

	"golang.org/x/sys/unix"
)

var errMmapFailed = &kernel.Error{Module: "physmem", Message: "unable to map backing store for physical memory"}

// mapRAM reserves an anonymous private mapping for the physical memory. The
// kernel zero-fills the mapping so freshly booted RAM is always cleared.
func mapRAM(size int) ([]byte, *kernel.Error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errMmapFailed
	}

	return buf, nil
}

func unmapRAM(buf []byte) *kernel.Error {
	if err := unix.Munmap(buf); err != nil {
		return errMmapFailed
	}

	return nil
}
