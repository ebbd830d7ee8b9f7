//go:build !linux

package physmem

import "vmkernel/kernel"

func mapRAM(size int) ([]byte, *kernel.Error) {
	return make([]byte, size), nil
}

func unmapRAM(_ []byte) *kernel.Error {
	return nil
}
