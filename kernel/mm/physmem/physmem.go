// Package physmem provides the physical RAM of the simulated machine. All
// kernel structures that live in physical memory (frame state tables, page
// directories and page tables) are stored inside a Memory instance and are
// accessed in place.
package physmem

import (
	"unsafe"
	"vmkernel/kernel"
	"vmkernel/kernel/mm"
)

var (
	// ErrOutOfRange is returned when a physical memory range does not fit
	// inside the installed RAM.
	ErrOutOfRange = &kernel.Error{Module: "physmem", Message: "physical address range outside installed memory"}

	errZeroSize = &kernel.Error{Module: "physmem", Message: "memory size must be greater than zero"}

	// mapFn and unmapFn are used by tests to override the platform-specific
	// backing store implementation.
	mapFn   = mapRAM
	unmapFn = unmapRAM
)

// Memory models a contiguous block of physical RAM starting at physical
// address 0.
type Memory struct {
	ram []byte
}

// New allocates size bytes of physical memory. The size is always rounded
// up to the nearest page boundary.
func New(size mm.Size) (*Memory, *kernel.Error) {
	if size == 0 {
		return nil, errZeroSize
	}

	ram, err := mapFn(int(mm.PageAlign(uintptr(size))))
	if err != nil {
		return nil, err
	}

	return &Memory{ram: ram}, nil
}

// Close releases the backing store. The Memory instance must not be used
// after a call to Close.
func (m *Memory) Close() *kernel.Error {
	if m.ram == nil {
		return nil
	}

	err := unmapFn(m.ram)
	m.ram = nil
	return err
}

// Size returns the installed memory size in bytes.
func (m *Memory) Size() mm.Size {
	return mm.Size(len(m.ram))
}

// Frames returns the number of physical frames backed by this memory.
func (m *Memory) Frames() uint32 {
	return uint32(uintptr(len(m.ram)) >> mm.PageShift)
}

// Contains returns true if the physical range [addr, addr+size) lies inside
// the installed memory.
func (m *Memory) Contains(addr, size uintptr) bool {
	end := addr + size
	return end >= addr && end <= uintptr(len(m.ram))
}

// Bytes returns a slice that overlays the physical range [addr, addr+size).
// Writes to the returned slice modify physical memory. Bytes returns nil if
// the range is not backed by RAM.
func (m *Memory) Bytes(addr, size uintptr) []byte {
	if !m.Contains(addr, size) {
		return nil
	}

	return m.ram[addr : addr+size : addr+size]
}

// FrameBytes returns a slice that overlays the contents of a physical frame.
func (m *Memory) FrameBytes(frame mm.Frame) []byte {
	return m.Bytes(frame.Address(), mm.PageSize)
}

// Uint32 returns a pointer to the 32-bit word stored at the supplied
// physical address. The address is rounded down to a 4-byte boundary. Uint32
// returns nil if the address is not backed by RAM.
func (m *Memory) Uint32(addr uintptr) *uint32 {
	addr &^= 3
	if !m.Contains(addr, 4) {
		return nil
	}

	return (*uint32)(unsafe.Pointer(&m.ram[addr]))
}
