package vmm

import (
	"unsafe"
	"vmkernel/kernel"
	"vmkernel/kernel/cpu"
	"vmkernel/kernel/mm"
)

// Resolver converts the virtual address of a page table entry, as produced
// by the recursive directory mapping, into the physical address where the
// entry is stored.
type Resolver interface {
	Resolve(c *cpu.CPU, entryAddr uintptr) (uintptr, bool)
}

// RecursiveResolver reaches page table entries through the MMU. It only
// works while paging is enabled and the owning directory is loaded.
type RecursiveResolver struct{}

// Resolve translates entryAddr using the processor's address translation.
func (RecursiveResolver) Resolve(c *cpu.CPU, entryAddr uintptr) (uintptr, bool) {
	if !c.PagingEnabled() {
		return 0, false
	}

	physAddr, _, ok := c.Translate(entryAddr, false)
	return physAddr, ok
}

// PhysicalResolver decodes recursive entry addresses by reading the loaded
// directory straight out of physical memory. It bypasses the TLB and works
// whether paging is enabled or not.
type PhysicalResolver struct{}

// Resolve follows the directory referenced by CR3 the same way the MMU would
// for an address inside the recursively mapped window.
func (PhysicalResolver) Resolve(c *cpu.CPU, entryAddr uintptr) (uintptr, bool) {
	frame := mm.FrameFromAddress(c.ActivePDT())
	for level := uint8(0); level < pageLevels; level++ {
		entryIndex := (entryAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entry := c.Memory().Uint32(frame.Address() + (entryIndex << mm.PointerShift))
		if entry == nil || !pageTableEntry(*entry).HasFlags(FlagPresent) {
			return 0, false
		}
		frame = pageTableEntry(*entry).Frame()
	}

	return frame.Address() + PageOffset(entryAddr), true
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// entryTable overlays the entries of a single page table frame.
type entryTable []pageTableEntry

// walk performs a page table walk for the given virtual address using the
// loaded directory. It calls the suppplied walkFn with the page table entry
// that corresponds to each page table level. walk returns ErrInvalidMapping
// if an entry cannot be reached and ErrNoPageTableLoaded if there is no
// loaded directory to walk.
func (p *Paging) walk(virtAddr uintptr, walkFn pageTableWalker) *kernel.Error {
	var (
		level                            uint8
		tableAddr, entryAddr, entryIndex uintptr
	)

	if p.current == nil {
		return ErrNoPageTableLoaded
	}

	// tableAddr is initially set to the recursively mapped virtual address
	// of the directory itself.
	for level, tableAddr = uint8(0), pdtVirtualAddr; level < pageLevels; level, tableAddr = level+1, entryAddr {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr = tableAddr + (entryIndex << mm.PointerShift)

		pte, err := p.entryAt(entryAddr)
		if err != nil {
			return err
		}

		if !walkFn(level, pte) {
			return nil
		}

		// Shift left by the number of bits for this paging level to get
		// the virtual address of the table pointed to by entryAddr
		entryAddr = nextTableAddr(entryAddr, level)
	}

	return nil
}

// nextTableAddr returns the recursive virtual address of the table that the
// entry at entryAddr points to.
func nextTableAddr(entryAddr uintptr, level uint8) uintptr {
	return (entryAddr << pageLevelBits[level]) & addressMask
}

// entryAt returns a pointer to the page table entry stored at the recursive
// virtual address entryAddr.
func (p *Paging) entryAt(entryAddr uintptr) (*pageTableEntry, *kernel.Error) {
	physAddr, ok := p.resolver.Resolve(p.cpu, entryAddr)
	if !ok {
		return nil, ErrInvalidMapping
	}

	ptr := p.cpu.Memory().Uint32(physAddr)
	if ptr == nil {
		return nil, ErrInvalidMapping
	}

	return (*pageTableEntry)(unsafe.Pointer(ptr)), nil
}

// tableAt returns the entries of the table whose recursive virtual address
// is tableAddr.
func (p *Paging) tableAt(tableAddr uintptr) (entryTable, *kernel.Error) {
	first, err := p.entryAt(tableAddr &^ (mm.PageSize - 1))
	if err != nil {
		return nil, err
	}

	return unsafe.Slice(first, mm.EntriesPerTable), nil
}

// overlayFrame returns the entries of the table stored in the supplied
// physical frame.
func overlayFrame(c *cpu.CPU, frame mm.Frame) (entryTable, *kernel.Error) {
	ptr := c.Memory().Uint32(frame.Address())
	if ptr == nil || !c.Memory().Contains(frame.Address(), mm.PageSize) {
		return nil, ErrInvalidMapping
	}

	return unsafe.Slice((*pageTableEntry)(unsafe.Pointer(ptr)), mm.EntriesPerTable), nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return (virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))
}
