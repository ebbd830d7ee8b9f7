// Package cpu models the paging hardware of a 32-bit x86 processor: the
// CR0/CR2/CR3 control registers, a two-level address translation walk, a
// TLB that caches completed translations and synchronous page-fault
// delivery through the interrupt gate table.
package cpu

import (
	"math"
	"vmkernel/kernel"
	"vmkernel/kernel/gate"
	"vmkernel/kernel/mm"
	"vmkernel/kernel/mm/physmem"
)

const (
	// cr0PagingEnabled is the CR0.PG bit.
	cr0PagingEnabled = uint32(1 << 31)

	// Hardware-interpreted page table entry bits.
	entryPresent   = uint32(1 << 0)
	entryRW        = uint32(1 << 1)
	entryFrameMask = uint32(0xfffff000)

	dirShift   = 22
	tableShift = 12
	indexMask  = uint32(1<<10 - 1)
)

// Page fault error code bits reported in gate.Registers.Info.
const (
	// FaultProtection is set when the fault was caused by a protection
	// violation on a present page; cleared for non-present pages.
	FaultProtection = uint32(1 << 0)

	// FaultWrite is set when the faulting access was a write.
	FaultWrite = uint32(1 << 1)
)

var (
	// ErrFaultNotResolved is returned when the page fault handler returns
	// without installing a mapping for the faulting address.
	ErrFaultNotResolved = &kernel.Error{Module: "cpu", Message: "page fault handler did not resolve the fault"}

	// ErrBusError is returned when a translated address is not backed by
	// physical memory or a virtual address does not fit the 32-bit
	// address space.
	ErrBusError = &kernel.Error{Module: "cpu", Message: "access to an address not backed by memory"}
)

// CPU is a single simulated processor core.
type CPU struct {
	mem *physmem.Memory
	idt *gate.Table

	cr0, cr2, cr3 uint32

	// tlb caches the leaf entry for each translated virtual page. Entries
	// are only dropped by FlushTLBEntry, FlushTLB or a CR3 write.
	tlb map[mm.Page]uint32

	faultCount    uint64
	tlbFlushCount uint64
}

// New returns a CPU that accesses the supplied physical memory and routes
// exceptions through idt. Paging is initially disabled.
func New(mem *physmem.Memory, idt *gate.Table) *CPU {
	return &CPU{
		mem: mem,
		idt: idt,
		tlb: make(map[mm.Page]uint32),
	}
}

// Memory returns the physical memory attached to this CPU.
func (c *CPU) Memory() *physmem.Memory { return c.mem }

// IDT returns the interrupt gate table used for exception delivery.
func (c *CPU) IDT() *gate.Table { return c.idt }

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func (c *CPU) SwitchPDT(pdtPhysAddr uintptr) {
	c.cr3 = uint32(pdtPhysAddr) & entryFrameMask
	c.FlushTLB()
}

// ActivePDT returns the physical address of the currently active page table.
func (c *CPU) ActivePDT() uintptr { return uintptr(c.cr3) }

// EnablePaging sets CR0.PG. From this point on, all memory accesses are
// translated through the active page directory.
func (c *CPU) EnablePaging() { c.cr0 |= cr0PagingEnabled }

// PagingEnabled returns true if CR0.PG is set.
func (c *CPU) PagingEnabled() bool { return c.cr0&cr0PagingEnabled != 0 }

// ReadCR2 returns the value stored in the CR2 register which latches the
// address of the last page fault.
func (c *CPU) ReadCR2() uint32 { return c.cr2 }

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func (c *CPU) FlushTLBEntry(virtAddr uintptr) {
	delete(c.tlb, mm.PageFromAddress(virtAddr))
}

// FlushTLB drops all cached translations.
func (c *CPU) FlushTLB() {
	for page := range c.tlb {
		delete(c.tlb, page)
	}
	c.tlbFlushCount++
}

// TLBFlushCount returns the number of full TLB flushes performed so far.
func (c *CPU) TLBFlushCount() uint64 { return c.tlbFlushCount }

// FaultCount returns the number of page faults raised so far.
func (c *CPU) FaultCount() uint64 { return c.faultCount }

// Translate performs the hardware address translation for virtAddr. If the
// translation fails, Translate returns false together with the page fault
// error code that the CPU would push. Translate never raises a fault and is
// used by fault handlers that need to reach page tables through virtual
// addresses.
func (c *CPU) Translate(virtAddr uintptr, write bool) (uintptr, uint32, bool) {
	var errCode uint32
	if write {
		errCode = FaultWrite
	}

	if !c.PagingEnabled() {
		return virtAddr, 0, true
	}

	page := mm.PageFromAddress(virtAddr)
	offset := virtAddr & (mm.PageSize - 1)

	entry, cached := c.tlb[page]
	if !cached {
		var ok bool
		if entry, ok = c.walk(uint32(virtAddr)); !ok {
			return 0, errCode, false
		}
		c.tlb[page] = entry
	}

	if write && entry&entryRW == 0 {
		return 0, errCode | FaultProtection, false
	}

	return uintptr(entry&entryFrameMask) + offset, 0, true
}

// walk reads the directory and table entries for virtAddr from physical
// memory and returns the effective leaf entry.
func (c *CPU) walk(virtAddr uint32) (uint32, bool) {
	dirEntry := c.mem.Uint32(uintptr(c.cr3) + uintptr((virtAddr>>dirShift)&indexMask)<<mm.PointerShift)
	if dirEntry == nil || *dirEntry&entryPresent == 0 {
		return 0, false
	}

	tableEntry := c.mem.Uint32(uintptr(*dirEntry&entryFrameMask) + uintptr((virtAddr>>tableShift)&indexMask)<<mm.PointerShift)
	if tableEntry == nil || *tableEntry&entryPresent == 0 {
		return 0, false
	}

	// A page is writable only if both levels grant write access.
	return *tableEntry &^ (entryRW &^ (*dirEntry & entryRW)), true
}

// Access translates virtAddr for a read or write access. If the translation
// fails, the faulting address is latched into CR2 and a page fault is
// dispatched through the interrupt gate table. Once the handler returns, the
// access is retried exactly once.
func (c *CPU) Access(virtAddr uintptr, write bool) (uintptr, *kernel.Error) {
	if virtAddr > math.MaxUint32 {
		return 0, ErrBusError
	}

	for attempt := 0; ; attempt++ {
		physAddr, errCode, ok := c.Translate(virtAddr, write)
		if ok {
			if !c.mem.Contains(physAddr, 1) {
				return 0, ErrBusError
			}
			return physAddr, nil
		}

		if attempt != 0 {
			return 0, ErrFaultNotResolved
		}

		c.cr2 = uint32(virtAddr)
		c.faultCount++
		regs := gate.Registers{Info: errCode}
		if err := c.idt.Dispatch(gate.PageFaultException, &regs); err != nil {
			return 0, err
		}
	}
}

// ReadUint8 reads the byte stored at virtAddr.
func (c *CPU) ReadUint8(virtAddr uintptr) (byte, *kernel.Error) {
	physAddr, err := c.Access(virtAddr, false)
	if err != nil {
		return 0, err
	}

	return c.mem.Bytes(physAddr, 1)[0], nil
}

// WriteUint8 stores a byte at virtAddr.
func (c *CPU) WriteUint8(virtAddr uintptr, value byte) *kernel.Error {
	physAddr, err := c.Access(virtAddr, true)
	if err != nil {
		return err
	}

	c.mem.Bytes(physAddr, 1)[0] = value
	return nil
}

// ReadUint32 reads the 32-bit word stored at virtAddr. The address is
// rounded down to a 4-byte boundary.
func (c *CPU) ReadUint32(virtAddr uintptr) (uint32, *kernel.Error) {
	physAddr, err := c.Access(virtAddr&^3, false)
	if err != nil {
		return 0, err
	}

	return *c.mem.Uint32(physAddr), nil
}

// WriteUint32 stores a 32-bit word at virtAddr. The address is rounded down
// to a 4-byte boundary.
func (c *CPU) WriteUint32(virtAddr uintptr, value uint32) *kernel.Error {
	physAddr, err := c.Access(virtAddr&^3, true)
	if err != nil {
		return err
	}

	*c.mem.Uint32(physAddr) = value
	return nil
}
