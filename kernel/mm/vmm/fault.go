package vmm

import (
	"vmkernel/kernel"
	"vmkernel/kernel/cpu"
	"vmkernel/kernel/gate"
	"vmkernel/kernel/kfmt"
	"vmkernel/kernel/mm"
)

var (
	// ErrIllegalAddress is returned when a fault occurs at an address that
	// no registered pool claims.
	ErrIllegalAddress = &kernel.Error{Module: "vmm", Message: "page fault at an address outside all registered pools"}

	// ErrProtectionFault is returned for faults on present pages.
	ErrProtectionFault = &kernel.Error{Module: "vmm", Message: "page protection violation"}
)

// pageFaultHandler is invoked when a directory or table entry is not
// present or when a RW protection check fails.
func (p *Paging) pageFaultHandler(regs *gate.Registers) *kernel.Error {
	faultAddress := uintptr(p.cpu.ReadCR2())

	if err := p.HandleFault(faultAddress, regs.Info); err != nil {
		nonRecoverablePageFault(faultAddress, regs, err)
		return err
	}

	return nil
}

// HandleFault resolves a page fault at faultAddress. The error code uses the
// processor's encoding: bit 0 is set for protection violations and bit 1 for
// writes. Missing page tables and data frames are allocated from the process
// pool.
func (p *Paging) HandleFault(faultAddress uintptr, errCode uint32) *kernel.Error {
	if errCode&cpu.FaultProtection != 0 {
		return ErrProtectionFault
	}

	if !p.isLegitimate(faultAddress) {
		return ErrIllegalAddress
	}

	var (
		faultPage = mm.PageFromAddress(faultAddress)
		err       *kernel.Error
	)

	walkErr := p.walk(faultPage.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			// Another fault may have already committed this page
			if !pte.HasFlags(FlagPresent) {
				err = p.commitPage(pte)
			}
			p.cpu.FlushTLBEntry(faultPage.Address())
			return err == nil
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it map it and initialize its entries.
		if !pte.HasFlags(FlagPresent) {
			err = p.installTable(faultPage, pteLevel, pte)
		}

		return err == nil
	})

	if walkErr != nil {
		return walkErr
	}
	return err
}

// installTable allocates a table for the level below pteLevel, links it from
// pte and marks all of its entries as unused.
func (p *Paging) installTable(page mm.Page, pteLevel uint8, pte *pageTableEntry) *kernel.Error {
	tableFrame, err := p.processPool.GetFrames(1)
	if err != nil {
		return err
	}

	*pte = 0
	pte.SetFrame(tableFrame)
	pte.SetFlags(FlagPresent | FlagRW)

	tableAddr := recursiveTableAddr(page.Address(), pteLevel+1)
	p.cpu.FlushTLBEntry(tableAddr)

	table, err := p.tableAt(tableAddr)
	if err != nil {
		return err
	}

	for index := range table {
		table[index] = unusedEntry
	}

	return nil
}

// commitPage points pte to a zeroed frame from the process pool.
func (p *Paging) commitPage(pte *pageTableEntry) *kernel.Error {
	frame, err := p.processPool.GetFrames(1)
	if err != nil {
		return err
	}

	*pte = 0
	pte.SetFrame(frame)
	pte.SetFlags(FlagPresent | FlagRW)

	kernel.Memset(p.cpu.Memory().FrameBytes(frame), 0)
	return nil
}

// recursiveTableAddr returns the virtual address through which the table
// used at the given level for virtAddr is reachable via the recursive
// mapping.
func recursiveTableAddr(virtAddr uintptr, level uint8) uintptr {
	tableAddr := pdtVirtualAddr
	for l := uint8(0); l < level; l++ {
		entryIndex := (virtAddr >> pageLevelShifts[l]) & ((1 << pageLevelBits[l]) - 1)
		tableAddr = nextTableAddr(tableAddr+(entryIndex<<mm.PointerShift), l)
	}

	return tableAddr
}

func nonRecoverablePageFault(faultAddress uintptr, regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\n[vmm] page fault while accessing address: 0x%08x\nReason: ", faultAddress)
	switch {
	case err == ErrIllegalAddress:
		kfmt.Printf("address not claimed by any pool")
	case regs.Info == 0:
		kfmt.Printf("read from non-present page")
	case regs.Info == 1:
		kfmt.Printf("page protection violation (read)")
	case regs.Info == 2:
		kfmt.Printf("write to non-present page")
	case regs.Info == 3:
		kfmt.Printf("page protection violation (write)")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf(" (%s)\n\nRegisters:\n", err.Error())
	regs.DumpTo(&kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[vmm] ")})
}
