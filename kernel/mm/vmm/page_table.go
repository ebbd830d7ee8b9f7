package vmm

import (
	"vmkernel/kernel"
	"vmkernel/kernel/kfmt"
	"vmkernel/kernel/mm"
)

// overlayFrameFn is used by tests to override the physical overlay used
// while initializing new tables.
var overlayFrameFn = overlayFrame

// PageTable describes a two-level address space rooted at a page directory
// frame. The first directory entry maps the shared region and the last one
// maps the directory itself.
type PageTable struct {
	paging   *Paging
	pdtFrame mm.Frame
	tblFrame mm.Frame
}

// NewPageTable allocates a directory and a single page table from the
// kernel pool and sets up:
//   - an identity mapping of the shared region starting at virtual address 0
//   - "not present, writable" entries for the rest of the directory
//   - a recursive mapping of the directory in its last entry.
//
// The frames are initialized through physical memory which requires the
// kernel pool to reside inside the shared region.
func (p *Paging) NewPageTable() (*PageTable, *kernel.Error) {
	pdtFrame, err := p.kernelPool.GetFrames(1)
	if err != nil {
		return nil, err
	}

	tblFrame, err := p.kernelPool.GetFrames(1)
	if err != nil {
		p.releaseTableFrames(pdtFrame)
		return nil, err
	}

	pdt, err := overlayFrameFn(p.cpu, pdtFrame)
	if err != nil {
		p.releaseTableFrames(pdtFrame, tblFrame)
		return nil, err
	}
	tbl, err := overlayFrameFn(p.cpu, tblFrame)
	if err != nil {
		p.releaseTableFrames(pdtFrame, tblFrame)
		return nil, err
	}

	sharedPages := p.sharedSize >> mm.PageShift
	for index := range tbl {
		if uintptr(index) >= sharedPages {
			tbl[index] = unusedEntry
			continue
		}

		tbl[index] = 0
		tbl[index].SetFrame(mm.Frame(index))
		tbl[index].SetFlags(FlagPresent | FlagRW)
	}

	for index := range pdt {
		pdt[index] = pageTableEntry(FlagRW)
	}

	pdt[0] = 0
	pdt[0].SetFrame(tblFrame)
	pdt[0].SetFlags(FlagPresent | FlagRW)

	pdt[selfMapIndex] = 0
	pdt[selfMapIndex].SetFrame(pdtFrame)
	pdt[selfMapIndex].SetFlags(FlagPresent | FlagRW)

	kfmt.Printf("[vmm] constructed page table; directory frame: %d\n", pdtFrame)
	return &PageTable{
		paging:   p,
		pdtFrame: pdtFrame,
		tblFrame: tblFrame,
	}, nil
}

// releaseTableFrames returns the frames of a partially constructed page
// table to their pool.
func (p *Paging) releaseTableFrames(frames ...mm.Frame) {
	for _, frame := range frames {
		_ = p.frames.ReleaseFrames(frame)
	}
}

// DirectoryFrame returns the physical frame that holds the page directory.
func (pt *PageTable) DirectoryFrame() mm.Frame { return pt.pdtFrame }

// Paging returns the context this page table belongs to.
func (pt *PageTable) Paging() *Paging { return pt.paging }

// Load installs this page table's directory in CR3 and records it as the
// current page table. Loading flushes all cached translations.
func (pt *PageTable) Load() {
	pt.paging.cpu.SwitchPDT(pt.pdtFrame.Address())
	pt.paging.current = pt
}

// IsLoaded returns true if this is the current page table.
func (pt *PageTable) IsLoaded() bool {
	return pt.paging.current == pt
}

// RegisterPool adds pool to the process-wide registry of pools whose
// windows may be demand paged.
func (pt *PageTable) RegisterPool(pool *VMPool) {
	pt.paging.RegisterPool(pool)
}

// FreePage releases the frame backing the page that contains virtAddr and
// marks the mapping as not present. Pages that were never touched are only
// reset to the unused state. The page table must be loaded.
func (pt *PageTable) FreePage(virtAddr uintptr) *kernel.Error {
	if !pt.IsLoaded() {
		return ErrPageTableNotLoaded
	}

	var (
		p       = pt.paging
		page    = mm.PageFromAddress(virtAddr)
		freeErr *kernel.Error
	)

	walkErr := p.walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel < pageLevels-1 {
			// No table means nothing was ever committed in this range
			return pte.HasFlags(FlagPresent)
		}

		if pte.HasFlags(FlagPresent) {
			if freeErr = p.frames.ReleaseFrames(pte.Frame()); freeErr != nil {
				return false
			}
		}

		*pte = unusedEntry
		p.cpu.FlushTLBEntry(page.Address())
		return true
	})

	if walkErr != nil {
		return walkErr
	}
	return freeErr
}
