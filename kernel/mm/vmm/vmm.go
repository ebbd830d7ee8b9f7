// Package vmm implements demand-paged virtual memory on top of the
// contiguous frame pools provided by the pmm package. A Paging context owns
// the process-wide state (frame sources, the loaded page table and the
// registry of virtual memory pools) while each PageTable owns a page
// directory that maps itself through its last entry.
package vmm

import (
	"vmkernel/kernel"
	"vmkernel/kernel/cpu"
	"vmkernel/kernel/gate"
	"vmkernel/kernel/kfmt"
	"vmkernel/kernel/mm"
)

var (
	// ErrInvalidSharedSize is returned by InitPaging when the shared
	// region cannot be mapped by a single page table.
	ErrInvalidSharedSize = &kernel.Error{Module: "vmm", Message: "shared region size must be a non-zero, page-aligned size that fits a single page table"}

	// ErrNoPageTableLoaded is returned when paging is enabled before a
	// page table is loaded.
	ErrNoPageTableLoaded = &kernel.Error{Module: "vmm", Message: "no page table loaded"}

	// ErrPageTableNotLoaded is returned by operations that modify mappings
	// through a page table that is not the currently loaded one.
	ErrPageTableNotLoaded = &kernel.Error{Module: "vmm", Message: "page table is not the currently loaded page table"}
)

// FramePool is a source of contiguous physical frames.
type FramePool interface {
	GetFrames(n uint32) (mm.Frame, *kernel.Error)
}

// FrameReleaser returns a previously allocated frame sequence to whichever
// pool owns it.
type FrameReleaser interface {
	ReleaseFrames(firstFrame mm.Frame) *kernel.Error
}

// Paging holds the state shared by all page tables of the machine.
type Paging struct {
	cpu *cpu.CPU

	frames      FrameReleaser
	kernelPool  FramePool
	processPool FramePool
	sharedSize  uintptr

	resolver      Resolver
	current       *PageTable
	pagingEnabled bool

	pools []*VMPool
}

// InitPaging records the frame sources used for page table construction
// (kernelPool) and demand paging (processPool) together with the size of
// the identity-mapped shared region, and installs the page fault handler
// on the CPU's interrupt gate table.
func InitPaging(c *cpu.CPU, frames FrameReleaser, kernelPool, processPool FramePool, sharedSize uintptr) (*Paging, *kernel.Error) {
	if sharedSize == 0 || sharedSize&(mm.PageSize-1) != 0 || sharedSize > maxSharedSize {
		return nil, ErrInvalidSharedSize
	}

	p := &Paging{
		cpu:         c,
		frames:      frames,
		kernelPool:  kernelPool,
		processPool: processPool,
		sharedSize:  sharedSize,
		resolver:    RecursiveResolver{},
	}

	c.IDT().HandleInterrupt(gate.PageFaultException, p.pageFaultHandler)

	kfmt.Printf("[vmm] paging initialized; shared region: %d KiB\n", sharedSize>>10)
	return p, nil
}

// SetResolver changes the strategy used to reach page table entries.
func (p *Paging) SetResolver(r Resolver) {
	p.resolver = r
}

// Current returns the loaded page table or nil if no table was loaded yet.
func (p *Paging) Current() *PageTable { return p.current }

// PagingEnabled returns true once EnablePaging has succeeded.
func (p *Paging) PagingEnabled() bool { return p.pagingEnabled }

// Pools returns the registered virtual memory pools in registration order.
func (p *Paging) Pools() []*VMPool { return p.pools }

// EnablePaging turns on address translation. A page table must have been
// loaded first. Calling EnablePaging again is a no-op.
func (p *Paging) EnablePaging() *kernel.Error {
	if p.current == nil {
		return ErrNoPageTableLoaded
	}

	if p.pagingEnabled {
		return nil
	}

	p.pagingEnabled = true
	p.cpu.EnablePaging()
	kfmt.Printf("[vmm] paging enabled\n")
	return nil
}

// RegisterPool appends pool to the registry consulted by the page fault
// handler.
func (p *Paging) RegisterPool(pool *VMPool) {
	p.pools = append(p.pools, pool)
	kfmt.Printf("[vmm] registered pool [0x%08x - 0x%08x)\n", pool.base, pool.base+pool.size)
}

// isLegitimate returns true if any registered pool claims virtAddr.
func (p *Paging) isLegitimate(virtAddr uintptr) bool {
	for _, pool := range p.pools {
		if pool.IsLegitimate(virtAddr) {
			return true
		}
	}

	return false
}

// Translate returns the physical address that corresponds to the supplied
// virtual address in the loaded page table or ErrInvalidMapping if the
// virtual address does not correspond to a mapped physical address.
func (p *Paging) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	var leaf *pageTableEntry

	err := p.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == pageLevels-1 {
			leaf = pte
		}
		return true
	})

	switch {
	case err != nil:
		return 0, err
	case leaf == nil:
		return 0, ErrInvalidMapping
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return leaf.Frame().Address() + PageOffset(virtAddr), nil
}
