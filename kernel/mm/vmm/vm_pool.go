package vmm

import (
	"vmkernel/kernel"
	"vmkernel/kernel/kfmt"
	"vmkernel/kernel/mm"
)

const (
	// regionDescriptorSize is the size of a single region descriptor
	// (base and size) when stored in a page-sized region table.
	regionDescriptorSize = 8

	// MaxRegions is the default number of regions that a VMPool can track.
	MaxRegions = int(mm.PageSize / regionDescriptorSize)

	// NoAllocation is returned by Allocate for zero-sized requests.
	NoAllocation = uintptr(0)
)

var (
	// ErrRegionCapacityExceeded is returned when a pool already tracks
	// the maximum number of regions.
	ErrRegionCapacityExceeded = &kernel.Error{Module: "vmm", Message: "virtual memory pool region table is full"}

	// ErrRegionNotFound is returned when releasing an address that is not
	// the start of an allocated region.
	ErrRegionNotFound = &kernel.Error{Module: "vmm", Message: "address does not start an allocated region"}

	// ErrWindowExhausted is returned when the remaining virtual address
	// space of a pool cannot fit the requested region.
	ErrWindowExhausted = &kernel.Error{Module: "vmm", Message: "remaining pool address space not large enough to satisfy allocation request"}

	errInvalidWindow   = &kernel.Error{Module: "vmm", Message: "pool window must be non-empty and fit the 32-bit address space"}
	errInvalidCapacity = &kernel.Error{Module: "vmm", Message: "pool region capacity must be positive"}
)

// Region describes a page-aligned range of virtual addresses handed out by
// a VMPool.
type Region struct {
	Base uintptr
	Size uintptr
}

// End returns the first address past the region.
func (r Region) End() uintptr { return r.Base + r.Size }

// VMPool manages a window of virtual addresses. Regions are carved out of
// the window in increasing address order; no memory is committed until the
// region is touched and the page fault handler backs it with frames.
type VMPool struct {
	base, size uintptr
	framePool  FramePool
	pageTable  *PageTable

	regions    []Region
	maxRegions int
}

// NewVMPool creates a pool for the window [base, base+size) that can track
// up to MaxRegions regions and registers it with pageTable.
func NewVMPool(base, size uintptr, framePool FramePool, pageTable *PageTable) (*VMPool, *kernel.Error) {
	return NewVMPoolWithCapacity(base, size, framePool, pageTable, MaxRegions)
}

// NewVMPoolWithCapacity behaves like NewVMPool but limits the number of
// regions to maxRegions.
func NewVMPoolWithCapacity(base, size uintptr, framePool FramePool, pageTable *PageTable, maxRegions int) (*VMPool, *kernel.Error) {
	if base > addressMask || size == 0 || size-1 > addressMask-base {
		return nil, errInvalidWindow
	}

	if maxRegions <= 0 {
		return nil, errInvalidCapacity
	}

	pool := &VMPool{
		base:       base,
		size:       size,
		framePool:  framePool,
		pageTable:  pageTable,
		regions:    make([]Region, 0, maxRegions),
		maxRegions: maxRegions,
	}

	pageTable.RegisterPool(pool)
	return pool, nil
}

// Base returns the first address of the pool window.
func (vp *VMPool) Base() uintptr { return vp.base }

// Size returns the size of the pool window in bytes.
func (vp *VMPool) Size() uintptr { return vp.size }

// FramePool returns the frame source associated with this pool.
func (vp *VMPool) FramePool() FramePool { return vp.framePool }

// PageTable returns the page table that maps this pool.
func (vp *VMPool) PageTable() *PageTable { return vp.pageTable }

// Regions returns the allocated regions in ascending address order.
func (vp *VMPool) Regions() []Region { return vp.regions }

// Allocate reserves a region of at least size bytes and returns its start
// address. The size is rounded up to whole pages and the region is placed
// right after the last allocated region. Zero-sized requests return
// NoAllocation.
func (vp *VMPool) Allocate(size uintptr) (uintptr, *kernel.Error) {
	if size == 0 {
		return NoAllocation, nil
	}

	if len(vp.regions) >= vp.maxRegions {
		return 0, ErrRegionCapacityExceeded
	}

	alignedSize := mm.PageAlign(size)
	if alignedSize < size {
		return 0, ErrWindowExhausted
	}

	start := vp.base
	if last := len(vp.regions) - 1; last >= 0 {
		start = vp.regions[last].End()
	}

	if alignedSize > vp.base+vp.size-start {
		return 0, ErrWindowExhausted
	}

	vp.regions = append(vp.regions, Region{Base: start, Size: alignedSize})
	return start, nil
}

// Release frees every page of the region that starts at startAddr, removes
// the region from the pool and reloads the page table so that no stale
// translations survive. The pool's page table must be loaded.
func (vp *VMPool) Release(startAddr uintptr) *kernel.Error {
	if !vp.pageTable.IsLoaded() {
		return ErrPageTableNotLoaded
	}

	index := vp.regionIndex(startAddr)
	if index < 0 {
		return ErrRegionNotFound
	}

	region := vp.regions[index]
	for page := uintptr(0); page < mm.PageCount(region.Size); page++ {
		pageAddr := region.Base + page<<mm.PageShift
		if err := vp.pageTable.FreePage(pageAddr); err != nil {
			kfmt.Printf("[vmm] unable to free page 0x%08x of region 0x%08x: %s\n", pageAddr, region.Base, err.Error())
			return err
		}
	}

	vp.regions = append(vp.regions[:index], vp.regions[index+1:]...)
	vp.pageTable.Load()
	return nil
}

// regionIndex returns the index of the region starting at addr or -1.
func (vp *VMPool) regionIndex(addr uintptr) int {
	for index, region := range vp.regions {
		if region.Base == addr {
			return index
		}
	}

	return -1
}

// IsLegitimate returns true if addr lies inside the pool window.
func (vp *VMPool) IsLegitimate(addr uintptr) bool {
	return addr >= vp.base && addr-vp.base < vp.size
}
