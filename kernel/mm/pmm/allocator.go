// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"vmkernel/kernel"
	"vmkernel/kernel/kfmt"
	"vmkernel/kernel/mm"
	"vmkernel/kernel/mm/physmem"
)

// BitmapAllocator keeps track of every frame pool created for a particular
// physical memory. Pools are appended when they are created and are never
// removed, which allows frames to be released by frame number alone.
type BitmapAllocator struct {
	mem   *physmem.Memory
	pools []*FramePool
}

// NewBitmapAllocator returns an allocator without any pools for the
// supplied physical memory.
func NewBitmapAllocator(mem *physmem.Memory) *BitmapAllocator {
	return &BitmapAllocator{mem: mem}
}

// NewPool creates a frame pool for the frames [baseFrame, baseFrame+nFrames)
// and registers it with the allocator.
//
// The pool state table is stored at infoFrame. If infoFrame is 0, the pool
// hosts its own state table in its first NeededInfoFrames(nFrames) frames
// and marks them as allocated. When an external infoFrame is used, the caller
// is responsible for reserving it from the pool that owns it.
func (alloc *BitmapAllocator) NewPool(baseFrame mm.Frame, nFrames uint32, infoFrame mm.Frame) (*FramePool, *kernel.Error) {
	if nFrames == 0 || nFrames%8 != 0 {
		return nil, ErrInvalidFrameCount
	}

	if !alloc.mem.Contains(baseFrame.Address(), uintptr(nFrames)<<mm.PageShift) {
		return nil, ErrInvalidRange
	}

	for _, other := range alloc.pools {
		if baseFrame < other.baseFrame+mm.Frame(other.frameCount) && other.baseFrame < baseFrame+mm.Frame(nFrames) {
			return nil, ErrInvalidRange
		}
	}

	var (
		infoFrameCount = NeededInfoFrames(nFrames)
		selfHosted     = infoFrame == 0
	)

	if selfHosted {
		infoFrame = baseFrame
	}

	states := alloc.mem.Bytes(infoFrame.Address(), uintptr(nFrames/framesPerStateByte))
	if states == nil {
		return nil, ErrInvalidRange
	}
	kernel.Memset(states, 0)

	pool := &FramePool{
		alloc:      alloc,
		baseFrame:  baseFrame,
		frameCount: nFrames,
		freeCount:  nFrames,
		infoFrame:  infoFrame,
		states:     stateTable(states),
	}

	if selfHosted {
		for index := uint32(0); index < infoFrameCount; index++ {
			pool.states.set(index, StateAllocated)
		}
		pool.freeCount -= infoFrameCount
	}

	alloc.pools = append(alloc.pools, pool)

	kfmt.Printf("[pmm] pool [0x%08x - 0x%08x] frames: %d free: %d state table at frame %d\n",
		baseFrame.Address(), (baseFrame + mm.Frame(nFrames)).Address()-1, nFrames, pool.freeCount, infoFrame,
	)

	return pool, nil
}

// ReleaseFrames locates the pool that owns firstFrame and releases the run
// of frames that starts there.
func (alloc *BitmapAllocator) ReleaseFrames(firstFrame mm.Frame) *kernel.Error {
	pool := alloc.PoolFor(firstFrame)
	if pool == nil {
		kfmt.Printf("[pmm] frame %d does not belong to any pool\n", firstFrame)
		return ErrInvalidRange
	}

	return pool.releaseRun(uint32(firstFrame - pool.baseFrame))
}

// PoolFor returns the pool that manages frame or nil if no registered pool
// contains it.
func (alloc *BitmapAllocator) PoolFor(frame mm.Frame) *FramePool {
	for _, pool := range alloc.pools {
		if pool.Contains(frame) {
			return pool
		}
	}

	return nil
}

// Pools returns the registered pools in registration order.
func (alloc *BitmapAllocator) Pools() []*FramePool {
	return alloc.pools
}

// TotalFrames returns the number of frames managed across all pools.
func (alloc *BitmapAllocator) TotalFrames() uint32 {
	var total uint32
	for _, pool := range alloc.pools {
		total += pool.frameCount
	}
	return total
}

// FreeFrames returns the number of free frames across all pools.
func (alloc *BitmapAllocator) FreeFrames() uint32 {
	var free uint32
	for _, pool := range alloc.pools {
		free += pool.freeCount
	}
	return free
}
