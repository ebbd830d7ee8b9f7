package pmm

import (
	"vmkernel/kernel"
	"vmkernel/kernel/kfmt"
	"vmkernel/kernel/mm"
)

var (
	// ErrOutOfFrames is returned when a pool cannot satisfy a request for
	// a contiguous run of frames.
	ErrOutOfFrames = &kernel.Error{Module: "pmm", Message: "no contiguous run of free frames large enough to satisfy request"}

	// ErrInvalidRange is returned when a frame range falls outside the
	// pool (or the installed memory) it is applied to.
	ErrInvalidRange = &kernel.Error{Module: "pmm", Message: "frame range outside pool bounds"}

	// ErrNotHeadOfSequence is returned when releasing a frame that does
	// not start an allocated run.
	ErrNotHeadOfSequence = &kernel.Error{Module: "pmm", Message: "release of a non-head frame"}

	// ErrInvalidFrameCount is returned when creating a pool whose frame
	// count is zero or not a multiple of 8.
	ErrInvalidFrameCount = &kernel.Error{Module: "pmm", Message: "pool frame count must be a non-zero multiple of 8"}
)

// FramePool manages a contiguous range of physical frames. The pool tracks
// the state of each frame in a state table that lives in physical memory,
// either inside the pool itself or inside frames supplied by the caller.
type FramePool struct {
	alloc *BitmapAllocator

	// baseFrame is the frame number for the first frame in this pool.
	// Each state table entry i corresponds to frame (baseFrame + i).
	baseFrame mm.Frame

	// frameCount is the total number of frames managed by the pool.
	frameCount uint32

	// freeCount tracks the number of frames in the StateFree state.
	freeCount uint32

	// infoFrame is the first frame of the state table.
	infoFrame mm.Frame

	states stateTable
}

// BaseFrame returns the first frame managed by the pool.
func (p *FramePool) BaseFrame() mm.Frame { return p.baseFrame }

// TotalFrames returns the number of frames managed by the pool.
func (p *FramePool) TotalFrames() uint32 { return p.frameCount }

// FreeFrames returns the number of frames that are currently free.
func (p *FramePool) FreeFrames() uint32 { return p.freeCount }

// InfoFrame returns the first frame of the pool's state table.
func (p *FramePool) InfoFrame() mm.Frame { return p.infoFrame }

// Contains returns true if frame is managed by this pool.
func (p *FramePool) Contains(frame mm.Frame) bool {
	return frame >= p.baseFrame && frame < p.baseFrame+mm.Frame(p.frameCount)
}

// State returns the allocation state of frame or StateInvalid if the frame
// does not belong to this pool.
func (p *FramePool) State(frame mm.Frame) FrameState {
	if !p.Contains(frame) {
		return StateInvalid
	}

	return p.states.get(uint32(frame - p.baseFrame))
}

// GetFrames reserves a contiguous run of n frames and returns the first
// frame of the run. The pool is scanned first-fit from its lowest frame.
func (p *FramePool) GetFrames(n uint32) (mm.Frame, *kernel.Error) {
	if n == 0 || n > p.frameCount || n > p.freeCount {
		kfmt.Printf("[pmm] request for %d frames exceeds available frames (%d free)\n", n, p.freeCount)
		return mm.InvalidFrame, ErrOutOfFrames
	}

	for start := uint32(0); start <= p.frameCount-n; {
		blocked, ok := p.findBlocked(start, n)
		if !ok {
			p.markRun(start, n)
			return p.baseFrame + mm.Frame(start), nil
		}

		// No run starting at or before the blocked frame can fit
		start = blocked + 1
	}

	kfmt.Printf("[pmm] no contiguous run of %d frames (%d free)\n", n, p.freeCount)
	return mm.InvalidFrame, ErrOutOfFrames
}

// findBlocked returns the index of the last non-free frame in the window
// [start, start+n) and true, or false if the whole window is free.
func (p *FramePool) findBlocked(start, n uint32) (uint32, bool) {
	for index := start + n; index > start; index-- {
		if p.states.get(index-1) != StateFree {
			return index - 1, true
		}
	}

	return 0, false
}

// MarkInaccessible reserves the n frames starting at baseFrame so they are
// never handed out by GetFrames. The range is marked exactly like an
// allocation, with baseFrame as its head. The caller must ensure that all
// frames in the range are free; this is not verified.
func (p *FramePool) MarkInaccessible(baseFrame mm.Frame, n uint32) *kernel.Error {
	if baseFrame < p.baseFrame || uint64(baseFrame)+uint64(n) > uint64(p.baseFrame)+uint64(p.frameCount) {
		return ErrInvalidRange
	}

	if n != 0 {
		p.markRun(uint32(baseFrame-p.baseFrame), n)
	}

	return nil
}

// ReleaseFrames releases the run of frames that starts at firstFrame. The
// run may belong to any pool registered with the same allocator.
func (p *FramePool) ReleaseFrames(firstFrame mm.Frame) *kernel.Error {
	return p.alloc.ReleaseFrames(firstFrame)
}

func (p *FramePool) markRun(start, n uint32) {
	p.states.set(start, StateHeadOfSequence)
	for index := start + 1; index < start+n; index++ {
		p.states.set(index, StateAllocated)
	}
	p.freeCount -= n
}

// releaseRun frees the head frame at index and every following frame up to
// the next free or head-of-sequence frame.
func (p *FramePool) releaseRun(index uint32) *kernel.Error {
	if p.states.get(index) != StateHeadOfSequence {
		kfmt.Printf("[pmm] frame %d is not the head of an allocated run\n", uint32(p.baseFrame)+index)
		return ErrNotHeadOfSequence
	}

	p.states.set(index, StateFree)
	p.freeCount++

	for index++; index < p.frameCount && p.states.get(index) == StateAllocated; index++ {
		p.states.set(index, StateFree)
		p.freeCount++
	}

	return nil
}
