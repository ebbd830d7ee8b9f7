package kmain

import (
	"fmt"
	"io"
	"vmkernel/kernel"
	"vmkernel/kernel/kfmt"
	"vmkernel/kernel/mm"
	"vmkernel/kernel/mm/vmm"
)

var errPatternMismatch = &kernel.Error{Module: "kmain", Message: "memory contents do not match the written pattern"}

// Report summarizes a run of Exercise.
type Report struct {
	Regions      int
	PagesTouched int

	PageFaults uint64
	TLBFlushes uint64

	FreeFramesBefore uint32
	FreeFramesAfter  uint32
}

// String implements fmt.Stringer.
func (r Report) String() string {
	return fmt.Sprintf("regions: %d, pages touched: %d, page faults: %d, TLB flushes: %d, free frames: %d -> %d",
		r.Regions, r.PagesTouched, r.PageFaults, r.TLBFlushes, r.FreeFramesBefore, r.FreeFramesAfter,
	)
}

// Exercise allocates Config.ExerciseRegions regions of increasing size in
// the code and heap pools, writes a pattern to every page through the
// processor so that each page is demand paged, verifies the pattern and
// releases the regions again. Progress is written to w.
func Exercise(sys *System, w io.Writer) (Report, *kernel.Error) {
	report := Report{FreeFramesBefore: sys.Frames.FreeFrames()}
	faults, flushes := sys.CPU.FaultCount(), sys.CPU.TLBFlushCount()

	pools := []struct {
		name string
		pool *vmm.VMPool
	}{
		{"code", sys.CodePool},
		{"heap", sys.HeapPool},
	}

	for _, entry := range pools {
		regions, pages, err := exercisePool(sys, entry.pool, sys.Config.ExerciseRegions)
		if err != nil {
			kfmt.Fprintf(w, "[kmain] %s pool: %s\n", entry.name, err.Error())
			return report, err
		}

		report.Regions += regions
		report.PagesTouched += pages
		kfmt.Fprintf(w, "[kmain] %s pool: %d regions, %d pages touched\n", entry.name, regions, pages)
	}

	report.PageFaults = sys.CPU.FaultCount() - faults
	report.TLBFlushes = sys.CPU.TLBFlushCount() - flushes
	report.FreeFramesAfter = sys.Frames.FreeFrames()
	return report, nil
}

func exercisePool(sys *System, pool *vmm.VMPool, count int) (int, int, *kernel.Error) {
	var (
		starts []uintptr
		sizes  []uintptr
		pages  int
	)

	for n := 1; n <= count; n++ {
		// Sizes are not page multiples so the last page is partially used
		size := uintptr(n)*mm.PageSize + uintptr(n)*4
		start, err := pool.Allocate(size)
		if err != nil {
			return 0, 0, err
		}

		for _, addr := range touchAddrs(start, size) {
			if err = sys.CPU.WriteUint32(addr, pattern(addr)); err != nil {
				return 0, 0, err
			}
		}

		starts = append(starts, start)
		sizes = append(sizes, size)
		pages += int(mm.PageCount(size))
	}

	for index, start := range starts {
		for _, addr := range touchAddrs(start, sizes[index]) {
			value, err := sys.CPU.ReadUint32(addr)
			if err != nil {
				return 0, 0, err
			}

			if value != pattern(addr) {
				kfmt.Printf("[kmain] expected 0x%08x at 0x%08x; got 0x%08x\n", pattern(addr), addr, value)
				return 0, 0, errPatternMismatch
			}
		}
	}

	for _, start := range starts {
		if err := pool.Release(start); err != nil {
			return 0, 0, err
		}
	}

	return len(starts), pages, nil
}

// touchAddrs returns the address of the first word of each page in
// [start, start+size) followed by the address of the last word.
func touchAddrs(start, size uintptr) []uintptr {
	var addrs []uintptr
	for offset := uintptr(0); offset < size; offset += mm.PageSize {
		addrs = append(addrs, start+offset)
	}

	return append(addrs, start+size-4)
}

func pattern(addr uintptr) uint32 {
	return uint32(addr) ^ 0x5a5a5a5a
}
