package kmain

import "vmkernel/kernel/mm"

// Config describes the memory layout of the simulated machine.
type Config struct {
	// MemorySize is the amount of installed physical RAM.
	MemorySize mm.Size

	// The kernel pool hosts its own state table and supplies the frames
	// for page directories and the first page table of each address space.
	KernelPoolBase   mm.Frame
	KernelPoolFrames uint32

	// The process pool supplies demand-paged frames. Its state table is
	// allocated from the kernel pool.
	ProcessPoolBase   mm.Frame
	ProcessPoolFrames uint32

	// A range of process pool frames that must never be handed out.
	HoleBase   mm.Frame
	HoleFrames uint32

	// SharedSize is the size of the identity-mapped region at the start
	// of every address space.
	SharedSize uintptr

	CodePoolBase uintptr
	CodePoolSize uintptr
	HeapPoolBase uintptr
	HeapPoolSize uintptr

	// PhysicalResolver makes the page table code reach page table entries
	// through physical memory instead of the recursive directory mapping.
	PhysicalResolver bool

	// ExerciseRegions is the number of regions allocated in each pool by
	// Exercise.
	ExerciseRegions int
}

// DefaultConfig returns a 32 MiB machine with the kernel pool at 2-4 MiB,
// the process pool at 4-32 MiB, a hole at 15-16 MiB, a 4 MiB shared region
// and two 256 MiB virtual memory pools at 512 MiB and 1 GiB.
func DefaultConfig() Config {
	return Config{
		MemorySize: 32 * mm.Mb,

		KernelPoolBase:   mm.Frame((2 * mm.Mb).Frames()),
		KernelPoolFrames: (2 * mm.Mb).Frames(),

		ProcessPoolBase:   mm.Frame((4 * mm.Mb).Frames()),
		ProcessPoolFrames: (28 * mm.Mb).Frames(),

		HoleBase:   mm.Frame((15 * mm.Mb).Frames()),
		HoleFrames: mm.Mb.Frames(),

		SharedSize: uintptr(4 * mm.Mb),

		CodePoolBase: uintptr(512 * mm.Mb),
		CodePoolSize: uintptr(256 * mm.Mb),
		HeapPoolBase: uintptr(mm.Gb),
		HeapPoolSize: uintptr(256 * mm.Mb),

		ExerciseRegions: 8,
	}
}
