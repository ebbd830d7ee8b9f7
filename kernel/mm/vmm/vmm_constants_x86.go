package vmm

import "vmkernel/kernel/mm"

const (
	// pageLevels indicates the number of page levels supported by the
	// 32-bit x86 architecture without PAE.
	pageLevels = 2

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-31 contain the physical memory address.
	ptePhysPageMask = uint32(0xfffff000)

	// addressMask truncates computed addresses to the 32-bit virtual
	// address space.
	addressMask = uintptr(0xffffffff)

	// pdtVirtualAddr is a special virtual address that exploits the
	// recursive mapping used in the last directory entry to allow
	// accessing the page directory using the MMU's own address
	// translation. By setting all page level bits to 1 the MMU keeps
	// following the last directory entry for all page levels landing on
	// the directory.
	pdtVirtualAddr = uintptr(0xfffff000)

	// selfMapIndex is the directory entry that points back to the
	// directory.
	selfMapIndex = mm.EntriesPerTable - 1

	// maxSharedSize is the largest shared region that can be mapped by the
	// single table allocated when a page table is constructed.
	maxSharedSize = mm.EntriesPerTable * mm.PageSize
)

var (
	// pageLevelBits defines the number of virtual address bits that
	// correspond to each page level. Each level uses 10 bits which
	// amounts to 1024 entries per table.
	pageLevelBits = [pageLevels]uint8{
		10,
		10,
	}

	// pageLevelShifts defines the shift required to access each page table component
	// of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		22,
		12,
	}
)

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty
)

// unusedEntry is written to table entries that do not map a frame. It is
// not present but user-reachable so it can be told apart from a zeroed
// (never initialized) entry.
const unusedEntry = pageTableEntry(FlagUserAccessible)
