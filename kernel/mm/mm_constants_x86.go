package mm

const (
	// PointerShift is equal to log2 of the size of a page table entry. The
	// paging hardware modeled by this kernel uses 32-bit entries.
	PointerShift = uintptr(2)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// EntriesPerTable is the number of entries that fit in a single page
	// directory or page table frame.
	EntriesPerTable = PageSize >> PointerShift
)
