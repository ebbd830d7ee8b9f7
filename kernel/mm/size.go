package mm

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// Frames returns the number of frames needed to hold a block of this size.
func (s Size) Frames() uint32 {
	return uint32(PageCount(uintptr(s)))
}
