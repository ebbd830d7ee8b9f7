package pmm

import "vmkernel/kernel/mm"

// FrameState describes the allocation state of a single physical frame.
type FrameState uint8

const (
	// StateFree marks a frame that can be handed out by GetFrames.
	StateFree FrameState = iota

	// StateAllocated marks a reserved frame that is not the first frame
	// of its allocation.
	StateAllocated

	// StateHeadOfSequence marks the first frame of an allocation. Releasing
	// a run of frames always starts from a frame in this state.
	StateHeadOfSequence

	// StateInvalid is returned when querying the state of a frame that is
	// not managed by a pool. It is never stored in a state table.
	StateInvalid = FrameState(0xff)
)

const (
	// bitsPerFrameState is the number of state-table bits used to encode
	// the state of a single frame.
	bitsPerFrameState = 2

	// framesPerStateByte is the number of frame states packed in a byte.
	framesPerStateByte = 8 / bitsPerFrameState

	// bitsPerInfoFrame is the number of state-table bits that fit in a
	// single frame.
	bitsPerInfoFrame = uint64(mm.PageSize) * 8

	stateMask = (1 << bitsPerFrameState) - 1
)

// String implements fmt.Stringer.
func (s FrameState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateAllocated:
		return "allocated"
	case StateHeadOfSequence:
		return "head-of-sequence"
	default:
		return "invalid"
	}
}

// stateTable is a packed array of 2-bit frame states overlaid on top of
// the physical frames that hold it.
type stateTable []byte

func (t stateTable) get(index uint32) FrameState {
	shift := (index % framesPerStateByte) * bitsPerFrameState
	return FrameState((t[index/framesPerStateByte] >> shift) & stateMask)
}

func (t stateTable) set(index uint32, state FrameState) {
	var (
		shift = (index % framesPerStateByte) * bitsPerFrameState
		slot  = &t[index/framesPerStateByte]
	)

	*slot = (*slot &^ (stateMask << shift)) | byte(state)<<shift
}

// NeededInfoFrames returns the number of frames required to hold the state
// table of a pool that manages nFrames frames.
func NeededInfoFrames(nFrames uint32) uint32 {
	return uint32((uint64(nFrames)*bitsPerFrameState + bitsPerInfoFrame - 1) / bitsPerInfoFrame)
}
