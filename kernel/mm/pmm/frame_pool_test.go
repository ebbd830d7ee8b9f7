package pmm

import (
	"testing"
	"vmkernel/kernel/mm"
	"vmkernel/kernel/mm/physmem"

	"github.com/NebulousLabs/fastrand"
)

const (
	testBaseFrame = mm.Frame(100)
	testInfoFrame = mm.Frame(10)
	testPoolSize  = uint32(1024)
)

func newTestMemory(t *testing.T) *physmem.Memory {
	mem, err := physmem.New(8 * mm.Mb)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mem.Close() })
	return mem
}

func newTestPool(t *testing.T) (*BitmapAllocator, *FramePool) {
	alloc := NewBitmapAllocator(newTestMemory(t))
	pool, err := alloc.NewPool(testBaseFrame, testPoolSize, testInfoFrame)
	if err != nil {
		t.Fatal(err)
	}
	return alloc, pool
}

// countFree counts the free frames by inspecting the state table.
func countFree(pool *FramePool) uint32 {
	var free uint32
	for frame := pool.BaseFrame(); frame < pool.BaseFrame()+mm.Frame(pool.TotalFrames()); frame++ {
		if pool.State(frame) == StateFree {
			free++
		}
	}
	return free
}

func assertRun(t *testing.T, pool *FramePool, first mm.Frame, n uint32) {
	t.Helper()

	if got := pool.State(first); got != StateHeadOfSequence {
		t.Fatalf("expected frame %d to be %s; got %s", first, StateHeadOfSequence, got)
	}

	for frame := first + 1; frame < first+mm.Frame(n); frame++ {
		if got := pool.State(frame); got != StateAllocated {
			t.Fatalf("expected frame %d to be %s; got %s", frame, StateAllocated, got)
		}
	}
}

func TestGetFramesScenario(t *testing.T) {
	_, pool := newTestPool(t)

	specs := []struct {
		n        uint32
		expFrame mm.Frame
	}{
		{3, 100},
		{5, 103},
	}

	for specIndex, spec := range specs {
		frame, err := pool.GetFrames(spec.n)
		if err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}

		if frame != spec.expFrame {
			t.Fatalf("[spec %d] expected GetFrames(%d) to return frame %d; got %d", specIndex, spec.n, spec.expFrame, frame)
		}
	}

	if err := pool.ReleaseFrames(100); err != nil {
		t.Fatal(err)
	}

	for frame := mm.Frame(100); frame < 103; frame++ {
		if got := pool.State(frame); got != StateFree {
			t.Fatalf("expected frame %d to be released; got %s", frame, got)
		}
	}
	assertRun(t, pool, 103, 5)

	frame, err := pool.GetFrames(3)
	if err != nil {
		t.Fatal(err)
	}

	if frame != 100 {
		t.Fatalf("expected first-fit allocation to reuse frame 100; got %d", frame)
	}
}

func TestGetFramesAccounting(t *testing.T) {
	_, pool := newTestPool(t)

	for _, n := range []uint32{1, 7, 64, 3, 200} {
		freeBefore := pool.FreeFrames()

		frame, err := pool.GetFrames(n)
		if err != nil {
			t.Fatal(err)
		}

		assertRun(t, pool, frame, n)

		if exp, got := freeBefore-n, pool.FreeFrames(); got != exp {
			t.Fatalf("expected free frame count to drop to %d; got %d", exp, got)
		}

		if got := countFree(pool); got != pool.FreeFrames() {
			t.Fatalf("expected free counter %d to match state table count %d", pool.FreeFrames(), got)
		}
	}
}

func TestGetFramesErrors(t *testing.T) {
	t.Run("invalid request sizes", func(t *testing.T) {
		_, pool := newTestPool(t)

		for _, n := range []uint32{0, testPoolSize + 1} {
			if frame, err := pool.GetFrames(n); err != ErrOutOfFrames || frame.Valid() {
				t.Errorf("expected GetFrames(%d) to return an invalid frame and error %v; got %d, %v", n, ErrOutOfFrames, frame, err)
			}
		}
	})

	t.Run("more than free frames", func(t *testing.T) {
		_, pool := newTestPool(t)

		if _, err := pool.GetFrames(testPoolSize - 4); err != nil {
			t.Fatal(err)
		}

		if _, err := pool.GetFrames(5); err != ErrOutOfFrames {
			t.Fatalf("expected error %v; got %v", ErrOutOfFrames, err)
		}
	})

	t.Run("fragmented pool", func(t *testing.T) {
		_, pool := newTestPool(t)

		// Allocate every frame in pairs and release every other pair so
		// that half of the pool is free but no run longer than 2 exists.
		var heads []mm.Frame
		for i := uint32(0); i < testPoolSize/2; i++ {
			frame, err := pool.GetFrames(2)
			if err != nil {
				t.Fatal(err)
			}
			heads = append(heads, frame)
		}

		for i := 0; i < len(heads); i += 2 {
			if err := pool.ReleaseFrames(heads[i]); err != nil {
				t.Fatal(err)
			}
		}

		if exp, got := testPoolSize/2, pool.FreeFrames(); got != exp {
			t.Fatalf("expected %d free frames; got %d", exp, got)
		}

		if _, err := pool.GetFrames(3); err != ErrOutOfFrames {
			t.Fatalf("expected error %v; got %v", ErrOutOfFrames, err)
		}

		if frame, err := pool.GetFrames(2); err != nil || frame != heads[0] {
			t.Fatalf("expected GetFrames(2) to reuse frame %d; got %d, %v", heads[0], frame, err)
		}
	})

	t.Run("run at the end of the pool", func(t *testing.T) {
		_, pool := newTestPool(t)

		if _, err := pool.GetFrames(testPoolSize - 16); err != nil {
			t.Fatal(err)
		}

		frame, err := pool.GetFrames(16)
		if err != nil {
			t.Fatal(err)
		}

		if exp := testBaseFrame + mm.Frame(testPoolSize-16); frame != exp {
			t.Fatalf("expected frame %d; got %d", exp, frame)
		}

		if pool.FreeFrames() != 0 {
			t.Fatalf("expected pool to be exhausted; %d frames free", pool.FreeFrames())
		}
	})
}

func TestMarkInaccessible(t *testing.T) {
	_, pool := newTestPool(t)

	specs := []struct {
		base mm.Frame
		n    uint32
	}{
		{testBaseFrame - 1, 2},
		{testBaseFrame + mm.Frame(testPoolSize) - 1, 2},
		{testBaseFrame + mm.Frame(testPoolSize), 1},
	}

	for specIndex, spec := range specs {
		if err := pool.MarkInaccessible(spec.base, spec.n); err != ErrInvalidRange {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, ErrInvalidRange, err)
		}
	}

	if err := pool.MarkInaccessible(testBaseFrame, 0); err != nil {
		t.Fatal(err)
	}

	if err := pool.MarkInaccessible(testBaseFrame+2, 4); err != nil {
		t.Fatal(err)
	}

	assertRun(t, pool, testBaseFrame+2, 4)

	if exp, got := testPoolSize-4, pool.FreeFrames(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}

	// The 2 frames in front of the hole are too small for a 3-frame run
	frame, err := pool.GetFrames(3)
	if err != nil {
		t.Fatal(err)
	}

	if exp := testBaseFrame + 6; frame != exp {
		t.Fatalf("expected allocation to skip the inaccessible range and return frame %d; got %d", exp, frame)
	}

	if frame, err = pool.GetFrames(2); err != nil || frame != testBaseFrame {
		t.Fatalf("expected allocation to fill the gap in front of the inaccessible range; got %d, %v", frame, err)
	}
}

func TestReleaseFrames(t *testing.T) {
	t.Run("non-head frame", func(t *testing.T) {
		_, pool := newTestPool(t)

		frame, err := pool.GetFrames(4)
		if err != nil {
			t.Fatal(err)
		}

		for _, target := range []mm.Frame{frame + 1, frame + 4} {
			if err = pool.ReleaseFrames(target); err != ErrNotHeadOfSequence {
				t.Errorf("expected releasing frame %d to fail with %v; got %v", target, ErrNotHeadOfSequence, err)
			}
		}

		assertRun(t, pool, frame, 4)
	})

	t.Run("frame outside every pool", func(t *testing.T) {
		alloc, _ := newTestPool(t)

		if err := alloc.ReleaseFrames(testBaseFrame - 1); err != ErrInvalidRange {
			t.Fatalf("expected error %v; got %v", ErrInvalidRange, err)
		}
	})

	t.Run("adjacent runs", func(t *testing.T) {
		_, pool := newTestPool(t)

		first, _ := pool.GetFrames(3)
		second, _ := pool.GetFrames(3)
		freeBefore := pool.FreeFrames()

		if err := pool.ReleaseFrames(first); err != nil {
			t.Fatal(err)
		}

		if exp, got := freeBefore+3, pool.FreeFrames(); got != exp {
			t.Fatalf("expected %d free frames; got %d", exp, got)
		}

		assertRun(t, pool, second, 3)
	})

	t.Run("double release", func(t *testing.T) {
		_, pool := newTestPool(t)

		frame, _ := pool.GetFrames(2)
		if err := pool.ReleaseFrames(frame); err != nil {
			t.Fatal(err)
		}

		if err := pool.ReleaseFrames(frame); err != ErrNotHeadOfSequence {
			t.Fatalf("expected error %v; got %v", ErrNotHeadOfSequence, err)
		}
	})

	t.Run("run ending at the pool end", func(t *testing.T) {
		_, pool := newTestPool(t)

		frame, err := pool.GetFrames(testPoolSize)
		if err != nil {
			t.Fatal(err)
		}

		if err = pool.ReleaseFrames(frame); err != nil {
			t.Fatal(err)
		}

		if exp, got := testPoolSize, pool.FreeFrames(); got != exp {
			t.Fatalf("expected %d free frames; got %d", exp, got)
		}
	})
}

func TestRandomAllocationSequence(t *testing.T) {
	_, pool := newTestPool(t)

	type run struct {
		first mm.Frame
		n     uint32
	}

	var live []run
	for step := 0; step < 2000; step++ {
		if len(live) != 0 && fastrand.Intn(3) == 0 {
			victim := fastrand.Intn(len(live))
			freeBefore := pool.FreeFrames()

			if err := pool.ReleaseFrames(live[victim].first); err != nil {
				t.Fatalf("[step %d] unexpected error: %v", step, err)
			}

			if exp, got := freeBefore+live[victim].n, pool.FreeFrames(); got != exp {
				t.Fatalf("[step %d] expected %d free frames after release; got %d", step, exp, got)
			}

			live = append(live[:victim], live[victim+1:]...)
		} else {
			n := uint32(fastrand.Intn(16)) + 1
			frame, err := pool.GetFrames(n)
			switch err {
			case nil:
				assertRun(t, pool, frame, n)
				live = append(live, run{frame, n})
			case ErrOutOfFrames:
			default:
				t.Fatalf("[step %d] unexpected error: %v", step, err)
			}
		}

		if got := countFree(pool); got != pool.FreeFrames() {
			t.Fatalf("[step %d] expected free counter %d to match state table count %d", step, pool.FreeFrames(), got)
		}
	}
}
