package mm

import "testing"

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := uintptr(frameIndex<<PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}

	invalidFrame := InvalidFrame
	if invalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestFrameAndPageFromAddress(t *testing.T) {
	specs := []struct {
		input uintptr
		exp   uintptr
	}{
		{0, 0},
		{4095, 0},
		{4096, 1},
		{4123, 1},
		{0xfffff000, 0xfffff},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != Frame(spec.exp) {
			t.Errorf("[spec %d] expected returned frame to be %v; got %v", specIndex, spec.exp, got)
		}

		if got := PageFromAddress(spec.input); got != Page(spec.exp) {
			t.Errorf("[spec %d] expected returned page to be %v; got %v", specIndex, spec.exp, got)
		}
	}
}

func TestPageAlign(t *testing.T) {
	specs := []struct {
		size     uintptr
		expAlign uintptr
		expCount uintptr
	}{
		{0, 0, 0},
		{1, PageSize, 1},
		{PageSize, PageSize, 1},
		{PageSize + 1, 2 * PageSize, 2},
		{4097, 8192, 2},
	}

	for specIndex, spec := range specs {
		if got := PageAlign(spec.size); got != spec.expAlign {
			t.Errorf("[spec %d] expected PageAlign(%d) to return %d; got %d", specIndex, spec.size, spec.expAlign, got)
		}

		if got := PageCount(spec.size); got != spec.expCount {
			t.Errorf("[spec %d] expected PageCount(%d) to return %d; got %d", specIndex, spec.size, spec.expCount, got)
		}
	}
}

func TestSizeFrames(t *testing.T) {
	if exp, got := uint32(1024), (4 * Mb).Frames(); got != exp {
		t.Errorf("expected 4Mb to span %d frames; got %d", exp, got)
	}
}
