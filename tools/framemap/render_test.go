package main

import (
	"image/color"
	"strings"
	"testing"
	"vmkernel/kernel/kmain"
	"vmkernel/kernel/mm"
	"vmkernel/kernel/mm/physmem"
	"vmkernel/kernel/mm/pmm"
)

func TestRenderFrameMap(t *testing.T) {
	mem, err := physmem.New(mm.Mb)
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close()

	alloc := pmm.NewBitmapAllocator(mem)
	pool, err := alloc.NewPool(64, 64, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Frame 64 holds the state table; allocate frames 65-67
	if _, err = pool.GetFrames(3); err != nil {
		t.Fatal(err)
	}

	l := layout{columns: 16, cellSize: 4}
	img := renderFrameMap(alloc.Pools(), l).Image()

	if exp, got := 2*margin+16*4, img.Bounds().Dx(); got != exp {
		t.Fatalf("expected image width %d; got %d", exp, got)
	}

	if exp, got := 2*margin+labelHeight+4*4, img.Bounds().Dy(); got != exp {
		t.Fatalf("expected image height %d; got %d", exp, got)
	}

	specs := []struct {
		index int
		exp   color.RGBA
	}{
		{0, stateColors[pmm.StateAllocated]},
		{1, stateColors[pmm.StateHeadOfSequence]},
		{2, stateColors[pmm.StateAllocated]},
		{3, stateColors[pmm.StateAllocated]},
		{4, stateColors[pmm.StateFree]},
		{63, stateColors[pmm.StateFree]},
	}

	for _, spec := range specs {
		x, y := l.cellOrigin(margin, spec.index)
		r, g, b, a := img.At(x+l.cellSize/2, y+l.cellSize/2).RGBA()
		er, eg, eb, ea := spec.exp.RGBA()
		if r != er || g != eg || b != eb || a != ea {
			t.Errorf("expected cell %d to be %v; got (%d, %d, %d, %d)", spec.index, spec.exp, r>>8, g>>8, b>>8, a>>8)
		}
	}
}

func TestPoolCaption(t *testing.T) {
	mem, err := physmem.New(mm.Mb)
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close()

	pool, err := pmm.NewBitmapAllocator(mem).NewPool(64, 64, 0)
	if err != nil {
		t.Fatal(err)
	}

	if exp, got := "frames 64-127: 63/64 free", poolCaption(pool); got != exp {
		t.Fatalf("expected caption %q; got %q", exp, got)
	}
}

func TestPopulate(t *testing.T) {
	sys, err := kmain.Boot(kmain.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer sys.Close()

	freeBefore := sys.ProcessPool.FreeFrames()
	if err := populate(sys, 3); err != nil {
		t.Fatal(err)
	}

	// 1+2+3 data pages and a single page table
	if exp, got := freeBefore-7, sys.ProcessPool.FreeFrames(); got != exp {
		t.Fatalf("expected %d free process frames; got %d", exp, got)
	}

	img := renderFrameMap(sys.Frames.Pools(), layout{columns: 128, cellSize: 1}).Image()
	if img.Bounds().Dx() != 2*margin+128 {
		t.Fatalf("unexpected image width %d", img.Bounds().Dx())
	}

	if !strings.HasPrefix(poolCaption(sys.ProcessPool), "frames 1024-8191") {
		t.Fatalf("unexpected caption %q", poolCaption(sys.ProcessPool))
	}
}
