package main

import (
	"fmt"
	"image/color"
	"vmkernel/kernel/mm"
	"vmkernel/kernel/mm/pmm"

	"github.com/fogleman/gg"
)

const (
	// margin around the map and between pools in pixels.
	margin = 8

	// labelHeight is the height of the caption printed above each pool.
	labelHeight = 16
)

var (
	backgroundColor = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
	labelColor      = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

	stateColors = map[pmm.FrameState]color.RGBA{
		pmm.StateFree:           {R: 0xd8, G: 0xd8, B: 0xd8, A: 0xff},
		pmm.StateAllocated:      {R: 0x33, G: 0x66, B: 0xcc, A: 0xff},
		pmm.StateHeadOfSequence: {R: 0xd8, G: 0x33, B: 0x33, A: 0xff},
	}
)

// layout describes the geometry of a rendered frame map.
type layout struct {
	columns  int
	cellSize int
}

// poolHeight returns the height in pixels needed to draw pool.
func (l layout) poolHeight(pool *pmm.FramePool) int {
	rows := (int(pool.TotalFrames()) + l.columns - 1) / l.columns
	return labelHeight + rows*l.cellSize
}

// cellOrigin returns the top-left corner of the cell for the frame at index
// inside a pool drawn at offset y.
func (l layout) cellOrigin(y, index int) (int, int) {
	return margin + (index%l.columns)*l.cellSize, y + labelHeight + (index/l.columns)*l.cellSize
}

// renderFrameMap draws every pool as a grid of cells, one per frame, coloured
// by the frame state.
func renderFrameMap(pools []*pmm.FramePool, l layout) *gg.Context {
	width, height := 2*margin+l.columns*l.cellSize, margin
	for _, pool := range pools {
		height += l.poolHeight(pool) + margin
	}

	dc := gg.NewContext(width, height)
	dc.SetColor(backgroundColor)
	dc.Clear()

	y := margin
	for _, pool := range pools {
		dc.SetColor(labelColor)
		dc.DrawString(poolCaption(pool), margin, float64(y+labelHeight-4))

		for index := 0; index < int(pool.TotalFrames()); index++ {
			x0, y0 := l.cellOrigin(y, index)
			dc.SetColor(stateColors[pool.State(pool.BaseFrame()+mm.Frame(index))])
			dc.DrawRectangle(float64(x0), float64(y0), float64(l.cellSize), float64(l.cellSize))
			dc.Fill()
		}

		y += l.poolHeight(pool) + margin
	}

	return dc
}

func poolCaption(pool *pmm.FramePool) string {
	first := pool.BaseFrame()
	return fmt.Sprintf("frames %d-%d: %d/%d free", first, first+mm.Frame(pool.TotalFrames())-1, pool.FreeFrames(), pool.TotalFrames())
}
