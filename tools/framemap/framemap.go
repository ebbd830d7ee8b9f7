package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"vmkernel/kernel/kfmt"
	"vmkernel/kernel/kmain"
	"vmkernel/kernel/mm"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[framemap] error: %s\n", err.Error())
	os.Exit(1)
}

// populate allocates count regions of growing size in the heap pool and
// touches every page so that the frame map shows committed memory.
func populate(sys *kmain.System, count int) error {
	for n := 1; n <= count; n++ {
		size := uintptr(n) * mm.PageSize
		start, err := sys.HeapPool.Allocate(size)
		if err != nil {
			return err
		}

		for addr := start; addr < start+size; addr += mm.PageSize {
			if err = sys.CPU.WriteUint8(addr, byte(n)); err != nil {
				return err
			}
		}
	}

	return nil
}

func runTool() error {
	regions := flag.Int("regions", 16, "number of heap regions to allocate and touch before rendering")
	columns := flag.Int("columns", 128, "number of frame cells per row")
	cellSize := flag.Int("cell", 4, "size of each frame cell in pixels")
	verbose := flag.Bool("v", false, "print kernel log output to STDERR")
	output := flag.String("out", "framemap.png", "the PNG file to write the frame map to or - to output to STDOUT")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: framemap [options]")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *columns <= 0 || *cellSize <= 0 {
		return errors.New("columns and cell size must be positive")
	}

	if *verbose {
		kfmt.SetOutputSink(os.Stderr)
	}

	sys, kerr := kmain.Boot(kmain.DefaultConfig())
	if kerr != nil {
		return kerr
	}
	defer sys.Close()

	if err := populate(sys, *regions); err != nil {
		return err
	}

	dc := renderFrameMap(sys.Frames.Pools(), layout{columns: *columns, cellSize: *cellSize})

	var w io.Writer = os.Stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	return dc.EncodePNG(w)
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
