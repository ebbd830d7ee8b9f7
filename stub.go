package main

import (
	"flag"
	"fmt"
	"os"
	"vmkernel/kernel/kfmt"
	"vmkernel/kernel/kmain"
	"vmkernel/kernel/mm"
)

// main parses the machine layout from the command line, attaches the
// console to STDOUT and hands control to the kernel entrypoint.
func main() {
	cfg := kmain.DefaultConfig()

	memMiB := flag.Uint("mem", uint(cfg.MemorySize/mm.Mb), "installed physical memory in MiB")
	sharedMiB := flag.Uint("shared", uint(cfg.SharedSize/uintptr(mm.Mb)), "size of the identity-mapped shared region in MiB")
	holeFrames := flag.Uint("hole-frames", uint(cfg.HoleFrames), "number of process pool frames starting at 15 MiB to mark inaccessible")
	regions := flag.Int("regions", cfg.ExerciseRegions, "number of regions to allocate in each virtual memory pool")
	physical := flag.Bool("physical-resolver", false, "access page table entries through physical memory instead of the recursive mapping")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: vmkernel [options]")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg.MemorySize = mm.Size(*memMiB) * mm.Mb
	cfg.SharedSize = uintptr(*sharedMiB) * uintptr(mm.Mb)
	cfg.HoleFrames = uint32(*holeFrames)
	cfg.ExerciseRegions = *regions
	cfg.PhysicalResolver = *physical

	kfmt.SetOutputSink(os.Stdout)
	kmain.Kmain(cfg)
}
