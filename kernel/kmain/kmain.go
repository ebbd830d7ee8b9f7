// Package kmain wires the physical and virtual memory managers of the
// simulated machine together and drives them.
package kmain

import (
	"vmkernel/kernel"
	"vmkernel/kernel/cpu"
	"vmkernel/kernel/gate"
	"vmkernel/kernel/kfmt"
	"vmkernel/kernel/mm/physmem"
	"vmkernel/kernel/mm/pmm"
	"vmkernel/kernel/mm/vmm"
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// System holds the components brought up by Boot.
type System struct {
	Config Config

	Memory *physmem.Memory
	IDT    *gate.Table
	CPU    *cpu.CPU

	Frames      *pmm.BitmapAllocator
	KernelPool  *pmm.FramePool
	ProcessPool *pmm.FramePool

	Paging    *vmm.Paging
	PageTable *vmm.PageTable
	CodePool  *vmm.VMPool
	HeapPool  *vmm.VMPool
}

// Boot brings up the machine described by cfg: physical memory, the
// processor, both frame pools, paging with a single loaded page table and
// the code and heap virtual memory pools.
func Boot(cfg Config) (*System, *kernel.Error) {
	mem, err := physmem.New(cfg.MemorySize)
	if err != nil {
		return nil, err
	}

	sys := &System{
		Config: cfg,
		Memory: mem,
		IDT:    new(gate.Table),
		Frames: pmm.NewBitmapAllocator(mem),
	}
	sys.CPU = cpu.New(mem, sys.IDT)
	kfmt.Printf("[kmain] installed %d KiB of physical memory\n", uint64(mem.Size())>>10)

	if err = sys.initFramePools(); err != nil {
		_ = mem.Close()
		return nil, err
	}

	if err = sys.initPaging(); err != nil {
		_ = mem.Close()
		return nil, err
	}

	return sys, nil
}

func (sys *System) initFramePools() *kernel.Error {
	var (
		cfg = sys.Config
		err *kernel.Error
	)

	if sys.KernelPool, err = sys.Frames.NewPool(cfg.KernelPoolBase, cfg.KernelPoolFrames, 0); err != nil {
		return err
	}

	infoFrame, err := sys.KernelPool.GetFrames(pmm.NeededInfoFrames(cfg.ProcessPoolFrames))
	if err != nil {
		return err
	}

	if sys.ProcessPool, err = sys.Frames.NewPool(cfg.ProcessPoolBase, cfg.ProcessPoolFrames, infoFrame); err != nil {
		return err
	}

	if cfg.HoleFrames != 0 {
		if err = sys.ProcessPool.MarkInaccessible(cfg.HoleBase, cfg.HoleFrames); err != nil {
			return err
		}
		kfmt.Printf("[kmain] marked %d frames starting at frame %d inaccessible\n", cfg.HoleFrames, cfg.HoleBase)
	}

	return nil
}

func (sys *System) initPaging() *kernel.Error {
	var (
		cfg = sys.Config
		err *kernel.Error
	)

	if sys.Paging, err = vmm.InitPaging(sys.CPU, sys.Frames, sys.KernelPool, sys.ProcessPool, cfg.SharedSize); err != nil {
		return err
	}

	if cfg.PhysicalResolver {
		sys.Paging.SetResolver(vmm.PhysicalResolver{})
	}

	if sys.PageTable, err = sys.Paging.NewPageTable(); err != nil {
		return err
	}

	sys.PageTable.Load()
	if err = sys.Paging.EnablePaging(); err != nil {
		return err
	}

	if sys.CodePool, err = vmm.NewVMPool(cfg.CodePoolBase, cfg.CodePoolSize, sys.ProcessPool, sys.PageTable); err != nil {
		return err
	}

	if sys.HeapPool, err = vmm.NewVMPool(cfg.HeapPoolBase, cfg.HeapPoolSize, sys.ProcessPool, sys.PageTable); err != nil {
		return err
	}

	return nil
}

// Close releases the physical memory backing the system.
func (sys *System) Close() *kernel.Error {
	return sys.Memory.Close()
}

// Kmain boots the machine described by cfg, exercises its virtual memory
// pools and shuts it down. Any failure causes a kernel panic.
func Kmain(cfg Config) {
	sys, err := Boot(cfg)
	if err != nil {
		panicFn(err)
		return
	}
	defer sys.Close()

	report, err := Exercise(sys, kfmt.GetOutputSink())
	if err != nil {
		panicFn(err)
		return
	}

	kfmt.Printf("[kmain] exercise complete: %s\n", report)
}
