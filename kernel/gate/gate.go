// Package gate models the interrupt descriptor table of the simulated
// machine. Exception handlers are registered per interrupt number and are
// invoked synchronously by the CPU when the matching exception is raised.
package gate

import (
	"io"
	"vmkernel/kernel"
	"vmkernel/kernel/kfmt"
)

// ErrNoHandler is returned by Dispatch when no handler is installed for the
// raised interrupt.
var ErrNoHandler = &kernel.Error{Module: "gate", Message: "no handler installed for interrupt"}

// Registers contains a snapshot of the register values when an exception
// occurs.
type Registers struct {
	EAX uint32
	EBX uint32
	ECX uint32
	EDX uint32
	ESI uint32
	EDI uint32
	EBP uint32

	// Info contains the error code pushed by the CPU for exceptions that
	// provide one.
	Info uint32

	// The return frame used by IRET
	EIP    uint32
	CS     uint32
	EFlags uint32
	ESP    uint32
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "EAX = %08x EBX = %08x\n", r.EAX, r.EBX)
	kfmt.Fprintf(w, "ECX = %08x EDX = %08x\n", r.ECX, r.EDX)
	kfmt.Fprintf(w, "ESI = %08x EDI = %08x\n", r.ESI, r.EDI)
	kfmt.Fprintf(w, "EBP = %08x ERR = %08x\n", r.EBP, r.Info)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "EIP = %08x CS  = %08x\n", r.EIP, r.CS)
	kfmt.Fprintf(w, "ESP = %08x EFL = %08x\n", r.ESP, r.EFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory or one of its
	// entries is not present or when a RW protection check fails.
	PageFaultException = InterruptNumber(14)
)

// Handler is invoked when an interrupt is dispatched. A non-nil error
// signals that the handler could not recover from the exception.
type Handler func(*Registers) *kernel.Error

// Table holds the installed handler for every interrupt number.
type Table struct {
	handlers [256]Handler
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. Installing a nil handler disables the
// interrupt.
func (t *Table) HandleInterrupt(intNumber InterruptNumber, handler Handler) {
	t.handlers[intNumber] = handler
}

// Dispatch routes an interrupt to its installed handler and returns the
// handler's result.
func (t *Table) Dispatch(intNumber InterruptNumber, regs *Registers) *kernel.Error {
	handler := t.handlers[intNumber]
	if handler == nil {
		return ErrNoHandler
	}

	return handler(regs)
}
