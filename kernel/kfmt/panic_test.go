package kfmt

import (
	"bytes"
	"errors"
	"testing"
	"vmkernel/kernel"
)

func TestPanic(t *testing.T) {
	defer func(origHalt func()) {
		haltFn = origHalt
		SetOutputSink(nil)
	}(haltFn)

	var haltCalled bool
	haltFn = func() {
		haltCalled = true
	}

	specs := []struct {
		descr string
		input interface{}
		exp   string
	}{
		{
			"with *kernel.Error",
			&kernel.Error{Module: "test", Message: "panic test"},
			"\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with error",
			errors.New("go error"),
			"\n-----------------------------------\n[rt] unrecoverable error: go error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with string",
			"string error",
			"\n-----------------------------------\n[rt] unrecoverable error: string error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"without error",
			nil,
			"\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			var buf bytes.Buffer
			SetOutputSink(&buf)
			haltCalled = false

			Panic(spec.input)

			if got := buf.String(); got != spec.exp {
				t.Fatalf("expected to get:\n%q\ngot:\n%q", spec.exp, got)
			}

			if !haltCalled {
				t.Fatal("expected haltFn to be called by Panic")
			}
		})
	}
}
