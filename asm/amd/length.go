// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package amd // import "go.opentelemetry.io/probetrap/asm/amd"

import (
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"go.opentelemetry.io/probetrap/libpf"
	"go.opentelemetry.io/probetrap/remotememory"
	"go.opentelemetry.io/probetrap/x86helpers"
)

// ErrDecode is returned when no complete instruction could be decoded.
var ErrDecode = errors.New("instruction decode failed")

// LengthOf decodes exactly one 64-bit mode instruction at the start of code
// and returns its length in bytes.
func LengthOf(code []byte) (int, error) {
	if len(code) == 0 {
		return 0, fmt.Errorf("%w: %w", ErrDecode, x86asm.ErrTruncated)
	}
	if len(code) > x86helpers.MaxInstructionSize {
		code = code[:x86helpers.MaxInstructionSize]
	}
	if ok, n := DecodeSkippable(code); ok {
		return n, nil
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	// x86asm reports cut off encodings as a one byte instruction without
	// an opcode instead of failing.
	if inst.Op == 0 {
		return 0, fmt.Errorf("%w: %w", ErrDecode, x86asm.ErrTruncated)
	}
	if inst.Len <= 0 || inst.Len > len(code) {
		return 0, fmt.Errorf("%w: bogus length %d", ErrDecode, inst.Len)
	}
	return inst.Len, nil
}

// InstructionLength returns the length of the instruction at addr. Code close
// to the end of accessible memory is decoded from the bytes that could be
// read, so an instruction that really is cut off reports a decode failure.
// It never blocks and has no side effects.
func InstructionLength(mem remotememory.RemoteMemory, addr libpf.Address) (int, error) {
	var buf [x86helpers.MaxInstructionSize]byte
	n, err := mem.ReadUpTo(addr, buf[:])
	if err != nil {
		return 0, fmt.Errorf("%w: reading %v: %w", ErrDecode, addr, err)
	}
	return LengthOf(buf[:n])
}
