// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// This package contains the x86-64 opcode bytes and trap vectors that the
// trap layer reasons about, and a few helpers for x86 machine code.
package x86helpers // import "go.opentelemetry.io/probetrap/x86helpers"

import "slices"

// Single byte opcodes found at probe sites.
const (
	OpcodeLock    byte = 0xf0
	OpcodePushRBP byte = 0x55
	OpcodeRet     byte = 0xc3
	OpcodeNop     byte = 0x90
	OpcodeInt3    byte = 0xcc
)

// MaxInstructionSize is the architectural limit of an x86 instruction.
const MaxInstructionSize = 15

// CallSiteSize is the width of a statically defined probe site. Such sites
// are either a 1-byte NOP followed by a multi-byte NOP, or a register clear
// followed by a multi-byte NOP; both occupy the width of a near call.
const CallSiteSize = 5

// Trap vectors.
const (
	VectorBreakpoint        = 3
	VectorInvalidOpcode     = 6
	VectorGeneralProtection = 13
	VectorPageFault         = 14
)

var endbr64 = [4]byte{0xf3, 0x0f, 0x1e, 0xfa}
var endbr32 = [4]byte{0xf3, 0x0f, 0x1e, 0xfb}

// On some binaries the function starts like this:
//
//	0x0000000000012860 <+0>:     f3 0f 1e fa     endbr64
//	0x0000000000012864 <+4>:     41 55   push   %r13
//
// This is some kind of stack smashing indirect jump protection, treat it as a nop,
// x86asm doesn't know how to handle it.
//
//nolint:gocritic
func SkipEndBranch(b []byte) ([]byte, int64) {
	if len(b) >= 4 && (slices.Equal(b[0:4], endbr64[:]) || slices.Equal(b[0:4], endbr32[:])) {
		return b[4:], 4
	}
	return b, 0
}

// IsMisreportedInvop returns true if a general protection fault raised on
// opcode may really be an invalid opcode trap from a probe site. Some Xen
// versions deliver the #UD caused by a LOCK prefix as #GP, and another CPU
// may already have restored the original push or ret by the time we look.
func IsMisreportedInvop(opcode byte) bool {
	switch opcode {
	case OpcodeLock, OpcodePushRBP, OpcodeRet:
		return true
	}
	return false
}
