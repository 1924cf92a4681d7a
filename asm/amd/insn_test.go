// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package amd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/probetrap/libpf"
	"go.opentelemetry.io/probetrap/remotememory"
)

func TestEndBr64(t *testing.T) {
	res, n := DecodeSkippable([]byte{0xF3, 0x0F, 0x1E, 0xFA})
	assert.True(t, res)
	assert.Equal(t, 4, n)

	res, _ = DecodeSkippable([]byte{})
	assert.False(t, res)
}

var instructions = map[string]struct {
	code   []byte
	length int
}{
	"push %rbp":          {code: []byte{0x55}, length: 1},
	"ret":                {code: []byte{0xc3}, length: 1},
	"nop":                {code: []byte{0x90}, length: 1},
	"int3":               {code: []byte{0xcc}, length: 1},
	"mov %rsp,%rbp":      {code: []byte{0x48, 0x89, 0xe5}, length: 3},
	"nopl 0x0(%rax)":     {code: []byte{0x0f, 0x1f, 0x44, 0x00, 0x00}, length: 5},
	"nopw 0x0(%rax)":     {code: []byte{0x66, 0x0f, 0x1f, 0x44, 0x00, 0x00}, length: 6},
	"call rel32":         {code: []byte{0xe8, 0x1b, 0xd4, 0xde, 0xff}, length: 5},
	"xor %eax,%eax":      {code: []byte{0x31, 0xc0}, length: 2},
	"mov (%rdi),%rax":    {code: []byte{0x48, 0x8b, 0x07}, length: 3},
	"mov 0x18(%rdi),%r8": {code: []byte{0x4c, 0x8b, 0x47, 0x18}, length: 4},
	"movabs imm64": {
		code:   []byte{0x48, 0xb8, 0x00, 0xf0, 0xff, 0xff, 0xff, 0x7f, 0x00, 0x00},
		length: 10,
	},
	"endbr64": {code: []byte{0xf3, 0x0f, 0x1e, 0xfa}, length: 4},
}

func TestLengthOf(t *testing.T) {
	for name, test := range instructions {
		t.Run(name, func(t *testing.T) {
			// Trailing bytes of the next instruction must not change the result.
			code := append(append([]byte{}, test.code...), 0x90, 0x90, 0x90)
			n, err := LengthOf(code)
			require.NoError(t, err)
			assert.Equal(t, test.length, n)

			n, err = LengthOf(test.code)
			require.NoError(t, err)
			assert.Equal(t, test.length, n)
		})
	}
}

func TestLengthOfTruncated(t *testing.T) {
	for name, test := range instructions {
		if test.length < 2 {
			continue
		}
		t.Run(name, func(t *testing.T) {
			_, err := LengthOf(test.code[:test.length-1])
			require.ErrorIs(t, err, ErrDecode)
		})
	}

	_, err := LengthOf(nil)
	require.ErrorIs(t, err, ErrDecode)

	// Prefixes and opcodes that x86asm decodes as a bare one byte instruction.
	for _, code := range [][]byte{
		{0xe8, 0x00, 0x00},
		{0x48, 0x89},
		{0x48, 0x8b},
		{0x0f, 0x1f, 0x44, 0x00},
	} {
		n, err := LengthOf(code)
		require.ErrorIs(t, err, ErrDecode, "% x", code)
		assert.Zero(t, n)
	}
}

func TestInstructionLength(t *testing.T) {
	mem := remotememory.NewSparseMemory()
	mem.Map(0x400000, libpf.PageSize)
	rm := remotememory.RemoteMemory{ReaderAt: mem}

	// mov %rsp,%rbp as the last instruction of the page, then a cut off call.
	_, err := mem.WriteAt([]byte{0x48, 0x89, 0xe5}, 0x400ffd)
	require.NoError(t, err)
	n, err := InstructionLength(rm, 0x400ffd)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = mem.WriteAt([]byte{0xe8, 0x00, 0x00}, 0x400ffd)
	require.NoError(t, err)
	_, err = InstructionLength(rm, 0x400ffd)
	require.ErrorIs(t, err, ErrDecode)

	_, err = InstructionLength(rm, 0x800000)
	require.ErrorIs(t, err, ErrDecode)
}
