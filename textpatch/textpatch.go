// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package textpatch rewrites executable memory. All writers of text share a
// single process-wide lock, so a concurrent instruction fetch never observes
// two patches interleaved.
package textpatch // import "go.opentelemetry.io/probetrap/textpatch"

import (
	"fmt"
	"io"

	"go.opentelemetry.io/probetrap/libpf"
	"go.opentelemetry.io/probetrap/libpf/xsync"
)

// textMutex serializes every modification of text. The guarded value counts
// the patches applied so far.
var textMutex = xsync.NewMutex(uint64(0))

// Poke writes code at addr while holding the text mutex. It must not be
// called from fault context.
func Poke(mem io.WriterAt, addr libpf.Address, code []byte) error {
	pokes := textMutex.Lock()
	defer textMutex.Unlock(&pokes)

	n, err := mem.WriteAt(code, int64(addr))
	if err != nil {
		return fmt.Errorf("failed to patch %d bytes at %v: %w", len(code), addr, err)
	}
	if n != len(code) {
		return fmt.Errorf("failed to patch %v: wrote %d of %d bytes", addr, n, len(code))
	}
	*pokes++
	return nil
}

// Arm makes the probe site at addr trap by writing opcode over its first byte.
// The caller is responsible for addr being a legal patch site.
func Arm(mem io.WriterAt, addr libpf.Address, opcode byte) error {
	return Poke(mem, addr, []byte{opcode})
}

// Disarm restores the original opcode at the probe site.
func Disarm(mem io.WriterAt, addr libpf.Address, opcode byte) error {
	return Poke(mem, addr, []byte{opcode})
}

// Pokes returns the number of patches applied since startup.
func Pokes() uint64 {
	pokes := textMutex.Lock()
	defer textMutex.Unlock(&pokes)
	return *pokes
}
