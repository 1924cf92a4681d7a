// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package amd decodes the x86-64 instructions found at probe sites and at
// faulting addresses. Only the length of an instruction is of interest.
package amd // import "go.opentelemetry.io/probetrap/asm/amd"

import "go.opentelemetry.io/probetrap/x86helpers"

// DecodeSkippable recognizes fixed encodings that x86asm can't decode but that
// behave like a nop. It returns the size of the instruction if one was found.
func DecodeSkippable(code []byte) (ok bool, size int) {
	if _, n := x86helpers.SkipEndBranch(code); n != 0 {
		return true, int(n)
	}
	return false, 0
}
