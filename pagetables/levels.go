// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pagetables // import "go.opentelemetry.io/probetrap/pagetables"

import "go.opentelemetry.io/probetrap/libpf"

// Level describes one level of the translation structure.
type Level struct {
	Name string
	// Shift is the position of the lowest address bit translated by this level.
	Shift uint
	// Bits is the number of address bits used to index the table.
	Bits uint
	// HugeOK is set if an entry of this level may map a page directly.
	HugeOK bool
}

// Index returns the table index this level uses for addr.
func (l Level) Index(addr libpf.Address) uint64 {
	return (uint64(addr) >> l.Shift) & (1<<l.Bits - 1)
}

// PageSize returns the size of the region mapped by one entry of this level.
func (l Level) PageSize() uint64 {
	return 1 << l.Shift
}

// Levels4 is 4-level paging: 48-bit virtual addresses.
var Levels4 = []Level{
	{Name: "pgd", Shift: 39, Bits: 9},
	{Name: "pud", Shift: 30, Bits: 9, HugeOK: true},
	{Name: "pmd", Shift: 21, Bits: 9, HugeOK: true},
	{Name: "pte", Shift: 12, Bits: 9},
}

// Levels5 is 5-level paging: 57-bit virtual addresses.
var Levels5 = []Level{
	{Name: "pgd", Shift: 48, Bits: 9},
	{Name: "p4d", Shift: 39, Bits: 9},
	{Name: "pud", Shift: 30, Bits: 9, HugeOK: true},
	{Name: "pmd", Shift: 21, Bits: 9, HugeOK: true},
	{Name: "pte", Shift: 12, Bits: 9},
}

// LevelsFor returns the level sequence for the given paging depth, or nil if
// the depth is not supported.
func LevelsFor(depth int) []Level {
	switch depth {
	case 4:
		return Levels4
	case 5:
		return Levels5
	}
	return nil
}
