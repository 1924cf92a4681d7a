// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package pagetables walks x86-64 virtual-to-physical translation structures
// to decide what a virtual address maps to.
package pagetables // import "go.opentelemetry.io/probetrap/pagetables"

import (
	"fmt"

	"go.opentelemetry.io/probetrap/libpf"
)

// PTE is a page table entry of any level. It encodes a physical address and a
// set of flags.
type PTE uint64

// Entry flags.
const (
	Present      PTE = 1 << 0
	Writable     PTE = 1 << 1
	User         PTE = 1 << 2
	WriteThrough PTE = 1 << 3
	CacheDisable PTE = 1 << 4
	Accessed     PTE = 1 << 5
	Dirty        PTE = 1 << 6
	Huge         PTE = 1 << 7
	Global       PTE = 1 << 8
	Special      PTE = 1 << 9
	NX           PTE = 1 << 63

	// ProtNone reuses the global bit on non-present entries for
	// PROT_NONE mappings that are still considered mapped.
	ProtNone = Global

	physMask PTE = 0x000f_ffff_ffff_f000
)

// HasFlags returns true if this entry has all the input flags set.
func (pte PTE) HasFlags(flags PTE) bool {
	return pte&flags == flags
}

// None returns true for an entry that was never populated.
func (pte PTE) None() bool {
	return pte == 0
}

// IsProtNone returns true for a PROT_NONE mapping.
func (pte PTE) IsProtNone() bool {
	return pte&(ProtNone|Present) == ProtNone
}

// Exec returns true if instructions may be fetched through this entry.
func (pte PTE) Exec() bool {
	return !pte.HasFlags(NX)
}

// Address returns the physical address of the next level table or of the
// mapped page.
func (pte PTE) Address() libpf.Address {
	return libpf.Address(pte & physMask)
}

func (pte PTE) String() string {
	flags := []struct {
		f    PTE
		name string
	}{
		{Present, "P"}, {Writable, "W"}, {User, "U"}, {Huge, "H"},
		{Global, "G"}, {Special, "S"},
	}
	s := ""
	for _, fl := range flags {
		if pte.HasFlags(fl.f) {
			s += fl.name
		} else {
			s += "-"
		}
	}
	if pte.Exec() {
		s += "X"
	} else {
		s += "-"
	}
	return fmt.Sprintf("%v[%s]", pte.Address(), s)
}

// userExecLeaf decides whether a leaf entry maps a present, user accessible,
// executable page.
func userExecLeaf(pte PTE) bool {
	if pte.IsProtNone() {
		return false
	}
	if pte&(Present|User|Special) != Present|User {
		return false
	}
	return pte.Exec()
}
