// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pagetables // import "go.opentelemetry.io/probetrap/pagetables"

import "go.opentelemetry.io/probetrap/libpf"

// Translator gives read access to the live translation structure of the
// current address space.
type Translator interface {
	// Root returns the physical address of the top level table. ok is false
	// if there is no user address space.
	Root() (table libpf.Address, ok bool)
	// Levels returns the translation levels, top level first.
	Levels() []Level
	// ReadEntry reads entry index of the table at the given physical address.
	// It fails instead of faulting if the table is not accessible.
	ReadEntry(table libpf.Address, index uint64) (PTE, error)
}

// walkFn is called with each entry on the path to addr. Returning false stops
// the walk.
type walkFn func(level int, lvl Level, pte PTE) bool

// walk performs a translation structure walk for addr. Every table pointer is
// validated by its own read, so a bad table only ends this walk.
func walk(t Translator, addr libpf.Address, fn walkFn) {
	table, ok := t.Root()
	if !ok {
		return
	}
	for i, lvl := range t.Levels() {
		pte, err := t.ReadEntry(table, lvl.Index(addr))
		if err != nil || !fn(i, lvl, pte) {
			return
		}
		table = pte.Address()
	}
}

// IsUserExec returns true if addr maps to a present, user accessible and
// executable page. Unreadable tables, absent entries and malformed leaves all
// count as not executable. The caller must prevent the structure from being
// freed underneath, e.g. by disabling interrupts.
func IsUserExec(t Translator, addr libpf.Address) bool {
	levels := t.Levels()
	exec := false
	walk(t, addr.PageAligned(), func(level int, lvl Level, pte PTE) bool {
		if level == len(levels)-1 {
			exec = userExecLeaf(pte)
			return false
		}
		if pte.None() {
			return false
		}
		if lvl.HugeOK && pte.HasFlags(Huge) {
			exec = userExecLeaf(pte)
			return false
		}
		return pte.HasFlags(Present)
	})
	return exec
}

// Lookup returns the leaf entry mapping addr and the level it was found at.
// ok is false if addr is not mapped.
func Lookup(t Translator, addr libpf.Address) (pte PTE, level Level, ok bool) {
	levels := t.Levels()
	walk(t, addr, func(i int, lvl Level, e PTE) bool {
		if !e.HasFlags(Present) {
			return false
		}
		if i == len(levels)-1 || (lvl.HugeOK && e.HasFlags(Huge)) {
			pte, level, ok = e, lvl, true
			return false
		}
		return true
	})
	return pte, level, ok
}
