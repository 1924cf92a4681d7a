// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pagetables // import "go.opentelemetry.io/probetrap/pagetables"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/probetrap/libpf"
	"go.opentelemetry.io/probetrap/remotememory"
)

var (
	// ErrUnaligned is returned when a mapping is not aligned to its page size.
	ErrUnaligned = errors.New("mapping not aligned to page size")
	// ErrPageSize is returned for page sizes no level can map.
	ErrPageSize = errors.New("unsupported page size")
	// ErrConflict is returned when a huge page is in the way of a smaller mapping.
	ErrConflict = errors.New("conflicting huge page mapping")
)

// tableFlags are set on entries pointing to a next level table. Permissions
// are enforced on the leaves.
const tableFlags = Present | Writable | User

// Tables is a translation structure kept in emulated physical memory. It
// implements Translator.
type Tables struct {
	phys   *remotememory.SparseMemory
	mem    remotememory.RemoteMemory
	levels []Level
	root   libpf.Address

	// mu serializes modifications; walks go through phys directly.
	mu       sync.Mutex
	nextPage libpf.Address
}

var _ Translator = &Tables{}

// NewTables allocates an empty top level table. Table pages are allocated
// from phys upwards of tableBase.
func NewTables(phys *remotememory.SparseMemory, levels []Level,
	tableBase libpf.Address) *Tables {
	t := &Tables{
		phys:     phys,
		mem:      remotememory.RemoteMemory{ReaderAt: phys},
		levels:   levels,
		nextPage: tableBase.PageAligned(),
	}
	t.root = t.allocTable()
	return t
}

// Root implements Translator.
func (t *Tables) Root() (libpf.Address, bool) {
	return t.root, true
}

// Levels implements Translator.
func (t *Tables) Levels() []Level {
	return t.levels
}

// ReadEntry implements Translator.
func (t *Tables) ReadEntry(table libpf.Address, index uint64) (PTE, error) {
	v, err := t.mem.Uint64Checked(table + libpf.Address(index*8))
	if err != nil {
		return 0, fmt.Errorf("reading entry %d of table %v: %w", index, table, err)
	}
	return PTE(v), nil
}

func (t *Tables) allocTable() libpf.Address {
	page := t.nextPage
	t.nextPage += libpf.PageSize
	t.phys.Map(page, libpf.PageSize)
	return page
}

func (t *Tables) writeEntry(table libpf.Address, index uint64, pte PTE) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(pte))
	_, err := t.phys.WriteAt(buf[:], int64(table+libpf.Address(index*8)))
	return err
}

// Map maps the virtual page at virt to the physical page at phys. size
// selects the level of the leaf entry and must be the page size of a level
// that can hold leaves. flags are the leaf permissions, Present is implied.
func (t *Tables) Map(virt, phys libpf.Address, size uint64, flags PTE) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	target := -1
	for i, lvl := range t.levels {
		if lvl.PageSize() == size && (lvl.HugeOK || i == len(t.levels)-1) {
			target = i
		}
	}
	if target < 0 {
		return fmt.Errorf("%w: %d", ErrPageSize, size)
	}
	if uint64(virt)%size != 0 || uint64(phys)%size != 0 {
		return fmt.Errorf("%w: %v -> %v (%d)", ErrUnaligned, virt, phys, size)
	}

	table := t.root
	for i := 0; i < target; i++ {
		lvl := t.levels[i]
		idx := lvl.Index(virt)
		pte, err := t.ReadEntry(table, idx)
		if err != nil {
			return err
		}
		switch {
		case pte.None():
			next := t.allocTable()
			if err = t.writeEntry(table, idx, PTE(next)|tableFlags); err != nil {
				return err
			}
			table = next
		case lvl.HugeOK && pte.HasFlags(Huge):
			return fmt.Errorf("%w at %s for %v", ErrConflict, lvl.Name, virt)
		default:
			table = pte.Address()
		}
	}

	leaf := PTE(phys) | flags | Present
	if target != len(t.levels)-1 {
		leaf |= Huge
	}
	return t.writeEntry(table, t.levels[target].Index(virt), leaf)
}

// SetEntry overwrites the entry of the given level on the path to virt. The
// path down to that level must exist. It allows installing entries Map
// would never produce, such as PROT_NONE leaves or corrupted table pointers.
func (t *Tables) SetEntry(virt libpf.Address, level int, pte PTE) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	table := t.root
	for i := 0; i < level; i++ {
		e, err := t.ReadEntry(table, t.levels[i].Index(virt))
		if err != nil {
			return err
		}
		if e.None() {
			return fmt.Errorf("no %s table for %v", t.levels[i+1].Name, virt)
		}
		table = e.Address()
	}
	return t.writeEntry(table, t.levels[level].Index(virt), pte)
}

// Unmap clears the leaf entry mapping virt. Unmapping an address that is not
// mapped is a no-op.
func (t *Tables) Unmap(virt libpf.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	table := t.root
	for i, lvl := range t.levels {
		idx := lvl.Index(virt)
		pte, err := t.ReadEntry(table, idx)
		if err != nil {
			return err
		}
		if pte.None() {
			return nil
		}
		if i == len(t.levels)-1 || (lvl.HugeOK && pte.HasFlags(Huge)) {
			return t.writeEntry(table, idx, 0)
		}
		table = pte.Address()
	}
	return nil
}
