// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory // import "go.opentelemetry.io/probetrap/remotememory"

import (
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/probetrap/libpf"
	"go.opentelemetry.io/probetrap/libpf/xsync"
)

// ErrFault is returned for accesses touching a page that is not mapped.
var ErrFault = errors.New("access to unmapped page")

type page [libpf.PageSize]byte

// SparseMemory is a page granular, lazily populated address space. It backs
// emulated text, stacks and physical memory holding page tables. It
// implements io.ReaderAt and io.WriterAt and is safe for concurrent use.
type SparseMemory struct {
	pages xsync.RWMutex[map[libpf.Address]*page]
}

var _ io.ReaderAt = &SparseMemory{}
var _ io.WriterAt = &SparseMemory{}

// NewSparseMemory returns an empty address space.
func NewSparseMemory() *SparseMemory {
	return &SparseMemory{
		pages: xsync.NewRWMutex(map[libpf.Address]*page{}),
	}
}

// Map makes [addr, addr+size) accessible. Newly mapped pages are zeroed, pages
// that are already mapped keep their content.
func (sm *SparseMemory) Map(addr libpf.Address, size uint64) {
	pages := sm.pages.WLock()
	defer sm.pages.WUnlock(&pages)

	end := addr + libpf.Address(size)
	for pg := addr.PageAligned(); pg < end; pg += libpf.PageSize {
		if _, ok := (*pages)[pg]; !ok {
			(*pages)[pg] = new(page)
		}
	}
}

// Unmap removes all pages overlapping [addr, addr+size).
func (sm *SparseMemory) Unmap(addr libpf.Address, size uint64) {
	pages := sm.pages.WLock()
	defer sm.pages.WUnlock(&pages)

	end := addr + libpf.Address(size)
	for pg := addr.PageAligned(); pg < end; pg += libpf.PageSize {
		delete(*pages, pg)
	}
}

// ReadAt implements io.ReaderAt. It stops at the first unmapped page.
func (sm *SparseMemory) ReadAt(p []byte, off int64) (int, error) {
	pages := sm.pages.RLock()
	defer sm.pages.RUnlock(&pages)

	return access(*pages, p, libpf.Address(off), func(pg *page, pos uint64, b []byte) int {
		return copy(b, pg[pos:])
	})
}

// WriteAt implements io.WriterAt. It stops at the first unmapped page.
func (sm *SparseMemory) WriteAt(p []byte, off int64) (int, error) {
	pages := sm.pages.WLock()
	defer sm.pages.WUnlock(&pages)

	return access(*pages, p, libpf.Address(off), func(pg *page, pos uint64, b []byte) int {
		return copy(pg[pos:], b)
	})
}

func access(pages map[libpf.Address]*page, p []byte, addr libpf.Address,
	op func(pg *page, pos uint64, b []byte) int) (int, error) {
	done := 0
	for done < len(p) {
		cur := addr + libpf.Address(done)
		pg, ok := pages[cur.PageAligned()]
		if !ok {
			return done, fmt.Errorf("%w at %v", ErrFault, cur)
		}
		done += op(pg, cur.PageOffset(), p[done:])
	}
	return done, nil
}
