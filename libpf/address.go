// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/probetrap/libpf"

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"
)

// Address represents a virtual or physical address on the traced machine.
type Address uint64

const (
	// PageShift is the log2 of the base page size.
	PageShift = 12
	// PageSize is the base page size.
	PageSize = 1 << PageShift
	// PageMask masks off the offset within a base page.
	PageMask = ^Address(PageSize - 1)

	// WordSize is the size of a native machine word.
	WordSize = 8
)

// PageAligned returns the address rounded down to its base page.
func (adr Address) PageAligned() Address {
	return adr & PageMask
}

// PageOffset returns the offset of the address within its base page.
func (adr Address) PageOffset() uint64 {
	return uint64(adr &^ PageMask)
}

// Hash32 returns a 32 bits hash of the address for use as a cache key.
func (adr Address) Hash32() uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(adr))
	return uint32(xxh3.Hash(b[:]))
}

func (adr Address) String() string {
	return fmt.Sprintf("0x%x", uint64(adr))
}
