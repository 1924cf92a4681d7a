// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// remotememory provides fault tolerant access to the memory of the traced
// machine. The ReaderAt interface is used for the basic access, and various
// convenience functions are provided to help reading specific data types.
// A failed access is always reported as an error, never as a fault.
package remotememory // import "go.opentelemetry.io/probetrap/remotememory"

import (
	"encoding/binary"
	"io"

	"go.opentelemetry.io/probetrap/libpf"
)

// RemoteMemory implements a set of convenience functions to access the remote memory
type RemoteMemory struct {
	io.ReaderAt
}

// Valid determines if this RemoteMemory instance contains a valid reference to memory
func (rm RemoteMemory) Valid() bool {
	return rm.ReaderAt != nil
}

// Read fills slice p[] with data from remote memory at address addr
func (rm RemoteMemory) Read(addr libpf.Address, p []byte) error {
	_, err := rm.ReadAt(p, int64(addr))
	return err
}

// ReadUpTo reads at most len(p) bytes at addr and returns how many bytes
// could be read. A short read at the end of accessible memory is not an error
// as long as at least one byte was read.
func (rm RemoteMemory) ReadUpTo(addr libpf.Address, p []byte) (int, error) {
	n, err := rm.ReadAt(p, int64(addr))
	if n > 0 {
		return n, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return 0, err
}

// Uint8Checked reads an 8-bit unsigned integer from remote memory
func (rm RemoteMemory) Uint8Checked(addr libpf.Address) (uint8, error) {
	var buf [1]byte
	if err := rm.Read(addr, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Uint64Checked reads a 64-bit unsigned integer from remote memory
func (rm RemoteMemory) Uint64Checked(addr libpf.Address) (uint64, error) {
	var buf [8]byte
	if err := rm.Read(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
