// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/probetrap/libpf"
)

func TestSparseMemory(t *testing.T) {
	sm := NewSparseMemory()
	sm.Map(0x1000, libpf.PageSize)
	rm := RemoteMemory{ReaderAt: sm}
	require.True(t, rm.Valid())

	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	n, err := sm.WriteAt(data, 0x1010)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	b, err := rm.Uint8Checked(0x1010)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x01), b)
	v, err := rm.Uint64Checked(0x1010)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0807060504030201), v)

	_, err = rm.Uint64Checked(0x3000)
	require.ErrorIs(t, err, ErrFault)
	assert.False(t, RemoteMemory{}.Valid())
}

func TestSparseMemoryPageBoundary(t *testing.T) {
	sm := NewSparseMemory()
	sm.Map(0x1000, 2*libpf.PageSize)
	rm := RemoteMemory{ReaderAt: sm}

	_, err := sm.WriteAt([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 0x1ffc)
	require.NoError(t, err)
	v, err := rm.Uint64Checked(0x1ffc)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0807060504030201), v)

	sm.Unmap(0x2000, libpf.PageSize)
	_, err = rm.Uint64Checked(0x1ffc)
	require.ErrorIs(t, err, ErrFault)

	buf := make([]byte, 8)
	n, err := rm.ReadUpTo(0x1ffc, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:n])

	_, err = rm.ReadUpTo(0x2000, buf)
	require.ErrorIs(t, err, ErrFault)
}
