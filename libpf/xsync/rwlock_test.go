// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"go.opentelemetry.io/probetrap/libpf/xsync"
)

func TestRWMutex(t *testing.T) {
	m := xsync.NewRWMutex(map[uint64]byte{1: 0x55})

	pages := m.RLock()
	assert.Equal(t, byte(0x55), (*pages)[1])
	m.RUnlock(&pages)
	// RUnlock zeros the reference to make sure we can't accidentally use it after unlocking.
	assert.Nil(t, pages)

	w := m.WLock()
	(*w)[2] = 0xcc
	m.WUnlock(&w)

	pages = m.RLock()
	defer m.RUnlock(&pages)
	assert.Len(t, *pages, 2)
}

func TestRWMutex_CrashOnUseAfterUnlock(t *testing.T) {
	m := xsync.NewRWMutex(uint64(0))
	p := m.WLock()
	*p = 123
	m.WUnlock(&p)

	assert.Panics(t, func() {
		*p = 345
	})
}

func TestMutex(t *testing.T) {
	m := xsync.NewMutex(0)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				v := m.Lock()
				*v++
				m.Unlock(&v)
			}
		}()
	}
	wg.Wait()

	v := m.Lock()
	defer m.Unlock(&v)
	assert.Equal(t, 1600, *v)
}
