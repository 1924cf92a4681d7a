// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package periodiccaller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPeriodicCaller tests periodic calling for all exported periodiccaller functions
func TestPeriodicCaller(t *testing.T) {
	interval := 10 * time.Millisecond
	trigger := make(chan bool)

	tests := map[string]func(context.Context, func()) func(){
		"Start": func(ctx context.Context, cb func()) func() {
			return Start(ctx, interval, cb)
		},
		"StartWithManualTrigger": func(ctx context.Context, cb func()) func() {
			return StartWithManualTrigger(ctx, interval, trigger, func(bool) { cb() })
		},
	}

	for name, testFunc := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()

			done := make(chan struct{})
			var counter atomic.Int32

			stop := testFunc(ctx, func() {
				if counter.Add(1) == 2 {
					close(done)
				}
			})

			select {
			case <-done:
			case <-ctx.Done():
				assert.Failf(t, "timeout", "%s: periodiccaller not working", name)
			}
			stop()

			// No callback runs once stop returned.
			n := counter.Load()
			time.Sleep(5 * interval)
			assert.Equal(t, n, counter.Load())
		})
	}
}

// TestPeriodicCallerCancellation tests that canceling the context ends the calls.
func TestPeriodicCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var counter atomic.Int32
	stop := Start(ctx, time.Millisecond, func() { counter.Add(1) })

	<-ctx.Done()
	// stop returns because the context ended the goroutine.
	stop()

	n := counter.Load()
	assert.Positive(t, n)
	assert.Less(t, n, int32(12))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, counter.Load())
}

// TestPeriodicCallerManualTrigger tests periodic calling with manual trigger
func TestPeriodicCallerManualTrigger(t *testing.T) {
	const numTrigger = 5
	// Larger than the time it takes to send all triggers.
	interval := 10 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), interval)
	defer cancel()

	var counter atomic.Int32
	var automatic atomic.Bool
	trigger := make(chan bool)

	stop := StartWithManualTrigger(ctx, interval, trigger, func(manualTrigger bool) {
		if !manualTrigger {
			automatic.Store(true)
		}
		counter.Add(1)
	})

	for range numTrigger {
		trigger <- true
	}
	stop()

	require.False(t, automatic.Load())
	assert.Equal(t, int32(numTrigger), counter.Load())
}
