// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package periodiccaller allows periodic calls of functions.
package periodiccaller // import "go.opentelemetry.io/probetrap/periodiccaller"

import (
	"context"
	"time"
)

// Start calls <callback> every <interval> until <ctx> is canceled or the
// returned function is called. The returned function waits for a running
// callback to finish.
func Start(ctx context.Context, interval time.Duration, callback func()) func() {
	return StartWithManualTrigger(ctx, interval, nil, func(bool) { callback() })
}

// StartWithManualTrigger works like Start. Additionally, a value received
// from <trigger> calls <callback> immediately with manualTrigger set.
func StartWithManualTrigger(ctx context.Context, interval time.Duration, trigger <-chan bool,
	callback func(manualTrigger bool)) func() {
	ctx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				callback(false)
			case <-trigger:
				callback(true)
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
