// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package probemetrics forwards the counters of the trap layer to the metrics
// package. The trap fast path only increments atomics; this package turns
// them into per-interval deltas.
package probemetrics // import "go.opentelemetry.io/probetrap/metrics/probemetrics"

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/probetrap/invop"
	"go.opentelemetry.io/probetrap/metrics"
	"go.opentelemetry.io/probetrap/periodiccaller"
	"go.opentelemetry.io/probetrap/textpatch"
	"go.opentelemetry.io/probetrap/trap"
	"go.opentelemetry.io/probetrap/ustack"
)

// Sources are the counters to report. Nil sources are skipped.
type Sources struct {
	Trap     *trap.Stats
	UStack   *ustack.Stats
	Handlers *invop.Registry
}

type counter struct {
	id   metrics.MetricID
	load func() uint64
	prev uint64
}

// Collector computes deltas of monotonic counters.
type Collector struct {
	counters []counter
	handlers *invop.Registry
}

// NewCollector returns a collector whose first Collect reports everything
// counted so far.
func NewCollector(src Sources) *Collector {
	c := &Collector{handlers: src.Handlers}
	add := func(id metrics.MetricID, v *atomic.Uint64) {
		c.counters = append(c.counters, counter{id: id, load: v.Load})
	}
	if s := src.Trap; s != nil {
		add(metrics.IDTrapEvents, &s.Events)
		add(metrics.IDTrapDeclined, &s.Declined)
		add(metrics.IDTrapHandled, &s.Handled)
		add(metrics.IDTrapStatus, &s.Status)
		add(metrics.IDTrapReclassified, &s.Reclassified)
		add(metrics.IDTrapRestored, &s.Restored)
		add(metrics.IDTrapBadAddr, &s.BadAddr)
		add(metrics.IDTrapUndecodable, &s.Undecodable)
	}
	if s := src.UStack; s != nil {
		add(metrics.IDUStackCaptures, &s.Captures)
		add(metrics.IDUStackFrames, &s.Frames)
		add(metrics.IDUStackComplete, &s.Complete)
		add(metrics.IDUStackTruncated, &s.Truncated)
		add(metrics.IDUStackCacheHit, &s.CacheHits)
		add(metrics.IDUStackCacheMiss, &s.CacheMisses)
	}
	c.counters = append(c.counters, counter{id: metrics.IDTextPokes, load: textpatch.Pokes})
	return c
}

// Collect returns the change of every counter since the previous call and
// the current gauges.
func (c *Collector) Collect() []metrics.Metric {
	out := make([]metrics.Metric, 0, len(c.counters)+1)
	for i := range c.counters {
		ctr := &c.counters[i]
		cur := ctr.load()
		out = append(out, metrics.Metric{
			ID:    ctr.id,
			Value: metrics.MetricValue(cur - ctr.prev),
		})
		ctr.prev = cur
	}
	if c.handlers != nil {
		out = append(out, metrics.Metric{
			ID:    metrics.IDInvopHandlers,
			Value: metrics.MetricValue(c.handlers.Len()),
		})
	}
	return out
}

// Start reports the sources every interval. The returned function reports
// once more and stops.
func Start(ctx context.Context, interval time.Duration, src Sources) func() {
	c := NewCollector(src)
	stop := periodiccaller.Start(ctx, interval, func() {
		metrics.AddSlice(c.Collect())
	})
	return func() {
		stop()
		metrics.AddSlice(c.Collect())
		metrics.Flush()
	}
}
