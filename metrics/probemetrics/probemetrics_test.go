// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package probemetrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/probetrap/cpu"
	"go.opentelemetry.io/probetrap/invop"
	"go.opentelemetry.io/probetrap/metrics"
	"go.opentelemetry.io/probetrap/trap"
	"go.opentelemetry.io/probetrap/ustack"
)

type claimAll struct{}

func (*claimAll) HandleInvop(*cpu.Regs) invop.Result {
	return invop.ResultNop
}

func toMap(m []metrics.Metric) map[metrics.MetricID]metrics.MetricValue {
	out := make(map[metrics.MetricID]metrics.MetricValue, len(m))
	for _, v := range m {
		out[v.ID] = v.Value
	}
	return out
}

func TestCollect(t *testing.T) {
	ustats := &ustack.Stats{}
	reg := invop.NewRegistry(0)
	require.NoError(t, reg.Add(&claimAll{}))

	c := NewCollector(Sources{UStack: ustats, Handlers: reg})

	ustats.Captures.Add(3)
	ustats.Frames.Add(10)
	got := toMap(c.Collect())
	assert.Equal(t, metrics.MetricValue(3), got[metrics.IDUStackCaptures])
	assert.Equal(t, metrics.MetricValue(10), got[metrics.IDUStackFrames])
	assert.Equal(t, metrics.MetricValue(1), got[metrics.IDInvopHandlers])
	_, ok := got[metrics.IDTrapEvents]
	assert.False(t, ok)

	ustats.Frames.Add(5)
	got = toMap(c.Collect())
	assert.Equal(t, metrics.MetricValue(0), got[metrics.IDUStackCaptures])
	assert.Equal(t, metrics.MetricValue(5), got[metrics.IDUStackFrames])
}

// sumReporter adds up every reported value per metric ID.
type sumReporter struct {
	mu   sync.Mutex
	sums map[uint32]int64
}

func (r *sumReporter) ReportMetrics(_ uint32, ids []uint32, values []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range ids {
		r.sums[id] += values[i]
	}
}

func (r *sumReporter) sum(id metrics.MetricID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sums[uint32(id)]
}

func TestStartShortInterval(t *testing.T) {
	reporter := &sumReporter{sums: make(map[uint32]int64)}
	metrics.SetReporter(reporter)
	t.Cleanup(func() { metrics.SetReporter(nil) })

	tstats := &trap.Stats{}
	stop := Start(context.Background(), 20*time.Millisecond, Sources{Trap: tstats})
	for range 50 {
		tstats.Events.Add(1)
		time.Sleep(10 * time.Millisecond)
	}
	stop()

	assert.Equal(t, int64(50), reporter.sum(metrics.IDTrapEvents))
}
