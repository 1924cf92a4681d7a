// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package agentmetrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/probetrap/metrics"
)

func TestTimeDelta(t *testing.T) {
	tests := map[string]struct {
		now   unix.Timeval
		prev  unix.Timeval
		delta int64
	}{
		"1000ms":          {now: unix.NsecToTimeval(1e9), delta: 1000},
		"1ms":             {now: unix.NsecToTimeval(1e6), delta: 1},
		"delta too small": {now: unix.NsecToTimeval(5e5), delta: 0},
		"998 ms": {
			now:   unix.NsecToTimeval(1_001_000_000),
			prev:  unix.NsecToTimeval(3_000_000),
			delta: 998,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.delta, timeDelta(tc.now, tc.prev))
		})
	}
}

func TestCollect(t *testing.T) {
	prev, err := readCPUTimes()
	require.NoError(t, err)

	m, err := prev.collect()
	require.NoError(t, err)
	require.Len(t, m, 4)
	assert.Equal(t, metrics.MetricID(metrics.IDAgentGoRoutines), m[0].ID)
	assert.Positive(t, m[0].Value)
	assert.Positive(t, m[1].Value)
	assert.GreaterOrEqual(t, m[2].Value, metrics.MetricValue(0))
}
