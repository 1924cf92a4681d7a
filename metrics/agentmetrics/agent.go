// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentmetrics reports the resource usage of the probetrap process.
package agentmetrics // import "go.opentelemetry.io/probetrap/metrics/agentmetrics"

import (
	"context"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/probetrap/metrics"
	"go.opentelemetry.io/probetrap/periodiccaller"
)

// cpuTimes are the user and system CPU times of the process.
type cpuTimes struct {
	utime unix.Timeval
	stime unix.Timeval
}

func readCPUTimes() (cpuTimes, error) {
	var rusage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &rusage); err != nil {
		return cpuTimes{}, err
	}
	return cpuTimes{utime: rusage.Utime, stime: rusage.Stime}, nil
}

// timeDelta returns now - prev in whole milliseconds.
func timeDelta(now, prev unix.Timeval) int64 {
	return time.Duration(now.Nano() - prev.Nano()).Milliseconds()
}

// collect returns the agent metrics and remembers the CPU times for the next
// call.
func (prev *cpuTimes) collect() ([]metrics.Metric, error) {
	now, err := readCPUTimes()
	if err != nil {
		return nil, err
	}
	deltaUtime := timeDelta(now.utime, prev.utime)
	deltaStime := timeDelta(now.stime, prev.stime)
	*prev = now

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return []metrics.Metric{
		{ID: metrics.IDAgentGoRoutines, Value: metrics.MetricValue(runtime.NumGoroutine())},
		{ID: metrics.IDAgentHeapAlloc, Value: metrics.MetricValue(stats.HeapAlloc)},
		{ID: metrics.IDAgentUTime, Value: metrics.MetricValue(deltaUtime)},
		{ID: metrics.IDAgentSTime, Value: metrics.MetricValue(deltaStime)},
	}, nil
}

// Start starts the agent specific metric retrieval and reporting.
func Start(ctx context.Context, interval time.Duration) (func(), error) {
	prev, err := readCPUTimes()
	if err != nil {
		log.Errorf("Failed to fetch Rusage: %v", err)
		return func() {}, err
	}

	return periodiccaller.Start(ctx, interval, func() {
		m, err := prev.collect()
		if err != nil {
			log.Errorf("Failed to fetch Rusage: %v", err)
			return
		}
		metrics.AddSlice(m)
	}), nil
}
