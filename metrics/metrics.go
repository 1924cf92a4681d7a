// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "go.opentelemetry.io/probetrap/metrics"

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	// prevTimestamp holds the timestamp of the buffered metrics
	prevTimestamp uint32

	// metricsBuffer buffers the metrics for the timestamp assigned to prevTimestamp
	metricsBuffer = make([]Metric, IDMax)

	// metricIDSet is a bitvector used for fast membership operations, to avoid reporting
	// the same metric ID multiple times in the same batch
	metricIDSet = make([]uint64, 1+(IDMax/64))

	// nMetrics is the number of the current entries in metricsBuffer
	nMetrics int

	// mutex serializes the concurrent calls to AddSlice()
	mutex sync.Mutex

	//go:embed metrics.json
	metricsJSON []byte

	// Used in fallback checks, e.g. to avoid sending "counters" with 0 values
	metricTypes map[MetricID]MetricType

	// OTel metric instrumentation
	meter    = otel.Meter("go.opentelemetry.io/probetrap")
	counters = map[MetricID]metric.Int64Counter{}
	gauges   = map[MetricID]metric.Int64Gauge{}

	reporterImpl Reporter
)

// SetReporter installs r to additionally receive every reported batch.
func SetReporter(r Reporter) {
	mutex.Lock()
	defer mutex.Unlock()
	reporterImpl = r
}

func init() {
	defs, err := GetDefinitions()
	if err != nil {
		panic(err)
	}
	metricTypes = make(map[MetricID]MetricType, len(defs))
	for _, md := range defs {
		if md.Obsolete {
			continue
		}
		metricTypes[md.ID] = md.Type
		switch typ := md.Type; typ {
		case MetricTypeCounter:
			counter, err := meter.Int64Counter(md.Field,
				metric.WithDescription(md.Description),
				metric.WithUnit(md.Unit))
			if err != nil {
				log.Errorf("Creating Int64Counter: %v", err)
				continue
			}
			counters[md.ID] = counter
		case MetricTypeGauge:
			gauge, err := meter.Int64Gauge(md.Field,
				metric.WithDescription(md.Description),
				metric.WithUnit(md.Unit))
			if err != nil {
				log.Errorf("Creating Int64Gauge: %v", err)
				continue
			}
			gauges[md.ID] = gauge
		default:
			panic(fmt.Sprintf("Unknown metric type: %v", typ))
		}
	}
}

// report converts and reports collected metrics via OTel metrics.
// Allow for report to be overridden in the test.
var report = func() {
	ctx := context.Background()
	if reporterImpl != nil {
		ids := make([]uint32, nMetrics)
		values := make([]int64, nMetrics)

		for i := range nMetrics {
			ids[i] = uint32(metricsBuffer[i].ID)
			values[i] = int64(metricsBuffer[i].Value)
		}
		reporterImpl.ReportMetrics(prevTimestamp, ids, values)
	}
	for i := range nMetrics {
		m := metricsBuffer[i]
		switch metricTypes[m.ID] {
		case MetricTypeCounter:
			if counter, ok := counters[m.ID]; ok {
				counter.Add(ctx, int64(m.Value))
			}
		case MetricTypeGauge:
			if gauge, ok := gauges[m.ID]; ok {
				gauge.Record(ctx, int64(m.Value))
			}
		}
	}
	nMetrics = 0
	clear(metricIDSet)
}

// AddSlice takes a slice of metrics from a metric provider.
// The function buffers the metrics and returns immediately.
//
// Here we collect all metrics until the timestamp changes.
// We then call report() to report all metrics from the previous timestamp.
// Metrics added more than once within a timestamp are merged.
//
//	|----------------- 1s period -------------|
//	|--+--------------------------+-----------|--+--......
//	|                          |              |
//	report(),AddSlice(ID1)     |              |
//	                           AddSlice(ID2)  |
//	                                          |
//	                                          report(),AddSlice(ID1)
func AddSlice(newMetrics []Metric) {
	now := uint32(time.Now().Unix())

	mutex.Lock()
	defer mutex.Unlock()

	if prevTimestamp != now && nMetrics > 0 {
		report()
	}
	prevTimestamp = now

	for _, m := range newMetrics {
		if m.ID <= IDInvalid || m.ID >= IDMax {
			log.Errorf("Metric value %d out of range [%d,%d]- needs investigation",
				m.ID, IDInvalid+1, IDMax-1)
			continue
		}

		typ, ok := metricTypes[m.ID]
		if !ok {
			log.Warnf("Invalid metric id %d, skipping", m.ID)
			continue
		}
		if m.Value == 0 && typ == MetricTypeCounter {
			continue
		}

		idx := m.ID / 64
		mask := uint64(1) << (m.ID % 64)
		if metricIDSet[idx]&mask > 0 {
			// Several collections within one second: counters accumulate,
			// gauges keep the latest value.
			merge(m, typ)
			continue
		}

		metricIDSet[idx] |= mask
		metricsBuffer[nMetrics] = m
		nMetrics++
	}
}

// merge folds m into the buffered metric with the same ID.
func merge(m Metric, typ MetricType) {
	for i := range nMetrics {
		if metricsBuffer[i].ID != m.ID {
			continue
		}
		if typ == MetricTypeCounter {
			metricsBuffer[i].Value += m.Value
		} else {
			metricsBuffer[i].Value = m.Value
		}
		return
	}
}

// Add takes a single metric (id and value) from a metric provider.
// The function buffers the metric and returns immediately.
func Add(id MetricID, value MetricValue) {
	AddSlice([]Metric{{id, value}})
}

// Flush reports the buffered metrics without waiting for the next second.
func Flush() {
	mutex.Lock()
	defer mutex.Unlock()

	if nMetrics > 0 {
		report()
	}
}

// GetDefinitions returns the metric definitions from the embedded metrics.json file.
func GetDefinitions() ([]MetricDefinition, error) {
	var defs []MetricDefinition

	dec := json.NewDecoder(bytes.NewReader(metricsJSON))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&defs); err != nil {
		return nil, fmt.Errorf("extracting definitions from metrics.json: %w", err)
	}
	return defs, nil
}
