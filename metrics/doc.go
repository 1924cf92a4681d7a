// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

/*
Package metrics buffers the counters of the trap layer and reports them as
OTel metrics.

Producers call Add or AddSlice. Metrics are collected until the timestamp
(second resolution) changes and are then reported as a batch, each ID at most
once per batch. The definitions live in metrics.json, and ids.go is
generated from it.

	metrics
	├── agentmetrics/   // resource usage of the process itself
	├── probemetrics/   // trap dispatcher, stack walker and registry counters
	├── genids/         // ids.go generator
	├── doc.go          // this file
	├── metrics.go      // Add(), AddSlice() and Flush()
	├── metrics.json    // metric definitions
	└── types.go        // Metric, MetricID, MetricValue
*/
package metrics // import "go.opentelemetry.io/probetrap/metrics"
