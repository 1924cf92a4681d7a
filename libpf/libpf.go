// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package libpf holds the small set of types shared by all probetrap packages.
package libpf // import "go.opentelemetry.io/probetrap/libpf"
