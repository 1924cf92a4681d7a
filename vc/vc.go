// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vc provides buildtime information.
package vc // import "go.opentelemetry.io/probetrap/vc"

import "fmt"

var (
	// The following variables are going to be set at link time using ldflags
	// and can be referenced later in the program.

	// revision of the source tree
	revision = "unknown"
	// buildTimestamp, timestamp of the build
	buildTimestamp = "unknown"
	// version in vX.Y.Z{-N-abbrev} format (via git-describe --tags)
	version = "v0.0.0-dev"
)

// Version in vX.Y.Z{-N-abbrev} format.
func Version() string {
	return version
}

// String describes the build in a single line.
func String() string {
	return fmt.Sprintf("%s (revision %s, build timestamp %s)",
		version, revision, buildTimestamp)
}
