// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package cpu models the processor state the trap layer works on: the saved
// register set of a faulting thread and the per-CPU sticky fault flags.
package cpu // import "go.opentelemetry.io/probetrap/cpu"

import (
	"fmt"

	"go.opentelemetry.io/probetrap/libpf"
)

// Segment selectors of the flat 64-bit code segments.
const (
	KernelCS uint16 = 0x10
	UserCS   uint16 = 0x33
)

// Regs is the saved register state of the thread that took a fault. It is
// owned by the fault delivery layer and must not be retained past the
// handling of that fault.
type Regs struct {
	IP    libpf.Address
	SP    libpf.Address
	Flags uint64
	CS    uint16
}

// UserMode returns true if the context was executing unprivileged code.
func (r *Regs) UserMode() bool {
	return r.CS&3 == 3
}

func (r *Regs) String() string {
	return fmt.Sprintf("ip=%v sp=%v cs=0x%x flags=0x%x", r.IP, r.SP, r.CS, r.Flags)
}
