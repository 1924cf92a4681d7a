// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package trap // import "go.opentelemetry.io/probetrap/trap"

import (
	"fmt"

	"go.opentelemetry.io/probetrap/asm/amd"
	"go.opentelemetry.io/probetrap/cpu"
	"go.opentelemetry.io/probetrap/libpf"
)

// badAddr records the fault on core and resumes after the faulting
// instruction. An undecodable instruction leaves no way to make progress and
// panics.
func (d *Dispatcher) badAddr(core *cpu.Core, ev *Event) {
	core.SetFlags(cpu.FlagBadAddr)
	core.SetIllVal(ev.Addr)
	d.stats.BadAddr.Add(1)

	n, err := amd.InstructionLength(d.text, ev.Regs.IP)
	if err != nil || n <= 0 {
		d.stats.Undecodable.Add(1)
		panic(fmt.Sprintf("bad address fault at undecodable instruction %v: %v",
			ev.Regs.IP, err))
	}
	ev.Regs.IP += libpf.Address(n)
}
