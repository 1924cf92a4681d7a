// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/probetrap/internal/controller"

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/probetrap/cpu"
	"go.opentelemetry.io/probetrap/libpf"
	"go.opentelemetry.io/probetrap/pagetables"
	"go.opentelemetry.io/probetrap/trap"
	"go.opentelemetry.io/probetrap/ustack"
)

// deliver raises the fault described by spec on its CPU.
func (sys *system) deliver(idx int, spec *EventSpec, s *Scenario) EventResult {
	var (
		kind   trap.Kind
		vector int
		ip     libpf.Address
	)
	if spec.Probe != "" {
		kind, vector, ip = sys.probes[spec.Probe].trapAt()
	}
	if spec.Kind != "" {
		// Validated when the scenario was parsed.
		kind, _ = parseKind(spec.Kind)
		vector = defaultVector(kind)
	}
	if spec.IP != 0 {
		ip = spec.IP
	}
	if spec.Vector != nil {
		vector = *spec.Vector
	}

	core := &sys.cores[spec.CPU]
	if spec.NoFault {
		core.SetFlags(cpu.FlagNoFault)
	}

	regs := &cpu.Regs{IP: ip, SP: s.User.Stack.Base, CS: cpu.KernelCS}
	ev := &trap.Event{Kind: kind, Vector: vector, Regs: regs, CPU: spec.CPU, Addr: spec.Addr}
	res := EventResult{Index: idx, CPU: spec.CPU, Kind: kind, IP: ip}

	res.Verdict, res.Err = notify(sys.dispatcher, ev)
	res.Vector = ev.Vector
	res.NewIP = regs.IP
	res.Flags = core.Flags()
	res.IllVal = core.IllVal()
	log.Debugf("Event %d: %v -> %v", idx, ev, res.Verdict)

	// Consuming the fault flags is up to the probe execution layer.
	core.ClearFlags(cpu.FlagNoFault | cpu.FlagFault)
	return res
}

// notify turns the invariant violation panic of the dispatcher into an
// error, so one broken event does not end the replay.
func notify(d *trap.Dispatcher, ev *trap.Event) (v trap.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fatal: %v", r)
		}
	}()
	return d.Notify(ev), nil
}

// capture walks the user stack described by spec on its CPU.
func (sys *system) capture(idx int, spec *StackSpec) StackResult {
	regs := &cpu.Regs{IP: spec.IP, SP: spec.SP, CS: cpu.UserCS}
	if spec.Kernel {
		regs.CS = cpu.KernelCS
	}
	limit := spec.Limit
	if limit <= 0 {
		limit = 32
	}
	pcs := make([]uint64, limit)
	res := sys.walkers[spec.CPU].Capture(regs, sys.task(spec),
		&ustack.Request{Limit: limit, PCs: pcs})

	out := StackResult{
		Index:     idx,
		CPU:       spec.CPU,
		Depth:     res.Depth,
		Truncated: res.Truncated,
		PCs:       pcs[:res.Depth],
		Pages:     make([]FramePage, res.Depth),
	}
	for i, pc := range out.PCs {
		pte, lvl, ok := pagetables.Lookup(sys.tables, libpf.Address(pc))
		if ok {
			out.Pages[i] = FramePage{PTE: pte, Size: lvl.PageSize()}
		}
	}
	return out
}
