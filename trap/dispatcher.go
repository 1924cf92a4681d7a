// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package trap // import "go.opentelemetry.io/probetrap/trap"

import (
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/probetrap/cpu"
	"go.opentelemetry.io/probetrap/invop"
	"go.opentelemetry.io/probetrap/libpf"
	"go.opentelemetry.io/probetrap/remotememory"
	"go.opentelemetry.io/probetrap/x86helpers"
)

// Dispatcher is the fault notification entry point. Notify may run on all
// CPUs at once, each with its own Event.
type Dispatcher struct {
	handlers *invop.Registry
	text     remotememory.RemoteMemory
	cores    []cpu.Core
	stats    *Stats
}

// NewDispatcher returns a dispatcher consulting handlers for probe traps.
// text gives access to the code of the interrupted contexts and cores holds
// the per-CPU state indexed by Event.CPU.
func NewDispatcher(handlers *invop.Registry, text remotememory.RemoteMemory,
	cores []cpu.Core, stats *Stats) *Dispatcher {
	if stats == nil {
		stats = &Stats{}
	}
	return &Dispatcher{
		handlers: handlers,
		text:     text,
		cores:    cores,
		stats:    stats,
	}
}

// Stats returns the counters of the dispatcher.
func (d *Dispatcher) Stats() *Stats {
	return d.stats
}

// Notify handles a fault notification. It mutates ev.Regs.IP and ev.Vector
// as described by the returned verdict. Events without registers or for an
// unknown CPU are declined.
func (d *Dispatcher) Notify(ev *Event) Verdict {
	d.stats.Events.Add(1)
	var v Verdict
	if ev.Regs != nil && ev.CPU >= 0 && ev.CPU < len(d.cores) {
		v = d.notify(ev)
	} else {
		log.Debugf("Declining fault for cpu %d without context", ev.CPU)
	}
	switch v.Action {
	case HandledStop:
		d.stats.Handled.Add(1)
	case HandledStatus:
		d.stats.Status.Add(1)
	default:
		d.stats.Declined.Add(1)
	}
	return v
}

func (d *Dispatcher) notify(ev *Event) Verdict {
	core := &d.cores[ev.CPU]

	switch ev.Kind {
	case KindPageFault:
		if !core.IsSet(cpu.FlagNoFault) {
			return Verdict{}
		}
		d.badAddr(core, ev)
		return Verdict{Action: HandledStop}

	case KindGeneralProtection:
		opcode, err := d.text.Uint8Checked(ev.Regs.IP)
		if err != nil || !x86helpers.IsMisreportedInvop(opcode) {
			if !core.IsSet(cpu.FlagNoFault) {
				return Verdict{}
			}
			d.badAddr(core, ev)
			return Verdict{Action: HandledStop}
		}
		// Treat it as the invalid opcode trap the probe site raised.
		origVector := ev.Vector
		ev.Vector = x86helpers.VectorInvalidOpcode
		d.stats.Reclassified.Add(1)
		log.Debugf("Reclassified #GP at %v (opcode 0x%02x) as #UD", ev.Regs.IP, opcode)

		v := d.resolveClaim(ev, d.handlers.Dispatch(ev.Regs))
		if v.Action == NotHandled {
			ev.Vector = origVector
			d.stats.Restored.Add(1)
			log.Debugf("Unclaimed #GP at %v, restored vector %d", ev.Regs.IP, origVector)
		}
		return v

	case KindTrap:
		if ev.Vector != x86helpers.VectorInvalidOpcode {
			return Verdict{}
		}
		return d.resolveClaim(ev, d.handlers.Dispatch(ev.Regs))

	case KindBreakpoint:
		// The reported IP is past the int3.
		ev.Regs.IP--
		v := d.resolveClaim(ev, d.handlers.Dispatch(ev.Regs))
		if v.Action == NotHandled {
			ev.Regs.IP++
		}
		return v
	}
	return Verdict{}
}

// resolveClaim turns a handler result into a verdict.
func (d *Dispatcher) resolveClaim(ev *Event, rval invop.Result) Verdict {
	switch rval {
	case invop.ResultNops:
		ev.Regs.IP += libpf.Address(x86helpers.CallSiteSize)
		return Verdict{Action: HandledStop}
	case invop.ResultMovRspRbp, invop.ResultNop, invop.ResultPushBP, invop.ResultRet:
		return Verdict{Action: HandledStatus, Status: rval}
	case invop.ResultNone:
	default:
		log.Debugf("Ignoring unknown invop result %v for %v", rval, ev)
	}
	return Verdict{}
}
