// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package trap routes processor faults and traps raised by probe sites to the
// invop handlers, and suppresses faults taken while probes access memory
// that may not be mapped.
package trap // import "go.opentelemetry.io/probetrap/trap"

import (
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/probetrap/cpu"
	"go.opentelemetry.io/probetrap/invop"
	"go.opentelemetry.io/probetrap/libpf"
)

// Kind is the notification class a fault is delivered with.
type Kind uint8

const (
	KindOther Kind = iota
	KindPageFault
	KindGeneralProtection
	KindTrap
	KindBreakpoint
)

func (k Kind) String() string {
	switch k {
	case KindPageFault:
		return "page-fault"
	case KindGeneralProtection:
		return "general-protection"
	case KindTrap:
		return "trap"
	case KindBreakpoint:
		return "breakpoint"
	default:
		return "other"
	}
}

// Event is a single fault notification. It is only valid for the duration
// of the Notify call it is passed to.
type Event struct {
	Kind Kind
	// Vector is the hardware trap number. It is rewritten while a general
	// protection fault is handled as an invalid opcode, and restored if no
	// handler claims it.
	Vector int
	Regs   *cpu.Regs
	CPU    int
	// Addr is the faulting virtual address of a page fault.
	Addr libpf.Address
}

func (ev *Event) String() string {
	return fmt.Sprintf("%v vector=%d cpu=%d addr=%v %v",
		ev.Kind, ev.Vector, ev.CPU, ev.Addr, ev.Regs)
}

// Action tells the fault delivery layer how to proceed.
type Action uint8

const (
	// NotHandled passes the fault on to the next consumer.
	NotHandled Action = iota
	// HandledStop resumes the interrupted context at the (possibly advanced)
	// instruction pointer.
	HandledStop
	// HandledStatus asks the fault delivery layer to emulate the displaced
	// instruction named by Verdict.Status.
	HandledStatus
)

func (a Action) String() string {
	switch a {
	case NotHandled:
		return "not-handled"
	case HandledStop:
		return "handled"
	case HandledStatus:
		return "handled-status"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Verdict is the outcome of a notification.
type Verdict struct {
	Action Action
	Status invop.Result
}

// Die notifier return codes.
const (
	NotifyDone     = 0x0000
	NotifyOK       = 0x0001
	NotifyStopMask = 0x8000
)

// Notify encodes the verdict as a die notifier return value. A status is
// passed as a negative errno, which the notifier chain folds into
// NotifyStopMask | (NotifyOK + status).
func (v Verdict) Notify() int {
	switch v.Action {
	case HandledStop:
		return NotifyOK | NotifyStopMask
	case HandledStatus:
		return NotifyStopMask | (NotifyOK + int(v.Status))
	default:
		return NotifyDone
	}
}

func (v Verdict) String() string {
	if v.Action == HandledStatus {
		return fmt.Sprintf("%v(%v)", v.Action, v.Status)
	}
	return v.Action.String()
}

// Stats counts the outcomes of all notifications of a dispatcher. Every
// event ends in exactly one of Declined, Handled, Status or Undecodable.
type Stats struct {
	Events       atomic.Uint64
	Declined     atomic.Uint64
	Handled      atomic.Uint64
	Status       atomic.Uint64
	Reclassified atomic.Uint64
	Restored     atomic.Uint64
	BadAddr      atomic.Uint64
	Undecodable  atomic.Uint64
}
