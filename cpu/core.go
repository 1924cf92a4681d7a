// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package cpu // import "go.opentelemetry.io/probetrap/cpu"

import (
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/probetrap/libpf"
)

// Flags are sticky per-CPU fault flags. The trap layer only sets them; the
// probe execution layer above consumes and clears them.
type Flags uint32

const (
	FlagNoFault   Flags = 0x0001 // faults are expected and must be suppressed
	FlagDrop      Flags = 0x0002
	FlagBadAddr   Flags = 0x0004
	FlagBadAlign  Flags = 0x0008
	FlagDivZero   Flags = 0x0010
	FlagIllOp     Flags = 0x0020
	FlagNoScratch Flags = 0x0040
	FlagKPriv     Flags = 0x0080
	FlagUPriv     Flags = 0x0100
	FlagTupOFlow  Flags = 0x0200
	FlagEntry     Flags = 0x0800
	FlagBadStack  Flags = 0x1000

	// FlagFault is the set of flags that indicate a recorded fault.
	FlagFault = FlagBadAddr | FlagBadAlign | FlagDivZero | FlagIllOp |
		FlagNoScratch | FlagKPriv | FlagUPriv | FlagTupOFlow | FlagBadStack
)

// Core is the transient state of one processor. Only the processor currently
// in trap context writes to it.
type Core struct {
	id      int
	flags   atomic.Uint32
	illval  atomic.Uint64
	irqsOff atomic.Bool
}

// NewCores returns the per-CPU state for n processors.
func NewCores(n int) []Core {
	cores := make([]Core, n)
	for i := range cores {
		cores[i].id = i
	}
	return cores
}

// ID returns the processor number.
func (c *Core) ID() int {
	return c.id
}

// SetFlags ors f into the sticky flags.
func (c *Core) SetFlags(f Flags) {
	c.flags.Or(uint32(f))
}

// ClearFlags removes f from the sticky flags.
func (c *Core) ClearFlags(f Flags) {
	c.flags.And(^uint32(f))
}

// Flags returns the current sticky flags.
func (c *Core) Flags() Flags {
	return Flags(c.flags.Load())
}

// IsSet returns true if all of f are set.
func (c *Core) IsSet(f Flags) bool {
	return c.Flags()&f == f
}

// SetIllVal records the offending value of the last fault.
func (c *Core) SetIllVal(addr libpf.Address) {
	c.illval.Store(uint64(addr))
}

// IllVal returns the offending value of the last fault.
func (c *Core) IllVal() libpf.Address {
	return libpf.Address(c.illval.Load())
}

// IRQState is the saved local interrupt enable state.
type IRQState bool

// IRQSave disables local interrupts and returns the previous state.
func (c *Core) IRQSave() IRQState {
	return IRQState(!c.irqsOff.Swap(true))
}

// IRQRestore restores the local interrupt state saved by IRQSave.
func (c *Core) IRQRestore(s IRQState) {
	c.irqsOff.Store(!bool(s))
}

// IRQsEnabled returns true if local interrupts are enabled.
func (c *Core) IRQsEnabled() bool {
	return !c.irqsOff.Load()
}

func (c *Core) String() string {
	return fmt.Sprintf("cpu%d flags=0x%x illval=%v", c.id, c.Flags(), c.IllVal())
}
