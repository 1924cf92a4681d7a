// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/probetrap/internal/controller"

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.opentelemetry.io/probetrap/cpu"
	"go.opentelemetry.io/probetrap/invop"
	"go.opentelemetry.io/probetrap/libpf"
	"go.opentelemetry.io/probetrap/pagetables"
	"go.opentelemetry.io/probetrap/remotememory"
	"go.opentelemetry.io/probetrap/trap"
	"go.opentelemetry.io/probetrap/ustack"
	"go.opentelemetry.io/probetrap/x86helpers"
)

// tableBase is where page tables are allocated in emulated physical memory.
const tableBase = libpf.Address(0x4000_0000)

var errUnknownKind = errors.New("unknown fault kind")

func parseKind(s string) (trap.Kind, error) {
	switch s {
	case "page-fault", "pf":
		return trap.KindPageFault, nil
	case "general-protection", "gp":
		return trap.KindGeneralProtection, nil
	case "trap", "ud":
		return trap.KindTrap, nil
	case "breakpoint", "bp":
		return trap.KindBreakpoint, nil
	case "other":
		return trap.KindOther, nil
	}
	return trap.KindOther, fmt.Errorf("%w: %q", errUnknownKind, s)
}

// defaultVector returns the hardware vector a kind is normally raised with.
func defaultVector(k trap.Kind) int {
	switch k {
	case trap.KindPageFault:
		return x86helpers.VectorPageFault
	case trap.KindGeneralProtection:
		return x86helpers.VectorGeneralProtection
	case trap.KindTrap:
		return x86helpers.VectorInvalidOpcode
	case trap.KindBreakpoint:
		return x86helpers.VectorBreakpoint
	}
	return 0
}

func permFlags(perm string) (pagetables.PTE, error) {
	switch perm {
	case "r":
		return pagetables.User | pagetables.NX, nil
	case "rw":
		return pagetables.User | pagetables.Writable | pagetables.NX, nil
	case "rx", "none":
		return pagetables.User, nil
	case "rwx":
		return pagetables.User | pagetables.Writable, nil
	case "special":
		return pagetables.User | pagetables.Special, nil
	case "kernel":
		return 0, nil
	}
	return 0, fmt.Errorf("unknown permission %q", perm)
}

// task is the traced user thread of a scenario.
type task struct {
	bound   libpf.Address
	tracing bool
	space   pagetables.Translator
	mem     remotememory.RemoteMemory
}

var _ ustack.Task = &task{}

func (t *task) TraceState() (libpf.Address, bool) {
	return t.bound, t.tracing
}

func (t *task) AddressSpace() pagetables.Translator {
	return t.space
}

func (t *task) UserMemory() remotememory.RemoteMemory {
	return t.mem
}

// system is the emulated machine a scenario runs on.
type system struct {
	text    *remotememory.SparseMemory
	user    *remotememory.SparseMemory
	tables  *pagetables.Tables
	cores   []cpu.Core
	walkers []*ustack.Walker

	registry   *invop.Registry
	dispatcher *trap.Dispatcher
	ustats     *ustack.Stats

	probes map[string]*probe
	order  []*probe
}

func newSystem(cfg *Config, s *Scenario) (*system, error) {
	levels := pagetables.LevelsFor(cfg.PagingLevels)
	if levels == nil {
		return nil, fmt.Errorf("unsupported number of paging levels: %d", cfg.PagingLevels)
	}

	sys := &system{
		text:     remotememory.NewSparseMemory(),
		user:     remotememory.NewSparseMemory(),
		cores:    cpu.NewCores(cfg.CPUs),
		registry: invop.NewRegistry(cfg.MaxHandlers),
		ustats:   &ustack.Stats{},
		probes:   make(map[string]*probe, len(s.Probes)),
	}
	sys.tables = pagetables.NewTables(remotememory.NewSparseMemory(), levels, tableBase)
	sys.dispatcher = trap.NewDispatcher(sys.registry,
		remotememory.RemoteMemory{ReaderAt: sys.text}, sys.cores, nil)

	for i := range sys.cores {
		w, err := ustack.NewWalker(&sys.cores[i], uint32(cfg.ExecCacheSize), sys.ustats)
		if err != nil {
			return nil, err
		}
		sys.walkers = append(sys.walkers, w)
	}

	if err := sys.loadText(&s.Text); err != nil {
		return nil, err
	}
	if err := sys.loadUser(&s.User); err != nil {
		return nil, err
	}
	for i := range s.Probes {
		p, err := newProbe(&s.Probes[i])
		if err != nil {
			return nil, err
		}
		sys.probes[p.name] = p
		sys.order = append(sys.order, p)
	}
	return sys, nil
}

func (sys *system) loadText(spec *TextSpec) error {
	sys.text.Map(spec.Base, spec.Size)
	for _, c := range spec.Code {
		if _, err := sys.text.WriteAt(c.Bytes, int64(c.Addr)); err != nil {
			return fmt.Errorf("failed to load code at %v: %w", c.Addr, err)
		}
	}
	return nil
}

func (sys *system) loadUser(spec *UserSpec) error {
	// Physical pages only have to be distinct; nothing reads through them.
	phys := libpf.Address(0x1_0000_0000)
	for _, m := range spec.Mappings {
		flags, err := permFlags(m.Perm)
		if err != nil {
			return err
		}
		pageSize := uint64(libpf.PageSize)
		if m.Huge {
			pageSize = 1 << 21
		}
		phys = libpf.Address((uint64(phys) + pageSize - 1) &^ (pageSize - 1))
		leafLevel := len(sys.tables.Levels()) - 1
		if m.Huge {
			leafLevel--
		}
		for off := uint64(0); off < m.Size; off += pageSize {
			virt := m.Addr + libpf.Address(off)
			if err = sys.tables.Map(virt, phys, pageSize, flags); err != nil {
				return fmt.Errorf("failed to map %v: %w", virt, err)
			}
			if m.Perm == "none" {
				pte := pagetables.PTE(phys) | pagetables.ProtNone | pagetables.User
				if m.Huge {
					pte |= pagetables.Huge
				}
				if err = sys.tables.SetEntry(virt, leafLevel, pte); err != nil {
					return fmt.Errorf("failed to protect %v: %w", virt, err)
				}
			}
			phys += libpf.Address(pageSize)
		}
	}

	st := &spec.Stack
	if st.Size == 0 {
		return nil
	}
	sys.user.Map(st.Base, st.Size)
	buf := make([]byte, len(st.Words)*libpf.WordSize)
	for i, w := range st.Words {
		binary.LittleEndian.PutUint64(buf[i*libpf.WordSize:], w)
	}
	if _, err := sys.user.WriteAt(buf, int64(st.Base)); err != nil {
		return fmt.Errorf("failed to load user stack: %w", err)
	}
	return nil
}

// armAll registers the handlers and arms every probe site.
func (sys *system) armAll() error {
	for _, p := range sys.order {
		if err := sys.registry.Add(p); err != nil {
			return fmt.Errorf("probe %s: %w", p.name, err)
		}
		if err := p.arm(sys.text); err != nil {
			sys.registry.Remove(p)
			return err
		}
	}
	return nil
}

// disarmAll restores every probe site and unregisters the handlers.
func (sys *system) disarmAll() error {
	var errs []error
	for i := len(sys.order) - 1; i >= 0; i-- {
		p := sys.order[i]
		if err := p.disarm(sys.text); err != nil {
			errs = append(errs, err)
		}
		sys.registry.Remove(p)
	}
	if err := sys.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (sys *system) task(spec *StackSpec) *task {
	return &task{
		bound:   spec.Bound,
		tracing: !spec.NoTrace,
		space:   sys.tables,
		mem:     remotememory.RemoteMemory{ReaderAt: sys.user},
	}
}
