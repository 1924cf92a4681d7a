// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package ustack samples user mode call stacks without relying on frame
// pointers or unwind tables. Every word on the user stack that points into a
// present, user accessible, executable page is taken as a return address.
package ustack // import "go.opentelemetry.io/probetrap/ustack"

import (
	"fmt"
	"sync/atomic"

	lru "github.com/elastic/go-freelru"

	"go.opentelemetry.io/probetrap/cpu"
	"go.opentelemetry.io/probetrap/libpf"
	"go.opentelemetry.io/probetrap/pagetables"
	"go.opentelemetry.io/probetrap/remotememory"
	"go.opentelemetry.io/probetrap/successfailurecounter"
)

// Task is the per-thread state the walker consumes.
type Task interface {
	// TraceState returns the recorded upper bound of the user stack. ok is
	// false if tracing is not enabled for the task.
	TraceState() (bound libpf.Address, ok bool)
	// AddressSpace returns the live translation structure of the task, or
	// nil if the task has no user address space.
	AddressSpace() pagetables.Translator
	// UserMemory gives non-blocking, fault tolerant access to user memory.
	UserMemory() remotememory.RemoteMemory
}

// Request asks for up to Limit return addresses. If PCs is set, it receives
// the addresses and any slot up to Limit not filled is set to zero.
type Request struct {
	Limit int
	PCs   []uint64
}

// Result describes a captured stack.
type Result struct {
	// Depth is the number of frames captured, including the current
	// instruction pointer.
	Depth int
	// Truncated is set if a user memory read ended the walk early.
	Truncated bool
}

// Stats are the counters of all walkers sharing them.
type Stats struct {
	Captures    atomic.Uint64
	Frames      atomic.Uint64
	Complete    atomic.Uint64
	Truncated   atomic.Uint64
	CacheHits   atomic.Uint64
	CacheMisses atomic.Uint64
}

// Walker captures user stacks on one CPU. It is not safe for concurrent use;
// create one Walker per CPU.
type Walker struct {
	core  *cpu.Core
	stats *Stats

	// execPages memoizes page verdicts within a single capture.
	execPages *lru.LRU[libpf.Address, bool]
}

// NewWalker returns a walker running on core. cacheSize bounds the number of
// page verdicts remembered during one capture; zero disables the cache.
func NewWalker(core *cpu.Core, cacheSize uint32, stats *Stats) (*Walker, error) {
	if stats == nil {
		stats = &Stats{}
	}
	w := &Walker{core: core, stats: stats}
	if cacheSize > 0 {
		cache, err := lru.New[libpf.Address, bool](cacheSize, libpf.Address.Hash32)
		if err != nil {
			return nil, fmt.Errorf("failed to create page cache: %w", err)
		}
		w.execPages = cache
	}
	return w, nil
}

// Capture records the user call stack of the thread described by regs. Only
// user mode contexts of tasks with tracing enabled produce frames.
func (w *Walker) Capture(regs *cpu.Regs, task Task, req *Request) Result {
	var res Result

	limit := req.Limit
	if req.PCs != nil && len(req.PCs) < limit {
		limit = len(req.PCs)
	}
	if limit <= 0 {
		return res
	}

	pcs := req.PCs
	filled := 0
	emit := func(pc uint64) {
		if pcs != nil {
			pcs[filled] = pc
		}
		filled++
		res.Depth++
	}
	defer func() {
		for i := filled; pcs != nil && i < limit; i++ {
			pcs[i] = 0
		}
	}()

	if !regs.UserMode() {
		return res
	}
	bound, ok := task.TraceState()
	if !ok {
		return res
	}

	w.stats.Captures.Add(1)
	sfc := successfailurecounter.New(&w.stats.Complete, &w.stats.Truncated)
	defer sfc.DefaultToSuccess()
	defer func() { w.stats.Frames.Add(uint64(res.Depth)) }()

	emit(uint64(regs.IP))
	if w.execPages != nil {
		w.execPages.Purge()
	}

	mem := task.UserMemory()
	if !mem.Valid() {
		res.Truncated = true
		sfc.ReportFailure()
		return res
	}
	space := task.AddressSpace()
	for sp := regs.SP; sp <= bound && filled < limit; sp += libpf.WordSize {
		pc, err := mem.Uint64Checked(sp)
		if err != nil {
			res.Truncated = true
			sfc.ReportFailure()
			break
		}
		if w.isUserExec(space, libpf.Address(pc)) {
			emit(pc)
		}
		if sp+libpf.WordSize < sp {
			break
		}
	}
	return res
}

// isUserExec checks a candidate return address with interrupts disabled, so
// the translation structure can't be torn down during the walk.
func (w *Walker) isUserExec(space pagetables.Translator, pc libpf.Address) bool {
	if space == nil {
		return false
	}
	page := pc.PageAligned()
	if w.execPages != nil {
		if exec, ok := w.execPages.Get(page); ok {
			w.stats.CacheHits.Add(1)
			return exec
		}
		w.stats.CacheMisses.Add(1)
	}

	irq := w.core.IRQSave()
	exec := pagetables.IsUserExec(space, page)
	w.core.IRQRestore(irq)

	if w.execPages != nil {
		w.execPages.Add(page, exec)
	}
	return exec
}
