// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package trap

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/probetrap/cpu"
	"go.opentelemetry.io/probetrap/invop"
	"go.opentelemetry.io/probetrap/libpf"
	"go.opentelemetry.io/probetrap/remotememory"
	"go.opentelemetry.io/probetrap/x86helpers"
)

const textBase = libpf.Address(0xffff_ffff_8100_0000)

// Offsets into the test text page.
const (
	siteLock    = 0x00 // lock; nopl (%rax)
	sitePush    = 0x10 // push %rbp
	siteRet     = 0x20 // ret
	siteLoad    = 0x30 // mov (%rax),%rbx
	siteLoadByt = 0x40 // movzbl (%rdi),%eax
	siteCut     = libpf.PageSize - 2
)

// siteHandler claims traps at one address.
type siteHandler struct {
	site   libpf.Address
	result invop.Result
	calls  atomic.Int32
	seenIP atomic.Uint64
}

func (h *siteHandler) HandleInvop(regs *cpu.Regs) invop.Result {
	h.calls.Add(1)
	h.seenIP.Store(uint64(regs.IP))
	if regs.IP != h.site {
		return invop.ResultNone
	}
	return h.result
}

func newText(t *testing.T) remotememory.RemoteMemory {
	t.Helper()
	mem := remotememory.NewSparseMemory()
	mem.Map(textBase, libpf.PageSize)
	code := map[libpf.Address][]byte{
		siteLock:    {x86helpers.OpcodeLock, 0x0f, 0x1f, 0x00},
		sitePush:    {x86helpers.OpcodePushRBP},
		siteRet:     {x86helpers.OpcodeRet},
		siteLoad:    {0x48, 0x8b, 0x18},
		siteLoadByt: {0x0f, 0xb6, 0x07},
		siteCut:     {0x48, 0x8b},
	}
	for off, b := range code {
		_, err := mem.WriteAt(b, int64(textBase+off))
		require.NoError(t, err)
	}
	return remotememory.RemoteMemory{ReaderAt: mem}
}

func newDispatcher(t *testing.T, handlers ...invop.Handler) (*Dispatcher, []cpu.Core) {
	t.Helper()
	reg := invop.NewRegistry(0)
	for _, h := range handlers {
		require.NoError(t, reg.Add(h))
	}
	cores := cpu.NewCores(2)
	return NewDispatcher(reg, newText(t), cores, nil), cores
}

func kernelRegs(off libpf.Address) *cpu.Regs {
	return &cpu.Regs{IP: textBase + off, SP: 0xffff_c900_0000_8000, CS: cpu.KernelCS}
}

func TestBreakpoint(t *testing.T) {
	site := textBase + 0x80
	tests := map[string]struct {
		result invop.Result
		action Action
		ip     libpf.Address
	}{
		"unclaimed": {result: invop.ResultNone, action: NotHandled, ip: site + 1},
		"nops":      {result: invop.ResultNops, action: HandledStop, ip: site + 5},
		"push":      {result: invop.ResultPushBP, action: HandledStatus, ip: site},
		"unknown":   {result: invop.Result(0x42), action: NotHandled, ip: site + 1},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			h := &siteHandler{site: site, result: test.result}
			d, _ := newDispatcher(t, h)

			regs := &cpu.Regs{IP: site + 1, CS: cpu.KernelCS}
			ev := &Event{Kind: KindBreakpoint, Vector: x86helpers.VectorBreakpoint, Regs: regs}
			v := d.Notify(ev)

			assert.Equal(t, test.action, v.Action)
			assert.Equal(t, site, libpf.Address(h.seenIP.Load()))
			assert.Equal(t, test.ip, regs.IP)
			assert.Equal(t, x86helpers.VectorBreakpoint, ev.Vector)
		})
	}
}

func TestInvalidOpcode(t *testing.T) {
	site := textBase + 0x80
	tests := map[string]struct {
		result  invop.Result
		verdict Verdict
		ip      libpf.Address
		notify  int
	}{
		"unclaimed": {verdict: Verdict{}, ip: site, notify: NotifyDone},
		"nops": {result: invop.ResultNops, verdict: Verdict{Action: HandledStop},
			ip: site + x86helpers.CallSiteSize, notify: NotifyOK | NotifyStopMask},
		"mov rsp rbp": {result: invop.ResultMovRspRbp,
			verdict: Verdict{Action: HandledStatus, Status: invop.ResultMovRspRbp},
			ip:      site, notify: NotifyStopMask | 0x49},
		"nop": {result: invop.ResultNop,
			verdict: Verdict{Action: HandledStatus, Status: invop.ResultNop},
			ip:      site, notify: NotifyStopMask | 0x91},
		"push bp": {result: invop.ResultPushBP,
			verdict: Verdict{Action: HandledStatus, Status: invop.ResultPushBP},
			ip:      site, notify: NotifyStopMask | 0x56},
		"ret": {result: invop.ResultRet,
			verdict: Verdict{Action: HandledStatus, Status: invop.ResultRet},
			ip:      site, notify: NotifyStopMask | 0xc4},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			h := &siteHandler{site: site, result: test.result}
			d, _ := newDispatcher(t, h)

			regs := &cpu.Regs{IP: site, CS: cpu.KernelCS}
			v := d.Notify(&Event{Kind: KindTrap, Vector: x86helpers.VectorInvalidOpcode,
				Regs: regs})

			assert.Equal(t, test.verdict, v)
			assert.Equal(t, test.notify, v.Notify())
			assert.Equal(t, test.ip, regs.IP)
		})
	}
}

func TestDeclinedWithoutHandlers(t *testing.T) {
	tests := map[string]*Event{
		"trap other vector": {Kind: KindTrap, Vector: 0},
		"other kind":        {Kind: KindOther, Vector: x86helpers.VectorInvalidOpcode},
		"page fault":        {Kind: KindPageFault, Vector: x86helpers.VectorPageFault, Addr: 0x10},
		"gp other opcode":   {Kind: KindGeneralProtection, Vector: x86helpers.VectorGeneralProtection},
	}

	for name, ev := range tests {
		t.Run(name, func(t *testing.T) {
			h := &siteHandler{site: textBase + siteLoad, result: invop.ResultNops}
			d, cores := newDispatcher(t, h)
			ev.Regs = kernelRegs(siteLoad)
			vector := ev.Vector

			v := d.Notify(ev)
			assert.Equal(t, NotHandled, v.Action)
			assert.Equal(t, NotifyDone, v.Notify())
			assert.Equal(t, int32(0), h.calls.Load())
			assert.Equal(t, textBase+siteLoad, ev.Regs.IP)
			assert.Equal(t, vector, ev.Vector)
			assert.Equal(t, cpu.Flags(0), cores[0].Flags())
			assert.Equal(t, uint64(1), d.Stats().Declined.Load())
		})
	}
}

func TestGeneralProtectionReclassified(t *testing.T) {
	for _, off := range []libpf.Address{siteLock, sitePush, siteRet} {
		t.Run(fmt.Sprintf("site 0x%x", off), func(t *testing.T) {
			claim := &siteHandler{site: textBase + off, result: invop.ResultRet}
			d, _ := newDispatcher(t, claim)

			ev := &Event{Kind: KindGeneralProtection,
				Vector: x86helpers.VectorGeneralProtection, Regs: kernelRegs(off)}
			v := d.Notify(ev)

			assert.Equal(t, Verdict{Action: HandledStatus, Status: invop.ResultRet}, v)
			assert.Equal(t, x86helpers.VectorInvalidOpcode, ev.Vector)
			assert.Equal(t, textBase+off, ev.Regs.IP)
			assert.Equal(t, uint64(1), d.Stats().Reclassified.Load())
		})
	}
}

func TestGeneralProtectionRestored(t *testing.T) {
	h := &siteHandler{site: 0, result: invop.ResultNops}
	d, cores := newDispatcher(t, h)
	cores[1].SetFlags(cpu.FlagNoFault)

	ev := &Event{Kind: KindGeneralProtection, Vector: x86helpers.VectorGeneralProtection,
		Regs: kernelRegs(sitePush), CPU: 1}
	v := d.Notify(ev)

	assert.Equal(t, NotHandled, v.Action)
	assert.Equal(t, int32(1), h.calls.Load())
	assert.Equal(t, x86helpers.VectorGeneralProtection, ev.Vector)
	assert.Equal(t, textBase+sitePush, ev.Regs.IP)
	// A matching opcode is never treated as a bad address.
	assert.False(t, cores[1].IsSet(cpu.FlagBadAddr))
	assert.Equal(t, uint64(1), d.Stats().Restored.Load())
}

func TestBadAddress(t *testing.T) {
	tests := map[string]struct {
		kind   Kind
		vector int
		off    libpf.Address
		length libpf.Address
	}{
		"page fault": {kind: KindPageFault, vector: x86helpers.VectorPageFault,
			off: siteLoad, length: 3},
		"general protection": {kind: KindGeneralProtection,
			vector: x86helpers.VectorGeneralProtection, off: siteLoadByt, length: 3},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			h := &siteHandler{result: invop.ResultNops}
			d, cores := newDispatcher(t, h)
			cores[1].SetFlags(cpu.FlagNoFault)

			ev := &Event{Kind: test.kind, Vector: test.vector, CPU: 1,
				Regs: kernelRegs(test.off), Addr: 0xdead_0000}
			v := d.Notify(ev)

			assert.Equal(t, Verdict{Action: HandledStop}, v)
			assert.Equal(t, textBase+test.off+test.length, ev.Regs.IP)
			assert.True(t, cores[1].IsSet(cpu.FlagBadAddr))
			assert.Equal(t, libpf.Address(0xdead_0000), cores[1].IllVal())
			assert.False(t, cores[0].IsSet(cpu.FlagBadAddr))
			assert.Equal(t, int32(0), h.calls.Load())
			assert.Equal(t, uint64(1), d.Stats().BadAddr.Load())
		})
	}
}

func TestBadAddressUndecodable(t *testing.T) {
	d, cores := newDispatcher(t)
	cores[0].SetFlags(cpu.FlagNoFault)

	ev := &Event{Kind: KindPageFault, Vector: x86helpers.VectorPageFault,
		Regs: kernelRegs(siteCut), Addr: 0x10}
	assert.Panics(t, func() { d.Notify(ev) })

	ev = &Event{Kind: KindGeneralProtection, Vector: x86helpers.VectorGeneralProtection,
		Regs: &cpu.Regs{IP: 0x1000, CS: cpu.KernelCS}}
	assert.Panics(t, func() { d.Notify(ev) })

	assert.Equal(t, uint64(2), d.Stats().Events.Load())
	assert.Equal(t, uint64(2), d.Stats().Undecodable.Load())
}

func TestNotifyWithoutContext(t *testing.T) {
	h := &siteHandler{site: textBase + sitePush, result: invop.ResultPushBP}
	d, cores := newDispatcher(t, h)
	cores[0].SetFlags(cpu.FlagNoFault)

	tests := map[string]*Event{
		"no registers": {Kind: KindPageFault, Vector: x86helpers.VectorPageFault},
		"negative cpu": {Kind: KindBreakpoint, Vector: x86helpers.VectorBreakpoint,
			CPU: -1, Regs: kernelRegs(sitePush + 1)},
		"unknown cpu": {Kind: KindTrap, Vector: x86helpers.VectorInvalidOpcode,
			CPU: 2, Regs: kernelRegs(sitePush)},
	}
	for name, ev := range tests {
		t.Run(name, func(t *testing.T) {
			var before libpf.Address
			if ev.Regs != nil {
				before = ev.Regs.IP
			}
			assert.Equal(t, Verdict{}, d.Notify(ev))
			if ev.Regs != nil {
				assert.Equal(t, before, ev.Regs.IP)
			}
		})
	}
	assert.Equal(t, int32(0), h.calls.Load())
	assert.False(t, cores[0].IsSet(cpu.FlagBadAddr))
	assert.Equal(t, uint64(3), d.Stats().Declined.Load())
}

func TestVerdictNotify(t *testing.T) {
	assert.Equal(t, 0, Verdict{}.Notify())
	assert.Equal(t, 0x8001, Verdict{Action: HandledStop}.Notify())
	assert.Equal(t, 0x80c4, Verdict{Action: HandledStatus, Status: invop.ResultRet}.Notify())
	assert.Equal(t, "handled-status(push-bp)",
		Verdict{Action: HandledStatus, Status: invop.ResultPushBP}.String())
}

func TestConcurrentNotify(t *testing.T) {
	const cpus = 8
	sites := make([]*siteHandler, cpus)
	reg := invop.NewRegistry(0)
	for i := range sites {
		sites[i] = &siteHandler{site: textBase + 0x100 + libpf.Address(i*8),
			result: invop.ResultNops}
		require.NoError(t, reg.Add(sites[i]))
	}
	stats := &Stats{}
	d := NewDispatcher(reg, newText(t), cpu.NewCores(cpus), stats)

	var g errgroup.Group
	for c := 0; c < cpus; c++ {
		g.Go(func() error {
			for i := 0; i < 1000; i++ {
				site := textBase + 0x100 + libpf.Address(((c+i)%cpus)*8)
				regs := &cpu.Regs{IP: site + 1, CS: cpu.KernelCS}
				v := d.Notify(&Event{Kind: KindBreakpoint,
					Vector: x86helpers.VectorBreakpoint, Regs: regs, CPU: c})
				if v.Action != HandledStop || regs.IP != site+5 {
					return fmt.Errorf("cpu%d: %v at %v", c, v, regs.IP)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, uint64(cpus*1000), stats.Handled.Load())
}
