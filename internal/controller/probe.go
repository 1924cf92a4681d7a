// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/probetrap/internal/controller"

import (
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/probetrap/cpu"
	"go.opentelemetry.io/probetrap/invop"
	"go.opentelemetry.io/probetrap/libpf"
	"go.opentelemetry.io/probetrap/remotememory"
	"go.opentelemetry.io/probetrap/textpatch"
	"go.opentelemetry.io/probetrap/trap"
	"go.opentelemetry.io/probetrap/x86helpers"
)

var results = map[string]invop.Result{
	"nops":        invop.ResultNops,
	"mov-rsp-rbp": invop.ResultMovRspRbp,
	"push-bp":     invop.ResultPushBP,
	"nop":         invop.ResultNop,
	"ret":         invop.ResultRet,
}

func parseResult(s string) (invop.Result, error) {
	if r, ok := results[s]; ok {
		return r, nil
	}
	return invop.ResultNone, fmt.Errorf("unknown handler result %q", s)
}

func patchOpcode(s string) (byte, error) {
	switch s {
	case "", "int3":
		return x86helpers.OpcodeInt3, nil
	case "lock":
		return x86helpers.OpcodeLock, nil
	}
	return 0, fmt.Errorf("unknown patch %q", s)
}

// probe is an armed probe site. It is the invop handler for its site.
type probe struct {
	name   string
	addr   libpf.Address
	result invop.Result
	patch  byte

	// orig is the opcode displaced while armed.
	orig  byte
	armed bool
	hits  atomic.Uint64
}

var _ invop.Handler = &probe{}

func newProbe(spec *ProbeSpec) (*probe, error) {
	result, err := parseResult(spec.Result)
	if err != nil {
		return nil, err
	}
	patch, err := patchOpcode(spec.Patch)
	if err != nil {
		return nil, err
	}
	return &probe{name: spec.Name, addr: spec.Addr, result: result, patch: patch}, nil
}

// HandleInvop implements invop.Handler.
func (p *probe) HandleInvop(regs *cpu.Regs) invop.Result {
	if regs.IP != p.addr {
		return invop.ResultNone
	}
	p.hits.Add(1)
	return p.result
}

// trapAt returns the notification the armed site raises when executed.
func (p *probe) trapAt() (trap.Kind, int, libpf.Address) {
	if p.patch == x86helpers.OpcodeInt3 {
		return trap.KindBreakpoint, x86helpers.VectorBreakpoint, p.addr + 1
	}
	return trap.KindTrap, x86helpers.VectorInvalidOpcode, p.addr
}

func (p *probe) arm(text *remotememory.SparseMemory) error {
	orig, err := remotememory.RemoteMemory{ReaderAt: text}.Uint8Checked(p.addr)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.name, err)
	}
	if err = textpatch.Arm(text, p.addr, p.patch); err != nil {
		return fmt.Errorf("probe %s: %w", p.name, err)
	}
	p.orig = orig
	p.armed = true
	log.Debugf("Armed probe %s at %v (0x%02x -> 0x%02x)", p.name, p.addr, orig, p.patch)
	return nil
}

func (p *probe) disarm(text *remotememory.SparseMemory) error {
	if !p.armed {
		return nil
	}
	if err := textpatch.Disarm(text, p.addr, p.orig); err != nil {
		return fmt.Errorf("probe %s: %w", p.name, err)
	}
	p.armed = false
	log.Debugf("Disarmed probe %s at %v", p.name, p.addr)
	return nil
}
