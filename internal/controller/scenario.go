// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/probetrap/internal/controller"

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"go.opentelemetry.io/probetrap/libpf"
)

// Scenario describes an emulated system and the faults delivered to it.
type Scenario struct {
	Text   TextSpec    `yaml:"text"`
	Probes []ProbeSpec `yaml:"probes"`
	User   UserSpec    `yaml:"user"`
	Events []EventSpec `yaml:"events"`
	Stacks []StackSpec `yaml:"stacks"`
}

// TextSpec is the kernel text region the faults are raised in.
type TextSpec struct {
	Base libpf.Address `yaml:"base"`
	Size uint64        `yaml:"size"`
	Code []CodeSpec    `yaml:"code"`
}

// CodeSpec places machine code at an address.
type CodeSpec struct {
	Addr  libpf.Address `yaml:"addr"`
	Bytes HexBytes      `yaml:"bytes"`
}

// ProbeSpec is a probe site serviced by an invop handler.
type ProbeSpec struct {
	Name string        `yaml:"name"`
	Addr libpf.Address `yaml:"addr"`
	// Result is the value the handler returns for traps at Addr.
	Result string `yaml:"result"`
	// Patch selects the trapping opcode: "int3" or "lock".
	Patch string `yaml:"patch"`
}

// UserSpec is the address space of the traced user thread.
type UserSpec struct {
	Mappings []MappingSpec `yaml:"mappings"`
	Stack    StackMemSpec  `yaml:"stack"`
}

// MappingSpec maps user virtual memory with the given permissions.
type MappingSpec struct {
	Addr libpf.Address `yaml:"addr"`
	Size uint64        `yaml:"size"`
	// Perm is one of r, rw, rx, rwx, none, special or kernel.
	Perm string `yaml:"perm"`
	Huge bool   `yaml:"huge"`
}

// StackMemSpec is the user stack.
type StackMemSpec struct {
	Base  libpf.Address `yaml:"base"`
	Size  uint64        `yaml:"size"`
	Words []uint64      `yaml:"words"`
}

// EventSpec is one fault delivered to a CPU.
type EventSpec struct {
	CPU  int    `yaml:"cpu"`
	Kind string `yaml:"kind"`
	// Probe names the probe the fault is raised at. It sets the instruction
	// pointer and, unless given, the kind.
	Probe   string        `yaml:"probe"`
	IP      libpf.Address `yaml:"ip"`
	Vector  *int          `yaml:"vector"`
	Addr    libpf.Address `yaml:"addr"`
	NoFault bool          `yaml:"nofault"`

	Expect   string         `yaml:"expect"`
	ExpectIP *libpf.Address `yaml:"expect-ip"`
}

// StackSpec is one user stack capture.
type StackSpec struct {
	CPU     int           `yaml:"cpu"`
	IP      libpf.Address `yaml:"ip"`
	SP      libpf.Address `yaml:"sp"`
	Bound   libpf.Address `yaml:"bound"`
	Limit   int           `yaml:"limit"`
	Kernel  bool          `yaml:"kernel"`
	NoTrace bool          `yaml:"notrace"`

	ExpectDepth *int `yaml:"expect-depth"`
}

// HexBytes is machine code written as hex, e.g. "48 8b 18".
type HexBytes []byte

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: code must be a hex string", value.Line)
	}
	b, err := hex.DecodeString(strings.Join(strings.Fields(value.Value), ""))
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*h = b
	return nil
}

// ParseScenario decodes and checks a scenario.
func ParseScenario(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScenario reads the scenario file at path.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseScenario(f)
}

func (s *Scenario) probe(name string) *ProbeSpec {
	for i := range s.Probes {
		if s.Probes[i].Name == name {
			return &s.Probes[i]
		}
	}
	return nil
}

func (s *Scenario) validate() error {
	var errs []error
	if s.Text.Size == 0 {
		errs = append(errs, errors.New("text: size must be set"))
	}
	inText := func(addr libpf.Address, n uint64) bool {
		return addr >= s.Text.Base && uint64(addr-s.Text.Base)+n <= s.Text.Size
	}
	for _, c := range s.Text.Code {
		if !inText(c.Addr, uint64(len(c.Bytes))) {
			errs = append(errs, fmt.Errorf("text: code at %v outside of text", c.Addr))
		}
	}
	names := make(map[string]bool, len(s.Probes))
	for _, p := range s.Probes {
		if names[p.Name] {
			errs = append(errs, fmt.Errorf("probe %q: duplicate name", p.Name))
		}
		names[p.Name] = true
		if !inText(p.Addr, 1) {
			errs = append(errs, fmt.Errorf("probe %q: %v outside of text", p.Name, p.Addr))
		}
		if _, err := parseResult(p.Result); err != nil {
			errs = append(errs, fmt.Errorf("probe %q: %w", p.Name, err))
		}
		if _, err := patchOpcode(p.Patch); err != nil {
			errs = append(errs, fmt.Errorf("probe %q: %w", p.Name, err))
		}
	}
	for _, m := range s.User.Mappings {
		if _, err := permFlags(m.Perm); err != nil {
			errs = append(errs, fmt.Errorf("mapping %v: %w", m.Addr, err))
		}
	}
	if uint64(len(s.User.Stack.Words))*libpf.WordSize > s.User.Stack.Size {
		errs = append(errs, errors.New("stack: more words than fit the stack"))
	}
	for i, ev := range s.Events {
		if ev.Probe != "" && !names[ev.Probe] {
			errs = append(errs, fmt.Errorf("event %d: unknown probe %q", i, ev.Probe))
		}
		if ev.Probe == "" && ev.Kind == "" {
			errs = append(errs, fmt.Errorf("event %d: kind or probe must be set", i))
		}
		if _, err := parseKind(ev.Kind); ev.Kind != "" && err != nil {
			errs = append(errs, fmt.Errorf("event %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
