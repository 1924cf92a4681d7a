// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/probetrap/internal/controller"

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/probetrap/cpu"
	"go.opentelemetry.io/probetrap/libpf"
	"go.opentelemetry.io/probetrap/pagetables"
	"go.opentelemetry.io/probetrap/trap"
)

// EventResult is the outcome of one delivered fault.
type EventResult struct {
	Index   int
	CPU     int
	Kind    trap.Kind
	Vector  int
	IP      libpf.Address
	NewIP   libpf.Address
	Verdict trap.Verdict
	Flags   cpu.Flags
	IllVal  libpf.Address
	Err     error
}

// FramePage is the leaf mapping of a captured frame. Size is zero if the
// frame is not mapped in the task's address space.
type FramePage struct {
	PTE  pagetables.PTE
	Size uint64
}

func (fp FramePage) String() string {
	if fp.Size == 0 {
		return "unmapped"
	}
	return fmt.Sprintf("%v %dK", fp.PTE, fp.Size>>10)
}

// StackResult is the outcome of one user stack capture.
type StackResult struct {
	Index     int
	CPU       int
	Depth     int
	Truncated bool
	PCs       []uint64
	// Pages holds the mapping of each entry of PCs.
	Pages []FramePage
}

// Report holds the results of a run in scenario order.
type Report struct {
	Events []EventResult
	Stacks []StackResult
}

// matches returns true if the outcome is what expect names: "declined",
// "handled", "status", "panic" or the name of a handler result.
func (r *EventResult) matches(expect string) bool {
	if r.Err != nil {
		return expect == "panic"
	}
	switch expect {
	case "declined":
		return r.Verdict.Action == trap.NotHandled
	case "handled":
		return r.Verdict.Action == trap.HandledStop
	case "status":
		return r.Verdict.Action == trap.HandledStatus
	}
	want, err := parseResult(expect)
	return err == nil && r.Verdict.Action == trap.HandledStatus && r.Verdict.Status == want
}

func (r *Report) check(s *Scenario) error {
	var errs []error
	for i := range r.Events {
		res, spec := &r.Events[i], &s.Events[i]
		if spec.Expect != "" && !res.matches(spec.Expect) {
			errs = append(errs, fmt.Errorf("event %d: expected %s, got %v (err: %v)",
				i, spec.Expect, res.Verdict, res.Err))
		} else if spec.Expect == "" && res.Err != nil {
			errs = append(errs, fmt.Errorf("event %d: %w", i, res.Err))
		}
		if spec.ExpectIP != nil && *spec.ExpectIP != res.NewIP {
			errs = append(errs, fmt.Errorf("event %d: expected ip %v, got %v",
				i, *spec.ExpectIP, res.NewIP))
		}
	}
	for i := range r.Stacks {
		res, spec := &r.Stacks[i], &s.Stacks[i]
		if spec.ExpectDepth != nil && *spec.ExpectDepth != res.Depth {
			errs = append(errs, fmt.Errorf("stack %d: expected depth %d, got %d",
				i, *spec.ExpectDepth, res.Depth))
		}
	}
	return errors.Join(errs...)
}

// Write prints the report in a human readable form.
func (r *Report) Write(w io.Writer) error {
	var b strings.Builder
	for _, ev := range r.Events {
		fmt.Fprintf(&b, "event %d cpu%d %-18s vector=%-2d ip=%v -> %v",
			ev.Index, ev.CPU, ev.Kind, ev.Vector, ev.IP, ev.NewIP)
		if ev.Err != nil {
			fmt.Fprintf(&b, " error: %v\n", ev.Err)
			continue
		}
		fmt.Fprintf(&b, " %v (notify 0x%04x)", ev.Verdict, ev.Verdict.Notify())
		if ev.Flags&cpu.FlagBadAddr != 0 {
			fmt.Fprintf(&b, " badaddr=%v", ev.IllVal)
		}
		b.WriteByte('\n')
	}
	for _, st := range r.Stacks {
		fmt.Fprintf(&b, "stack %d cpu%d depth=%d", st.Index, st.CPU, st.Depth)
		if st.Truncated {
			b.WriteString(" truncated")
		}
		b.WriteByte('\n')
		for i, pc := range st.PCs {
			fmt.Fprintf(&b, "\t0x%x %v\n", pc, st.Pages[i])
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
