// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package invop keeps the handlers that service invalid-opcode and
// breakpoint traps raised by armed probe sites.
package invop // import "go.opentelemetry.io/probetrap/invop"

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/probetrap/cpu"
)

// Result is what a handler reports about a trap. A zero Result means the
// trap was not raised by one of the handler's probe sites.
type Result uint8

// Results understood by the trap dispatcher. Apart from ResultNops they name
// the instruction that was displaced by the probe and has already been
// emulated by the handler.
const (
	ResultNone      Result = 0
	ResultNops      Result = 0x0f
	ResultMovRspRbp Result = 0x48
	ResultPushBP    Result = 0x55
	ResultNop       Result = 0x90
	ResultRet       Result = 0xc3
)

func (r Result) String() string {
	switch r {
	case ResultNone:
		return "none"
	case ResultNops:
		return "nops"
	case ResultMovRspRbp:
		return "mov-rsp-rbp"
	case ResultPushBP:
		return "push-bp"
	case ResultNop:
		return "nop"
	case ResultRet:
		return "ret"
	default:
		return fmt.Sprintf("result(0x%x)", uint8(r))
	}
}

// Handler classifies and services a trap. Handlers run in trap context: they
// must not block and must leave regs untouched when returning ResultNone.
//
// Handlers are identified by interface equality, so implementations should
// use pointer receivers.
type Handler interface {
	HandleInvop(regs *cpu.Regs) Result
}

var (
	// ErrNoMemory is returned by Add when the registry is at capacity.
	ErrNoMemory = errors.New("out of memory")
	// ErrNotEmpty is returned by Close while handlers are still registered.
	ErrNotEmpty = errors.New("invop handlers still registered")
	// ErrInvalidHandler is returned by Add for a nil handler or one that
	// can't be compared for removal.
	ErrInvalidHandler = errors.New("invalid invop handler")
)

// removable returns true if h can be matched by Remove without panicking.
func removable(h Handler) bool {
	return h != nil && reflect.ValueOf(h).Comparable()
}

type node struct {
	handler Handler
	next    *node
}

// Registry is an ordered set of handlers; the most recently added handler is
// consulted first. Dispatch is lock free and always observes a complete
// list. Add and Remove are serialized with each other. Removing a handler
// does not wait for dispatches already running it; the owner has to quiesce
// probes before releasing a handler's resources.
type Registry struct {
	head atomic.Pointer[node]

	mu       sync.Mutex
	count    int
	capacity int
}

// NewRegistry returns an empty registry holding at most capacity handlers.
// A capacity of zero means no limit.
func NewRegistry(capacity int) *Registry {
	return &Registry{capacity: capacity}
}

// Add links h in front of all previously added handlers.
func (r *Registry) Add(h Handler) error {
	if !removable(h) {
		return fmt.Errorf("adding invop handler %T: %w", h, ErrInvalidHandler)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capacity > 0 && r.count >= r.capacity {
		log.Warnf("Failed to add invop handler: out of memory (%d handlers)", r.count)
		return fmt.Errorf("adding invop handler: %w", ErrNoMemory)
	}
	r.head.Store(&node{handler: h, next: r.head.Load()})
	r.count++
	return nil
}

// Remove unlinks the first occurrence of h. Removing an unknown handler is a
// no-op.
func (r *Registry) Remove(h Handler) {
	if !removable(h) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var prefix []Handler
	for n := r.head.Load(); n != nil; n = n.next {
		if n.handler != h {
			prefix = append(prefix, n.handler)
			continue
		}
		// Nodes are immutable: copy the prefix in front of the shared tail.
		head := n.next
		for i := len(prefix) - 1; i >= 0; i-- {
			head = &node{handler: prefix[i], next: head}
		}
		r.head.Store(head)
		r.count--
		return
	}
}

// Dispatch offers regs to each handler, newest first, and returns the first
// non-zero result.
func (r *Registry) Dispatch(regs *cpu.Regs) Result {
	for n := r.head.Load(); n != nil; n = n.next {
		if rval := n.handler.HandleInvop(regs); rval != ResultNone {
			return rval
		}
	}
	return ResultNone
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close verifies that all handlers have been removed.
func (r *Registry) Close() error {
	if n := r.Len(); n != 0 {
		return fmt.Errorf("%w: %d left", ErrNotEmpty, n)
	}
	return nil
}
