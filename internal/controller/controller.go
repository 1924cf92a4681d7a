// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller replays a scenario of probe traps, bad address faults
// and user stack captures on an emulated machine.
package controller // import "go.opentelemetry.io/probetrap/internal/controller"

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/probetrap/metrics/agentmetrics"
	"go.opentelemetry.io/probetrap/metrics/probemetrics"
)

// Controller is an instance that runs, manages and stops a scenario.
type Controller struct {
	config   *Config
	scenario *Scenario
	sys      *system

	stops []func()
}

// New creates a new controller. The scenario is loaded from
// cfg.Scenario on Start.
func New(cfg *Config) *Controller {
	return &Controller{config: cfg}
}

// NewWithScenario creates a controller for an already parsed scenario.
func NewWithScenario(cfg *Config, s *Scenario) *Controller {
	return &Controller{config: cfg, scenario: s}
}

// Start builds the emulated machine and arms all probes.
// The controller should only be started once.
func (c *Controller) Start(ctx context.Context) error {
	if c.config == nil {
		return errors.New("missing configuration")
	}
	if c.scenario == nil {
		s, err := LoadScenario(c.config.Scenario)
		if err != nil {
			return fmt.Errorf("failed to load scenario: %w", err)
		}
		c.scenario = s
	}

	sys, err := newSystem(c.config, c.scenario)
	if err != nil {
		return fmt.Errorf("failed to build system: %w", err)
	}
	c.sys = sys

	if interval := c.config.MetricsInterval; interval > 0 {
		stop, err := agentmetrics.Start(ctx, interval)
		if err != nil {
			log.Warnf("Agent metrics disabled: %v", err)
		} else {
			c.stops = append(c.stops, stop)
		}
		c.stops = append(c.stops, probemetrics.Start(ctx, interval, probemetrics.Sources{
			Trap:     sys.dispatcher.Stats(),
			UStack:   sys.ustats,
			Handlers: sys.registry,
		}))
	}

	if err = sys.armAll(); err != nil {
		return fmt.Errorf("failed to arm probes: %w", err)
	}
	log.Infof("Armed %d probes on %d CPUs", len(sys.order), len(sys.cores))
	return nil
}

// Run delivers the events and captures the stacks of the scenario. Each CPU
// replays its own events in order; CPUs run concurrently. A non-nil report
// is returned even if expectations failed.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	if c.sys == nil {
		return nil, errors.New("controller not started")
	}
	s := c.scenario
	for i, ev := range s.Events {
		if ev.CPU < 0 || ev.CPU >= len(c.sys.cores) {
			return nil, fmt.Errorf("event %d: no cpu %d", i, ev.CPU)
		}
	}
	for i, st := range s.Stacks {
		if st.CPU < 0 || st.CPU >= len(c.sys.cores) {
			return nil, fmt.Errorf("stack %d: no cpu %d", i, st.CPU)
		}
	}

	report := &Report{
		Events: make([]EventResult, len(s.Events)),
		Stacks: make([]StackResult, len(s.Stacks)),
	}

	g, gctx := errgroup.WithContext(ctx)
	for cpuID := range c.sys.cores {
		g.Go(func() error {
			for i := range s.Events {
				if s.Events[i].CPU != cpuID {
					continue
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				report.Events[i] = c.sys.deliver(i, &s.Events[i], s)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	g, gctx = errgroup.WithContext(ctx)
	for cpuID := range c.sys.cores {
		g.Go(func() error {
			for i := range s.Stacks {
				if s.Stacks[i].CPU != cpuID {
					continue
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				report.Stacks[i] = c.sys.capture(i, &s.Stacks[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := report.check(s); err != nil {
		return report, ErrorWithExitCode{error: err, code: ExitExpectationFailed}
	}
	return report, nil
}

// Shutdown disarms all probes and stops metric reporting.
func (c *Controller) Shutdown() error {
	log.Info("Stop processing ...")
	var err error
	if c.sys != nil {
		err = c.sys.disarmAll()
	}
	for i := len(c.stops) - 1; i >= 0; i-- {
		c.stops[i]()
	}
	c.stops = nil
	return err
}
