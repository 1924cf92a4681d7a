// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package config holds the settings of a probetrap run.
package config // import "go.opentelemetry.io/probetrap/config"

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tklauser/numcpus"

	"go.opentelemetry.io/probetrap/pagetables"
)

const (
	// MaxCPUs bounds the number of emulated processors.
	MaxCPUs = 1024

	defaultMaxHandlers     = 64
	defaultExecCacheSize   = 256
	defaultMetricsInterval = 1 * time.Second
	defaultPagingLevels    = 4
)

// Config is the configuration of a scenario run.
type Config struct {
	// Scenario is the path of the scenario file to replay.
	Scenario string `yaml:"scenario"`
	// CPUs is the number of emulated processors.
	CPUs int `yaml:"cpus"`
	// PagingLevels selects 4 or 5 level translation tables.
	PagingLevels int `yaml:"paging-levels"`
	// MaxHandlers is the capacity of the invop registry, 0 means unlimited.
	MaxHandlers int `yaml:"max-handlers"`
	// ExecCacheSize is the number of page verdicts each stack walker caches
	// during one capture, 0 disables the cache.
	ExecCacheSize uint `yaml:"exec-cache-size"`
	// MetricsInterval is the interval of metric reporting, 0 disables it.
	MetricsInterval time.Duration `yaml:"metrics-interval"`
	Verbose         bool          `yaml:"verbose"`
}

// Default returns the configuration used when no flags are given.
func Default() *Config {
	cpus, err := numcpus.GetOnline()
	if err != nil {
		log.Warnf("Failed to read online CPUs, using 1: %v", err)
		cpus = 1
	}
	return &Config{
		CPUs:            min(cpus, MaxCPUs),
		PagingLevels:    defaultPagingLevels,
		MaxHandlers:     defaultMaxHandlers,
		ExecCacheSize:   defaultExecCacheSize,
		MetricsInterval: defaultMetricsInterval,
	}
}

// Validate checks if the configuration is valid.
func (cfg *Config) Validate() error {
	if cfg.Scenario == "" {
		return errors.New("a scenario file must be given")
	}
	if cfg.CPUs <= 0 || cfg.CPUs > MaxCPUs {
		return fmt.Errorf("cpus must be in [1,%d], got %d", MaxCPUs, cfg.CPUs)
	}
	if pagetables.LevelsFor(cfg.PagingLevels) == nil {
		return fmt.Errorf("unsupported number of paging levels: %d", cfg.PagingLevels)
	}
	if cfg.MaxHandlers < 0 {
		return fmt.Errorf("max handlers must not be negative, got %d", cfg.MaxHandlers)
	}
	if cfg.ExecCacheSize > 1<<20 {
		return fmt.Errorf("exec cache size %d too large", cfg.ExecCacheSize)
	}
	if cfg.MetricsInterval != 0 && cfg.MetricsInterval < 10*time.Millisecond {
		return fmt.Errorf("metrics interval %v too short", cfg.MetricsInterval)
	}
	return nil
}
