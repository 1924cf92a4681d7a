// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"

	"github.com/peterbourgon/ff/v3"

	"go.opentelemetry.io/probetrap/config"
	"go.opentelemetry.io/probetrap/internal/controller"
)

// Help strings for command line arguments
var (
	configHelp          = "Path of a plain text file with one flag per line (flag value)."
	scenarioHelp        = "Path of the YAML scenario to replay."
	cpusHelp            = "Number of emulated CPUs. Defaults to the number of online CPUs."
	pagingLevelsHelp    = "Depth of the user page tables (4 or 5)."
	maxHandlersHelp     = "Maximum number of registered invop handlers, 0 for no limit."
	execCacheSizeHelp   = "Number of page verdicts cached per stack capture, 0 to disable."
	metricsIntervalHelp = "Interval of metric reporting, 0 to disable."
	verboseModeHelp     = "Enable verbose logging and debugging capabilities."
	versionHelp         = "Show version."
)

func parseArgs(arguments []string) (*controller.Config, error) {
	args := controller.Config{Config: *config.Default()}

	fs := flag.NewFlagSet("probetrap", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.String("config", "", configHelp)
	fs.IntVar(&args.CPUs, "cpus", args.CPUs, cpusHelp)
	fs.UintVar(&args.ExecCacheSize, "exec-cache-size", args.ExecCacheSize, execCacheSizeHelp)
	fs.IntVar(&args.MaxHandlers, "max-handlers", args.MaxHandlers, maxHandlersHelp)
	fs.DurationVar(&args.MetricsInterval, "metrics-interval", args.MetricsInterval,
		metricsIntervalHelp)
	fs.IntVar(&args.PagingLevels, "paging-levels", args.PagingLevels, pagingLevelsHelp)

	fs.StringVar(&args.Scenario, "s", "", "Shorthand for -scenario.")
	fs.StringVar(&args.Scenario, "scenario", "", scenarioHelp)

	fs.BoolVar(&args.Verbose, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.Verbose, "verbose", false, verboseModeHelp)
	fs.BoolVar(&args.Version, "version", false, versionHelp)

	fs.Usage = func() {
		fs.PrintDefaults()
	}

	args.Fs = fs

	return &args, ff.Parse(fs, arguments,
		ff.WithEnvVarPrefix("PROBETRAP"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// This will ignore configuration file (only) options that the current
		// version does not recognize.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	)
}
