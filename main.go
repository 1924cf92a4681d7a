// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// probetrap replays scenarios of probe traps and user stack captures against
// the trap interception layer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/probetrap/internal/controller"
	"go.opentelemetry.io/probetrap/vc"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package returns this on flag parse errors
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return parseError("Failure to parse arguments: %v", err)
	}

	if cfg.Version {
		fmt.Println(vc.String())
		return exitSuccess
	}

	if cfg.Verbose {
		log.SetLevel(log.DebugLevel)
		// Dump the arguments in debug mode.
		cfg.Dump()
	}

	if err = cfg.Validate(); err != nil {
		return parseError("%v", err)
	}

	// Context to drive main goroutine and the metric reporters.
	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM, unix.SIGABRT)
	defer mainCancel()

	log.Infof("Starting probetrap %s", vc.String())

	ctlr := controller.New(cfg)
	defer func() {
		if err := ctlr.Shutdown(); err != nil {
			log.Errorf("Failed to shut down cleanly: %v", err)
		}
	}()

	if err = ctlr.Start(mainCtx); err != nil {
		return failure("Failed to start: %v", err)
	}

	report, err := ctlr.Run(mainCtx)
	if report != nil {
		if werr := report.Write(os.Stdout); werr != nil {
			log.Errorf("Failed to write report: %v", werr)
		}
	}
	if err != nil {
		var exitErr controller.ErrorWithExitCode
		if errors.As(err, &exitErr) {
			log.Error(exitErr)
			return exitCode(exitErr.Code())
		}
		return failure("Failed to run scenario: %v", err)
	}

	log.Info("Exiting ...")
	return exitSuccess
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitFailure
}
