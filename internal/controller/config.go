// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/probetrap/internal/controller"

import (
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/probetrap/config"
)

// Config is the configuration of the controller.
type Config struct {
	config.Config
	Version bool

	Fs *flag.FlagSet
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	if cfg.Fs == nil {
		return
	}
	log.Debug("Config:")
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debug(fmt.Sprintf("%s: %v", f.Name, f.Value))
	})
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	return cfg.Config.Validate()
}
