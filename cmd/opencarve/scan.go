// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opencarve/opencarve/internal/carve"
	"github.com/opencarve/opencarve/internal/config"
	"github.com/opencarve/opencarve/internal/logging"
	"github.com/opencarve/opencarve/internal/metadir"
	"github.com/opencarve/opencarve/internal/parsers"
	"github.com/opencarve/opencarve/internal/registry"
	"github.com/opencarve/opencarve/internal/scheduler"
)

var scanConfiguration struct {
	configPath string
	verbose    bool
}

var scanCommand = &cobra.Command{
	Use:   "scan <path>",
	Short: "Recursively carve and catalogue the contents of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  scanMain,
}

func init() {
	flags := scanCommand.Flags()
	flags.StringVarP(&scanConfiguration.configPath, "config", "c", "", "path to an opencarve.yaml config file")
	flags.BoolVarP(&scanConfiguration.verbose, "verbose", "v", false, "enable debug logging")
}

func scanMain(command *cobra.Command, arguments []string) error {
	cfg := config.Default()
	if scanConfiguration.configPath != "" {
		loaded, err := config.Load(scanConfiguration.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if scanConfiguration.verbose {
		cfg.Verbose = true
	}

	reg := registry.New(parsers.Descriptors())
	if err := cfg.Validate(reg.Matcher().MaxPatternLen()); err != nil {
		return err
	}

	logging.Init(cfg.Verbose)

	store, err := metadir.Open(cfg.UnpackDirectory, metadir.Options{
		TLSHMaximum:  cfg.TLSHMaximum,
		MinFreeBytes: cfg.MinFreeBytes,
	})
	if err != nil {
		return fmt.Errorf("opencarve: open unpack root: %w", err)
	}
	defer store.Close()

	pipeline := carve.New(reg, carve.Config{
		ReadSize:           cfg.ReadSize,
		SignatureChunkSize: cfg.SignatureChunkSize,
		MaxBytes:           cfg.MaxBytes,
	})

	sched := scheduler.New(store, pipeline, scheduler.Config{
		Workers:     cfg.Workers,
		JobWaitTime: cfg.JobWaitTime,
	})

	return sched.Run(context.Background(), arguments[0])
}
