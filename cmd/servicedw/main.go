//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of ServiceDW.
//
// ServiceDW is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// ServiceDW is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with ServiceDW. If not, see https://www.gnu.org/licenses/.

// main.go - ServiceDW command line: clean, load, run, kpi and serve
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/aaronlmathis/servicedw/config"
	"github.com/aaronlmathis/servicedw/logging"
)

const usage = `usage: servicedw <command> [flags]

commands:
  clean   clean the raw extracts into the cleaned directory
  load    load the cleaned files into the warehouse
  run     clean then load as one pipeline
  kpi     compute catalog KPIs and print or export them
  serve   serve the KPI API over HTTP

run "servicedw <command> -h" for the flags of a command.
`

// commonFlags are shared by every subcommand.
type commonFlags struct {
	envFile  string
	manifest string
	logLevel string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.envFile, "env", ".env", "dotenv file to load (missing is fine)")
	fs.StringVar(&c.manifest, "manifest", "", "YAML manifest describing the sources")
	fs.StringVar(&c.logLevel, "log-level", "", "overrides LOG_LEVEL")
}

// setup loads the configuration and installs the logger.
func (c *commonFlags) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.envFile, c.manifest)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration: %w", err)
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		return nil, nil, fmt.Errorf("configuration: %w", err)
	}
	return cfg, logger, nil
}

type command func(ctx context.Context, args []string, stdout io.Writer) error

func commands() map[string]command {
	return map[string]command{
		"clean": runClean,
		"load":  runLoad,
		"run":   runPipeline,
		"kpi":   runKPI,
		"serve": runServe,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute dispatches args to a subcommand and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	}
	cmd, ok := commands()[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	err := cmd(ctx, args[1:], stdout)
	defer zap.L().Sync() //nolint:errcheck
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case isUsageError(err):
		fmt.Fprintln(stderr, err)
		return 2
	default:
		zap.L().Error("command failed", zap.String("command", args[0]), zap.Error(err))
		fmt.Fprintf(stderr, "servicedw %s: %v\n", args[0], err)
		return 1
	}
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func isUsageError(err error) bool {
	var ue *usageError
	return errors.As(err, &ue)
}
