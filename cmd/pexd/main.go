// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/pex/internal/config"
	xglog "github.com/ManuGH/pex/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

type options struct {
	configPath string
	refreshHD  bool
	once       bool
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	refreshHD := flag.Bool("refresh-hd", false, "re-classify owned files from the manifest and exit")
	once := flag.Bool("once", false, "exit after the first run settles")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config file is read.
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "pex",
		Version: version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = config.DefaultConfigPath(config.DefaultCacheDir())
	}

	err := run(ctx, options{configPath: path, refreshHD: *refreshHD, once: *once})
	if err != nil {
		stop()
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "daemon.failed").
			Msg("pex stopped with an error")
	}
}
