// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/wattwatch/wattwatch/lib/config"
	"github.com/wattwatch/wattwatch/lib/process"
	"github.com/wattwatch/wattwatch/lib/readingstore"
	"github.com/wattwatch/wattwatch/lib/service"
	"github.com/wattwatch/wattwatch/lib/version"
)

const binaryName = "wattwatch-store"

// shutdownTimeout bounds how long in-flight requests may run after a
// signal.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to wattwatch.yaml (default: $"+config.EnvVar+")")
	listen := flags.String("listen", "", "override store.listen")
	database := flags.String("database", "", "override store.database")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		version.Print(binaryName)
		return nil
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Store.Listen = *listen
	}
	if *database != "" {
		cfg.Store.Database = *database
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := service.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := service.NewLogger(os.Stderr, level)

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Database), 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	store, err := readingstore.Open(readingstore.Config{
		Path:     cfg.Store.Database,
		PoolSize: cfg.Store.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	listener, err := net.Listen("tcp", cfg.Store.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Store.Listen, err)
	}

	server := &http.Server{
		Handler:           newRouter(store, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(listener)
	}()
	logger.Info("store listening",
		"version", version.Info(),
		"address", listener.Addr().String(),
		"database", cfg.Store.Database,
	)

	select {
	case err := <-serveDone:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownContext); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
