// Copyright 2026 The Wattwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/wattwatch/wattwatch/ingest"
	"github.com/wattwatch/wattwatch/lib/config"
	"github.com/wattwatch/wattwatch/lib/metrics"
	"github.com/wattwatch/wattwatch/lib/process"
	"github.com/wattwatch/wattwatch/lib/service"
	"github.com/wattwatch/wattwatch/lib/version"
	"github.com/wattwatch/wattwatch/transport"
)

const binaryName = "wattwatch-ingest"

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to wattwatch.yaml (default: $"+config.EnvVar+")")
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

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	level, err := service.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := service.NewLogger(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dispatcher, err := ingest.Build(cfg, ingest.BuildOptions{
		Logger:  logger,
		Metrics: metrics.NewPipeline(registry),
	})
	if err != nil {
		return err
	}

	password, err := cfg.MQTTPassword()
	if err != nil {
		return err
	}
	subscriber, err := transport.NewMQTTSubscriber(transport.MQTTConfig{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       password,
		QoS:            byte(cfg.MQTT.QoS),
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		Logger:         logger.With("component", "mqtt"),
	})
	if err != nil {
		return err
	}

	// The status socket and metrics listener outlive the signal so
	// operators can watch the drain.
	surfaceContext, stopSurfaces := context.WithCancel(context.Background())
	defer stopSurfaces()

	socketServer := service.NewSocketServer(cfg.Service.StatusSocket, logger)
	registerActions(socketServer, dispatcher)
	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(surfaceContext)
	}()

	var metricsServer *http.Server
	if cfg.Service.MetricsListen != "" {
		listener, err := net.Listen("tcp", cfg.Service.MetricsListen)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		metricsServer = &http.Server{
			Handler:           newRouter(dispatcher, registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics listening", "address", listener.Addr().String())
	}

	subscribeContext, cancelSubscribe := context.WithTimeout(ctx, cfg.MQTT.ConnectTimeout)
	err = subscriber.Subscribe(subscribeContext, cfg.MQTT.Topic, dispatcher.Handle)
	cancelSubscribe()
	if err != nil {
		subscriber.Close()
		shutdownSurfaces(logger, stopSurfaces, socketDone, metricsServer)
		return fmt.Errorf("subscribing to %q: %w", cfg.MQTT.Topic, err)
	}

	logger.Info("ingest running",
		"version", version.Info(),
		"broker", cfg.MQTT.Broker,
		"topic", cfg.MQTT.Topic,
		"gateway", cfg.Gateway.BaseURL,
		"scoring_concurrency", cfg.Scoring.Concurrency,
		"power_threshold", cfg.Scoring.PowerThreshold,
	)

	<-ctx.Done()
	logger.Info("shutting down", "drain_timeout", cfg.Pipeline.DrainTimeout)

	// Stop accepting messages first so the drain has a fixed set.
	if err := subscriber.Close(); err != nil {
		logger.Warn("closing subscription", "error", err)
	}

	// Close also releases the gateway client once no run can use it.
	drainContext, cancelDrain := context.WithTimeout(context.Background(), cfg.Pipeline.DrainTimeout)
	defer cancelDrain()
	drainErr := dispatcher.Close(drainContext)

	stats := dispatcher.Stats()
	logger.Info("ingest stopped",
		"received", stats.Received,
		"done", stats.Done,
		"stored_only", stats.StoredOnly,
		"dropped", stats.Dropped,
	)

	shutdownSurfaces(logger, stopSurfaces, socketDone, metricsServer)
	return drainErr
}

// loadConfig reads the file named by --config, falling back to
// WATTWATCH_CONFIG, and validates it.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func shutdownSurfaces(logger *slog.Logger, stopSurfaces context.CancelFunc, socketDone <-chan error, metricsServer *http.Server) {
	stopSurfaces()
	if err := <-socketDone; err != nil {
		logger.Error("status socket error", "error", err)
	}
	if metricsServer != nil {
		shutdownContext, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownContext); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
}
