// HisMon - resource and alert sidecar for Gravito services
//
// Samples the process CPU and RAM into Prometheus gauges, relays alerts to a
// webhook, and optionally publishes heartbeats to Redis.
//
// Usage:
//
//	HISMON_APP=my-app HISMON_WEBHOOK_URL=https://hooks.example.com/T/B/X hismon
//
// Or with a config file:
//
//	HISMON_CONFIG=/etc/hismon/config.yaml hismon
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravito-framework/hismon-go/pkg/agent"
	"github.com/gravito-framework/hismon-go/pkg/config"
	"github.com/gravito-framework/hismon-go/pkg/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Handle --help or --version
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--help", "-h":
			printHelp()
			os.Exit(0)
		case "--version", "-v":
			fmt.Printf("hismon %s (commit: %s, built: %s)\n", version, commit, date)
			os.Exit(0)
		}
	}

	fmt.Printf(`
  HisMon %s (%s)
  CPU, RAM and alerts for every Gravito service.

`, version, commit[:min(7, len(commit))])

	// Load configuration
	cfg, err := config.LoadAuto()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration error", "error", err)
		fmt.Println("\nRun 'hismon --help' for usage information.")
		os.Exit(1)
	}

	logs := logging.Setup(logging.Options{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		MaxBytes:    cfg.Log.MaxBytes,
		BackupCount: cfg.Log.BackupCount,
		LokiURL:     cfg.Log.LokiURL,
		Tags:        cfg.Log.LokiTags,
	})
	defer logs.Close()
	logger := logs.Logger.With("logger", "hismon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := agent.New(cfg, agent.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to create agent", "error", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		logger.Error("Failed to start agent", "error", err)
		os.Exit(1)
	}

	// Live log level changes from the config file
	if path := os.Getenv("HISMON_CONFIG"); path != "" {
		go func() {
			err := config.Watch(ctx, path, func(next *config.Config) {
				logs.SetLevel(next.Log.Level)
				logger.Info("Configuration reloaded", "level", next.Log.Level)
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn("Config watch stopped", "error", err)
			}
		}()
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)

	// Graceful shutdown
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
		logs.Close()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`Usage: hismon [options]

HisMon samples this process's CPU and RAM into Prometheus gauges and delivers
alert messages to a webhook without blocking the caller.

Environment Variables:
  HISMON_APP            (Required) Application name, used as the metric prefix
  HISMON_NAME           Custom node name for heartbeats (default: hostname)
  HISMON_CONFIG         Optional YAML config file (watched for log level changes)
  HISMON_INTERVAL       Sampling interval in seconds (default: 5)
  HISMON_WEBHOOK_URL    Alert webhook endpoint (disabled when empty)
  HISMON_METRICS_ADDR   Listen address for /metrics, /healthz, /alert (default: :9100)
  HISMON_REDIS_URL      Redis URL for heartbeats and the alert relay (optional)
  HISMON_LOG_LEVEL      DEBUG, INFO, WARN or ERROR (default: INFO)
  HISMON_LOG_FILE       Rotating log file path
  HISMON_LOG_MAX_BYTES  Rotate after this many bytes (default: 1048576)
  HISMON_LOG_BACKUPS    Rotated files to keep (default: 1)
  HISMON_LOKI_URL       Loki push endpoint
  HISMON_LOKI_TAGS      Loki stream labels, e.g. "env=prod,team=core"

Options:
  -h, --help      Show this help message
  -v, --version   Show version information

Examples:
  # Metrics only
  HISMON_APP=billing hismon

  # Alerts and heartbeats
  HISMON_APP=billing \
  HISMON_WEBHOOK_URL=https://hooks.slack.com/services/T000/B000/XXXX \
  HISMON_REDIS_URL=redis://localhost:6379 \
  hismon

  # Raise an alert
  curl -X POST localhost:9100/alert -d '{"text":"disk almost full"}'
  redis-cli PUBLISH hismon:alert:billing "disk almost full"
`)
}
