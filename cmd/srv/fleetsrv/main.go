package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/quantfleet/fleet-orchestrator/pkg/logging"
	"github.com/quantfleet/fleet-orchestrator/pkg/metrics"
	"github.com/quantfleet/fleet-orchestrator/pkg/orchestrator"
)

type flagOptions struct {
	ConfigFile string `long:"config" short:"c" description:"path to the orchestrator configuration file" required:"true"`
	LogLevel   string `long:"log-level" description:"override the configured log level (debug, info, warn, error)"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	config, err := orchestrator.LoadConfigFromFile(opts.ConfigFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}

	logger, closeLogger, err := logging.NewZapLogger(config.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLogger()

	logger.Infof("Starting fleet orchestrator, config: %s", opts.ConfigFile)

	var m *metrics.Metrics
	var metricsServer *http.Server
	if config.Orchestrator.MetricsAddr != "" {
		m = metrics.MustNewMetrics(nil)
		metricsServer = metrics.StartServer(config.Orchestrator.MetricsAddr, logger)
	}

	o, err := orchestrator.NewOrchestrator(config, m, logger)
	if err != nil {
		logger.Errorf("Failed to create orchestrator: %v", err)
		os.Exit(1)
	}

	// SIGINT/SIGTERM is a graceful handoff: both loops stop, workers
	// are left running.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := o.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := metrics.StopServer(shutdownCtx, metricsServer); err != nil {
		logger.Warnf("Metrics server shutdown failed: %v", err)
	}

	if runErr != nil {
		logger.Errorf("Orchestrator failed: %v", runErr)
		closeLogger()
		os.Exit(1)
	}
}
