package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"watchflow/internal/api"
	"watchflow/internal/config"
	"watchflow/internal/fileops"
	"watchflow/internal/logging"
	"watchflow/internal/metrics"
	"watchflow/internal/transport"
	"watchflow/internal/watch"
)

const shutdownTimeout = 15 * time.Second

func newRunCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start every configured watch and block until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd, flags)
		},
	}
}

func runCommand(cmd *cobra.Command, flags *rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	return runWatches(ctx, cfg, cmd.OutOrStdout(), func(logger *logging.Logger) func() {
		return watchShutdownSignals(logger, cancel, signalCh)
	})
}

// runWatches starts the configured watches and the optional API server, then
// blocks until ctx is cancelled and shuts everything down in order.
func runWatches(ctx context.Context, cfg config.Config, stdout io.Writer, onStart func(*logging.Logger) func()) error {
	logger, closeLog, err := buildLogger(cfg.Logging, stdout)
	if err != nil {
		return err
	}
	defer closeLog()

	if onStart != nil {
		stop := onStart(logger)
		defer stop()
	}

	registry := metrics.NewRegistry()
	manager, err := watch.NewManager(cfg.Watches, watch.Dependencies{
		Files:   fileops.New(logger.Component("action")),
		Sender:  transport.NewClient(transport.DefaultTimeout),
		Logger:  logger,
		Metrics: registry,
	})
	if err != nil {
		return err
	}

	coordinator := newShutdownCoordinator(logger)
	var servers errgroup.Group
	if cfg.Server.Enabled {
		server := newAPIServer(cfg.Server, manager, registry, logger)
		servers.Go(func() error {
			logger.Info("api listening", map[string]string{"addr": server.Addr})
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
		coordinator.Add("api server", server.Shutdown)
	}
	coordinator.Add("watches", manager.Stop)

	if err := manager.Start(ctx); err != nil {
		logger.Warn("watch start failed", map[string]string{
			"error": err.Error(),
		})
	}
	active := manager.Active()
	logger.Info("watchflow started", map[string]string{
		"active": strconv.Itoa(active),
		"total":  strconv.Itoa(len(cfg.Watches)),
	})

	var runErr error
	if active == 0 && ctx.Err() == nil {
		runErr = errors.New("no watch could be started")
	} else {
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := coordinator.Run(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if err := servers.Wait(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	logger.Info("watchflow stopped", nil)
	return runErr
}

func newAPIServer(cfg config.ServerConfig, manager *watch.Manager, registry *metrics.Registry, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Options{
		Manager:        manager,
		Logger:         logger,
		Metrics:        registry,
		AuthToken:      cfg.Token,
		AllowedOrigins: cfg.AllowedOrigins,
		Started:        time.Now(),
	})
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildLogger writes to the configured file, or to stdout when none is set.
func buildLogger(cfg config.LoggingConfig, stdout io.Writer) (*logging.Logger, func(), error) {
	level, ok := logging.ParseLevel(cfg.Level)
	if !ok {
		level = logging.LevelInfo
	}
	format, ok := logging.ParseFormat(cfg.Format)
	if !ok {
		format = logging.FormatText
	}
	output := stdout
	closeFile := func() {}
	if cfg.File != "" {
		file, err := logging.OpenFile(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		output = file
		closeFile = func() {
			_ = file.Close()
		}
	}
	logger := logging.New(logging.Options{
		Level:  level,
		Format: format,
		Output: output,
	}, nil)
	return logger, func() {
		logger.Close()
		closeFile()
	}, nil
}
