// Command selfstartd is the daemon binary: it wires the Registry
// Store, Runtime Adapter, and the five control loops (Service
// Discovery, Container Orchestrator, Reverse Proxy, Auto-Scaler,
// Auto-Shutdown) together behind the Hook Bus, and serves the public
// HTTP API over them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/selfstart/internal/config"
	"github.com/cuemby/selfstart/internal/logging"
	"github.com/cuemby/selfstart/internal/registry"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Exit codes per the daemon's external interface contract.
const (
	exitOK           = 0
	exitGeneric      = 1
	exitConfigError  = 2
	exitRuntimeError = 3
	exitStoreError   = 4
)

var rootCmd = &cobra.Command{
	Use:   "selfstartd",
	Short: "selfstartd - container auto-start, scaling, and shutdown daemon",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runServer())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("selfstartd %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the registry store's relational schema and exit",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runMigrate())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitGeneric)
	}
}

func runMigrate() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigError
	}
	if cfg.RedisURL == "" {
		fmt.Println("registry store: in-memory, nothing to migrate")
		return exitOK
	}
	store, err := registry.OpenSQLite(cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store error: %v\n", err)
		return exitStoreError
	}
	defer store.Close()
	fmt.Println("registry store: schema up to date")
	return exitOK
}

func runServer() int {
	bootLogger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("DEV_MODE") == "true")

	watcher, err := config.NewWatcher(bootLogger)
	if err != nil {
		bootLogger.Error().Err(err).Msg("configuration error")
		return exitConfigError
	}
	cfg := watcher.Current()
	logger := logging.New(os.Getenv("LOG_LEVEL"), cfg.DevMode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(cfg.RedisURL)
	if err != nil {
		logger.Error().Err(err).Msg("registry store unreachable")
		return exitStoreError
	}
	defer store.Close()

	adapter, err := dialRuntime(ctx, logger)
	if err != nil {
		logger.Error().Err(err).Msg("runtime unreachable")
		return exitRuntimeError
	}

	deps := wireDependencies(adapter, store, logger)

	go watcher.Watch(ctx)
	go deps.discovery.Run(ctx)
	go deps.autoscaler.Run(ctx)
	go deps.orchestrator.Run(ctx)
	go deps.autoshutdown.Run(ctx)
	go deps.proxy.RunHealthChecks(ctx)
	stopWS := make(chan struct{})
	go deps.wsHub.Run(stopWS)
	defer close(stopWS)

	srv := newServer(&cfg, deps, logger)
	logger.Info().Str("addr", srv.Addr).Msg("selfstartd listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.StartupTimeout)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		return exitOK
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return exitGeneric
		}
		return exitOK
	}
}
