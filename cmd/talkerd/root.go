// ABOUTME: talkerd commands and flags
// ABOUTME: Loads configuration, then runs the worker, relay, and HTTP server together
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Talker-Protocol/talker-go/internal/config"
	"github.com/Talker-Protocol/talker-go/internal/control"
	"github.com/Talker-Protocol/talker-go/internal/logging"
	"github.com/Talker-Protocol/talker-go/internal/version"
	"github.com/Talker-Protocol/talker-go/pkg/discovery"
	"github.com/Talker-Protocol/talker-go/pkg/talker"
)

const shutdownTimeout = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:   "talkerd",
	Short: "Announce this host and report its peers to local owners",
	Long: `talkerd announces a talker on the local network, keeps a table of every
other talker in the same category, and streams that table to owners that
connect to ws://<listen>/control.

Flags override values from the configuration file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringP("config", "c", "", "Configuration file (YAML)")
	flags.StringP("type", "t", config.DefaultType, "Capability type to announce")
	flags.String("category", discovery.DefaultCategory, "Service category shared by all talkers")
	flags.StringP("backend", "b", discovery.BackendMDNS, "Discovery backend: mdns, zeroconf, or memory")
	flags.StringP("listen", "l", config.DefaultListen, "Address for the control channel and metrics")
	flags.Duration("resolve-timeout", 5*time.Second, "How long to wait for each peer resolution")
	flags.Bool("no-metrics", false, "Do not serve /metrics")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-file", "", "Also write logs to this file")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration file and applies explicitly set flags over it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.Changed("type") {
		cfg.Type, _ = flags.GetString("type")
	}
	if flags.Changed("category") {
		cfg.Category, _ = flags.GetString("category")
	}
	if flags.Changed("backend") {
		cfg.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("listen") {
		cfg.Listen, _ = flags.GetString("listen")
	}
	if flags.Changed("resolve-timeout") {
		cfg.ResolveTimeout, _ = flags.GetDuration("resolve-timeout")
	}
	if flags.Changed("no-metrics") {
		noMetrics, _ := flags.GetBool("no-metrics")
		cfg.Metrics = !noMetrics
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-file") {
		cfg.Log.File, _ = flags.GetString("log-file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	opts := cfg.DiscoveryOptions()
	opts.Logger = logger
	backend, err := discovery.New(cfg.Backend, opts)
	if err != nil {
		return err
	}

	tk, err := talker.New(talker.Config{
		Type:           cfg.Type,
		Category:       cfg.Category,
		Backend:        backend,
		ResolveTimeout: cfg.ResolveTimeout,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	relay := control.NewRelay(tk, logger)
	mux := http.NewServeMux()
	mux.Handle("/control", relay)
	if cfg.Metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	srv := &http.Server{Addr: cfg.Listen, Handler: mux}

	logger.Info("starting talkerd",
		zap.String("version", version.Version),
		zap.String("instance", tk.Instance()),
		zap.String("type", cfg.Type),
		zap.String("backend", cfg.Backend),
		zap.String("listen", cfg.Listen))

	if err := tk.Start(); err != nil {
		return err
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	g := new(errgroup.Group)

	g.Go(func() error {
		defer cancel()
		return relay.Run()
	})

	g.Go(func() error {
		defer cancel()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		if sigCtx.Err() != nil {
			logger.Info("received signal, shutting down")
		}

		// The worker error, if any, is reported by the relay
		_ = tk.Stop()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("control server did not shut down cleanly", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("talkerd stopped", zap.Error(err))
		return err
	}
	logger.Info("talkerd stopped")
	return nil
}
