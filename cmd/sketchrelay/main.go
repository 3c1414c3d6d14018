package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sketchrelay/sketchrelay/internal/config"
	"github.com/sketchrelay/sketchrelay/internal/health"
	"github.com/sketchrelay/sketchrelay/internal/history"
	"github.com/sketchrelay/sketchrelay/internal/logging"
	"github.com/sketchrelay/sketchrelay/internal/logring"
	"github.com/sketchrelay/sketchrelay/internal/metrics"
	"github.com/sketchrelay/sketchrelay/internal/relay"
	"github.com/sketchrelay/sketchrelay/internal/room"
	"github.com/sketchrelay/sketchrelay/internal/security"
	"github.com/sketchrelay/sketchrelay/internal/session"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sketchrelay",
		Short: "Multi-room collaborative drawing relay over WebSocket",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the drawing relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sketchrelay %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen: %s\n", cfg.Server.ListenAddress)
			fmt.Printf("  Ops: %s\n", cfg.Ops.ListenAddress)
			fmt.Printf("  Default room: %s\n", cfg.Rooms.DefaultRoom)
			fmt.Printf("  History limit: %d\n", cfg.Rooms.HistoryLimit)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:3001/health", "Health endpoint URL")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRelay(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	// Recent-log ring backs the ops /logs endpoint
	ring := logring.NewRing(cfg.Logging.RingSize)

	lj := logging.Setup(
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.File,
		cfg.Logging.MaxSizeMB,
		cfg.Logging.MaxBackups,
		cfg.Logging.MaxAgeDays,
		cfg.Logging.Compress,
		ring,
	)
	if lj != nil {
		defer lj.Close()
	}

	slog.Info("starting sketchrelay",
		"version", Version,
		"listen", cfg.Server.ListenAddress,
		"ops", cfg.Ops.ListenAddress,
		"default_room", cfg.Rooms.DefaultRoom,
	)

	// Core room state
	store := history.NewStore(cfg.Rooms.HistoryLimit)
	registry := room.NewRegistry(cfg.Server.WriteTimeout)
	hub := session.NewHub(registry, store, cfg.Rooms.DefaultRoom, cfg.Server.WriteTimeout)

	tracker := relay.NewTracker()
	hub.OnMessage = tracker.IncrementMessages

	var cl *security.ConnLimiter
	if cfg.Security.RateLimit.Enabled {
		cl = security.NewConnLimiter(cfg.Security.RateLimit.ConnectionsPerMinute)
		defer cl.Stop()
		slog.Info("rate limiting enabled",
			"connections_per_minute", cfg.Security.RateLimit.ConnectionsPerMinute,
			"messages_per_second", cfg.Security.RateLimit.MessagesPerSecond,
		)
	}

	// shutdownCtx is the parent of every connection context; cancelling it
	// force-stops sessions that ignored the drain close frame.
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	handler := relay.NewHandler(cfg, tracker, hub, cl, shutdownCtx)

	// Optional Prometheus metrics
	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
		handler.Metrics = m
		hub.Metrics = m
		registry.SetSendHook(func(ok bool) {
			if ok {
				m.BroadcastsTotal.WithLabelValues("delivered").Inc()
			} else {
				m.BroadcastsTotal.WithLabelValues("dropped").Inc()
			}
		})
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	// Relay server (the public WebSocket listener)
	relayServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: handler,
	}

	// Ops server (loopback only: health, logs, optional metrics)
	var opsServer *http.Server
	if cfg.Ops.Enabled {
		healthHandler := health.NewHandler(tracker, registry, store, cfg.Security.MaxConnections, Version, cfg.Ops.Detailed)
		opsMux := http.NewServeMux()
		opsMux.Handle("/health", healthHandler)
		opsMux.Handle("/logs", health.NewLogsHandler(ring))
		if cfg.Monitoring.MetricsEnabled {
			opsMux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
		}
		opsServer = &http.Server{
			Addr:    cfg.Ops.ListenAddress,
			Handler: opsMux,
		}
	}

	if opsServer != nil {
		go func() {
			slog.Info("ops endpoint listening", "address", cfg.Ops.ListenAddress)
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("ops server error", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("relay listening", "address", cfg.Server.ListenAddress)
		if err := relayServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("relay server error", "error", err)
		}
	}()

	// Notify systemd that we're ready
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Watchdog heartbeat (send every 15s for 30s WatchdogSec)
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				if err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				} else if sent {
					slog.Debug("watchdog keepalive sent")
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			newCfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}

			warnings := config.IsReloadSafe(cfg, newCfg)
			for _, w := range warnings {
				slog.Warn("config reload warning", "warning", w)
			}

			cfg = cfg.ApplyReloadableFields(newCfg)
			handler.UpdateConfig(cfg)
			store.SetMaxOps(cfg.Rooms.HistoryLimit)

			if cfg.Security.RateLimit.Enabled && cl != nil {
				cl.UpdateRate(cfg.Security.RateLimit.ConnectionsPerMinute)
			}

			// Re-setup logging with the new level
			logging.Setup(
				cfg.Logging.Level,
				cfg.Logging.Format,
				cfg.Logging.File,
				cfg.Logging.MaxSizeMB,
				cfg.Logging.MaxBackups,
				cfg.Logging.MaxAgeDays,
				cfg.Logging.Compress,
				ring,
			)

			slog.Info("config reloaded successfully")

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal, draining connections",
				"signal", sig.String(),
				"drain_timeout", cfg.Server.DrainTimeout.String(),
			)

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			// Tell connected clients to go away, then stop the listeners
			handler.StartDrain()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
			defer cancel()

			var wg sync.WaitGroup
			if opsServer != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					opsServer.Shutdown(ctx)
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				relayServer.Shutdown(ctx)
			}()
			wg.Wait()

			// Force any session that ignored the close frame
			shutdownCancel()

			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

func checkHealth(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=sketchrelay - Collaborative Drawing Relay
Documentation=https://github.com/sketchrelay/sketchrelay
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=sketchrelay
Group=sketchrelay
ExecStartPre=/usr/local/bin/sketchrelay validate --config /etc/sketchrelay/config.yaml
ExecStart=/usr/local/bin/sketchrelay start --config /etc/sketchrelay/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
WatchdogSec=30s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
ReadOnlyPaths=/etc/sketchrelay
LogsDirectory=sketchrelay
StateDirectory=sketchrelay
LimitNOFILE=65535

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=sketchrelay

[Install]
WantedBy=multi-user.target
`)
}
