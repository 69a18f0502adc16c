// Command stomp-tcpd is the reference TCP embedder for the STOMP
// engine: it owns the listener, one goroutine per connection, and the
// illustrative broker that fans SEND frames out to subscribers. The
// protocol itself lives entirely in internal/server; this binary only
// supplies bytes in and bytes out.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/life-stream-dev/stomp-engine/internal/broker"
	"github.com/life-stream-dev/stomp-engine/internal/config"
	"github.com/life-stream-dev/stomp-engine/internal/idgen"
	"github.com/life-stream-dev/stomp-engine/internal/logger"
	"github.com/life-stream-dev/stomp-engine/internal/scheduler"
	"github.com/life-stream-dev/stomp-engine/internal/server"
	"github.com/life-stream-dev/stomp-engine/internal/shutdown"
)

// engineConfig bundles what every accepted connection needs to build
// its own server.Engine.
type engineConfig struct {
	serverConfig server.Config
	scheduler    scheduler.Scheduler
	readTimeout  time.Duration
}

func main() {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:   "stomp-tcpd",
		Short: "Transport-independent STOMP server engine over raw TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, debug)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVar(&configPath, "config", "config.json", "path to the daemon's JSON config file")
	root.Flags().BoolVar(&debug, "debug", false, "force debug-level logging regardless of the config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, debugFlag bool) error {
	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	loggerShutdown := logger.Init(debugFlag || cfg.DebugMode)
	logger.InfoF("stomp-tcpd starting on port %d", cfg.AppPort)

	registry := prometheus.NewRegistry()
	metrics := newDaemonMetrics(registry)

	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorF("metrics server exited: %v", err)
		}
	}()

	broadcaster := broker.NewRegistry(cfg.DedupCacheSize)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.AppPort))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", cfg.AppPort, err)
	}
	logger.InfoF("listening on %s", listener.Addr())

	readTimeout, err := cfg.ParseReadTimeout()
	if err != nil {
		return fmt.Errorf("parsing read_timeout: %w", err)
	}

	econf := engineConfig{
		scheduler:   scheduler.RealScheduler{},
		readTimeout: readTimeout,
		serverConfig: server.Config{
			Name:                     cfg.Server.Name,
			Version:                  cfg.Server.Version,
			MinSendIntervalMs:        cfg.Heartbeat.MinSendIntervalMs,
			DesiredReceiveIntervalMs: cfg.Heartbeat.DesiredReceiveIntervalMs,
			IDGen:                    idgen.Default{},
		},
	}

	sd := shutdown.New(10 * time.Second)
	sd.Add(shutdown.Func(func(ctx context.Context) error {
		return listener.Close()
	}))
	sd.Add(shutdown.Func(func(ctx context.Context) error {
		return metricsSrv.Shutdown(ctx)
	}))

	go acceptLoop(listener, broadcaster, metrics, econf)

	sd.Wait(context.Background(), loggerShutdown)
	logger.Info("stomp-tcpd stopped")
	return nil
}

// maxConcurrentConnections bounds how many connections are actively
// being served at once; additional accepted sockets queue behind the
// semaphore instead of spawning unbounded goroutines.
const maxConcurrentConnections = 4096

func acceptLoop(listener net.Listener, registry *broker.Registry, metrics *daemonMetrics, cfg engineConfig) {
	sem := make(chan struct{}, maxConcurrentConnections)
	for {
		conn, err := listener.Accept()
		if err != nil {
			logger.InfoF("accept loop stopped: %v", err)
			return
		}
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			serve(conn, registry, metrics, cfg)
		}()
	}
}
