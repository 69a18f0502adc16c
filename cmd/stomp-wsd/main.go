// Command stomp-wsd is the reference WebSocket embedder for the STOMP
// engine. It demonstrates that internal/server is transport-agnostic:
// this binary differs from stomp-tcpd only in how bytes reach the
// wire (gorilla/websocket text frames instead of a raw TCP stream);
// the protocol state machine, heartbeat negotiation and broker fan-out
// are identical.
package main

import (
	"context"
	"fmt"
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

type engineConfig struct {
	serverConfig server.Config
	scheduler    scheduler.Scheduler
	readTimeout  time.Duration
}

func main() {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:   "stomp-wsd",
		Short: "Transport-independent STOMP server engine over WebSocket",
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
	logger.InfoF("stomp-wsd starting on port %d", cfg.AppPort)

	registry := prometheus.NewRegistry()
	metrics := newDaemonMetrics(registry)
	broadcaster := broker.NewRegistry(cfg.DedupCacheSize)

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

	mux := http.NewServeMux()
	mux.HandleFunc("/stomp", func(w http.ResponseWriter, r *http.Request) {
		serveWS(w, r, broadcaster, metrics, econf)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.AppPort),
		Handler: mux,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorF("http server exited: %v", err)
		}
	}()
	logger.InfoF("listening on %s (ws path /stomp, metrics path /metrics)", httpSrv.Addr)

	sd := shutdown.New(10 * time.Second)
	sd.Add(shutdown.Func(func(ctx context.Context) error {
		return httpSrv.Shutdown(ctx)
	}))

	sd.Wait(context.Background(), loggerShutdown)
	logger.Info("stomp-wsd stopped")
	return nil
}
