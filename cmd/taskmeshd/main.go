// taskmesh - peer-to-peer agent task dispatch runtime
// Copyright (C) 2025 taskmesh contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Command taskmeshd boots a single taskmesh node: it loads configuration,
// creates a fresh node identity, wires the WebSocket transport and UDP
// discovery, registers the built-in executors and runs the peer runtime
// until interrupted.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/taskmesh-dev/taskmesh/config"
	"github.com/taskmesh-dev/taskmesh/discovery"
	"github.com/taskmesh-dev/taskmesh/discovery/udp"
	"github.com/taskmesh-dev/taskmesh/executor"
	"github.com/taskmesh-dev/taskmesh/health"
	"github.com/taskmesh-dev/taskmesh/identity"
	"github.com/taskmesh-dev/taskmesh/internal/logger"
	"github.com/taskmesh-dev/taskmesh/internal/metrics"
	"github.com/taskmesh-dev/taskmesh/runtime"
	"github.com/taskmesh-dev/taskmesh/transport/websocket"
)

var (
	configPath string
	listenAddr string
	envPath    string
)

var rootCmd = &cobra.Command{
	Use:   "taskmeshd",
	Short: "taskmeshd runs a single taskmesh peer node",
	Long: `taskmeshd boots a taskmesh node: a peer that discovers other nodes on
the local network, advertises which task types it can execute, and
dispatches or serves signed task requests.`,
	RunE: run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML or JSON config file")
	rootCmd.Flags().StringVar(&listenAddr, "listen", ":7420", "address the WebSocket transport listens on")
	rootCmd.Flags().StringVar(&envPath, "env-file", ".env", "optional .env file loaded before config")
}

func run(cmd *cobra.Command, args []string) error {
	_ = config.LoadDotEnv(envPath)

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	configureLogging(cfg.Logging)

	id, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}
	logger.Info("identity generated", logger.String("peer_id", id.PeerID()), logger.String("agent_name", cfg.Identity.AgentName))

	tr := websocket.New(listenAddr, id.PeerID())

	execs := executor.NewRegistry()
	execs.Register("TextProcessing", &executor.TextProcessing{})
	execs.Register("VectorComputation", &executor.VectorComputation{})
	// AiInference is left unregistered unless an inference provider is
	// wired in: this core never imports an inference runtime directly
	// (spec.md §1).

	var disc discovery.Discovery
	if cfg.Discovery.Enabled {
		disc = udp.New(cfg.Discovery.BroadcastAddr, cfg.Discovery.Port, cfg.Discovery.Interval)
	}

	node := runtime.New(cfg, id, cfg.Identity.AgentName, tr, execs, disc)
	for _, hexKey := range cfg.Identity.TrustedPeers {
		pub, err := hex.DecodeString(hexKey)
		if err != nil {
			logger.Warn("skipping malformed trusted_peers entry", logger.String("value", hexKey))
			continue
		}
		node.TrustPeer(pub)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	logger.Info("taskmeshd started", logger.String("peer_id", id.PeerID()), logger.String("listen", listenAddr))

	var healthSrv *health.Server
	if cfg.Health.Enabled {
		checker := health.NewChecker(id, node.Transport(), node.Tasks(), node.ReplayDetector(), cfg.Replay.CacheSize)
		healthSrv = health.NewServer(checker, cfg.Health.Addr)
		if err := healthSrv.Start(); err != nil {
			logger.Warn("health server failed to start", logger.Err(err))
			healthSrv = nil
		}
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" && cfg.Metrics.Addr != cfg.Health.Addr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server exited", logger.Err(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down", logger.String("peer_id", id.PeerID()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if healthSrv != nil {
		_ = healthSrv.Stop(shutdownCtx)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return node.Stop()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func configureLogging(cfg *config.LoggingConfig) {
	if cfg == nil {
		return
	}
	l := logger.NewDefaultLogger()
	l.SetPrettyPrint(cfg.Pretty)
	switch cfg.Level {
	case "debug":
		l.SetLevel(logger.DebugLevel)
	case "warn":
		l.SetLevel(logger.WarnLevel)
	case "error":
		l.SetLevel(logger.ErrorLevel)
	default:
		l.SetLevel(logger.InfoLevel)
	}
	logger.SetDefault(l)
}
