// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/weft-labs/weft/internal/log"
	"github.com/weft-labs/weft/pkg/discovery"
	"github.com/weft-labs/weft/pkg/hub"
	"github.com/weft-labs/weft/pkg/registry"
	"github.com/weft-labs/weft/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a fabric: registry, hub, card loading, and metrics",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("cards", "", "directory of agent card YAML files (hot-reloaded)")
	serveCmd.Flags().String("persist", "", "directory for the persistent vector store (empty = in-memory)")
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus /metrics listen address (empty = disabled)")

	_ = viper.BindPFlag("serve.cards", serveCmd.Flags().Lookup("cards"))
	_ = viper.BindPFlag("serve.persist", serveCmd.Flags().Lookup("persist"))
	_ = viper.BindPFlag("serve.metrics_addr", serveCmd.Flags().Lookup("metrics-addr"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.Logger()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := discovery.NewChromemStore(discovery.ChromemConfig{
		PersistDir: viper.GetString("serve.persist"),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}

	// No embedder is wired on the CLI yet, so discovery answers via its
	// string-similarity fallback. Deployments with an embedding model
	// build the fabric programmatically.
	disco := discovery.New(discovery.Config{
		Store:  store,
		Logger: logger,
	})
	reg := registry.New(registry.Config{
		Discovery: disco,
		Logger:    logger,
	})
	defer reg.Close()

	h := hub.New(hub.Config{
		Registry: reg,
		Logger:   logger,
	})
	if err := h.Start(); err != nil {
		return err
	}
	defer h.Close()

	metrics := telemetry.New(prometheus.DefaultRegisterer)
	metrics.ObserveHub(h)

	<-reg.Ready()

	if dir := viper.GetString("serve.cards"); dir != "" {
		if _, _, err := reg.LoadCards(ctx, dir); err != nil {
			return err
		}
		watcher, err := reg.WatchCards(ctx, dir)
		if err != nil {
			return err
		}
		defer watcher.Close()
	}

	var metricsSrv *http.Server
	if addr := viper.GetString("serve.metrics_addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		logger.Info("metrics listening", zap.String("addr", addr))
	}

	logger.Info("fabric running", zap.Int("agents", reg.Count()))
	<-ctx.Done()
	logger.Info("shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}
