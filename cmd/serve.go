// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/commutator/pkg/api"
	"github.com/Thermoquad/commutator/pkg/bridge"
	"github.com/Thermoquad/commutator/pkg/link"
	"github.com/Thermoquad/commutator/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the link as a daemon with HTTP API, metrics and MQTT",
	Long: `Keep a link to the inverter open and expose it.

  HTTP API    http.addr (default :8080), under /api/v1
  Metrics     metrics.path (default /metrics) when metrics.enable
  MQTT        mqtt.* when mqtt.enable

When a device is configured the link is opened at start and, with
link.reconnect.enable, reopened with exponential backoff after it is lost.
Without a device, connect through POST /api/v1/connect.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var linkMetrics link.Metrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enable {
		reg := metrics.NewRegistry()
		linkMetrics = metrics.NewLinkMetrics(reg)
		metricsHandler = metrics.Handler(reg)
	}

	s, err := newSession(linkMetrics)
	if err != nil {
		return err
	}
	defer s.Close()

	events, unsubscribe := s.Subscribe(256)
	defer unsubscribe()
	go logEvents(ctx, events)

	if device := cfg.Device(); device != "" {
		startLink(ctx, s, device, cfg.Link.Reconnect, func(err error) {
			logger.Warn("link down, not reopening", zap.String("device", device), zap.Error(err))
		})
	}

	if cfg.MQTT.Enable {
		b := bridge.New(cfg.MQTT, s, logger)
		go func() {
			if err := b.Run(ctx); err != nil {
				logger.Error("mqtt bridge stopped", zap.Error(err))
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	srv := api.New(cfg.HTTP, api.NewRouter(s, cfg.Metrics.Path, metricsHandler, logger))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()
	logger.Info("http api listening", zap.String("addr", cfg.HTTP.Addr), zap.Bool("metrics", cfg.Metrics.Enable))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// logEvents writes link events to the log at their own level
func logEvents(ctx context.Context, events <-chan link.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if ce := logger.Check(e.Level, e.Text); ce != nil {
				fields := []zap.Field{zap.String("kind", string(e.Kind))}
				switch {
				case e.Kind == link.EventSignalUpdated:
					fields = append(fields, zap.String("signal", e.Signal), zap.Float64("value", e.Value))
				case e.Signal != "":
					fields = append(fields, zap.String("signal", e.Signal))
				}
				if e.Kind.IsStatus() {
					fields = append(fields, zap.Int("code", e.Code))
				}
				ce.Write(fields...)
			}
		}
	}
}
