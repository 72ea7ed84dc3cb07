// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api serves the link controls over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Thermoquad/commutator/pkg/config"
	"github.com/Thermoquad/commutator/pkg/link"
	"github.com/Thermoquad/commutator/pkg/signals"
)

// Controller is the part of link.Session the API drives
type Controller interface {
	Connect(ctx context.Context, device string) error
	Disconnect() error
	Connected() bool
	ListDevices() ([]string, error)
	Signal(name string) (signals.State, error)
	Snapshot() []signals.State
	WriteSignal(name string, value float64) error
	WriteSignalText(name, text string) error
	SetSchedule(name string, cyclic bool, cycleTime time.Duration) error
	ForceRefreshAllSignals() error
	Status() link.Status
}

var _ Controller = (*link.Session)(nil)

// Server wraps the HTTP server
type Server struct {
	srv *http.Server
}

// NewRouter builds the gin engine. metrics may be nil.
func NewRouter(ctrl Controller, metricsPath string, metrics http.Handler, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if ctrl.Connected() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-connected")
	})
	if metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.GET(metricsPath, gin.WrapH(metrics))
	}

	registerRoutes(r.Group("/api/v1"), &handler{ctrl: ctrl, log: log})
	return r
}

// New creates the HTTP server for cfg
func New(cfg config.HTTPConfig, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}}
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
		)
	}
}
