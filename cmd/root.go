// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/commutator/pkg/config"
	"github.com/Thermoquad/commutator/pkg/logging"
)

// Commands annotated with logToFile keep the terminal free of log lines
const logToFile = "log-to-file"

var (
	configFile string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	logLevel string

	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "commutator",
	Short: "BLDC inverter link tool",
	Long: `Commutator - monitor and control a BLDC inverter over its UART link.

Provides a live monitor, raw frame logging, error statistics, one-shot reads
and writes, snapshot export/restore, and a daemon exposing an HTTP API,
Prometheus metrics and an MQTT bridge.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Settings are read from --config, $COMMUTATOR_CONFIG or ./commutator.yaml and
may be overridden with COMMUTATOR_* environment variables and flags.

For WebSocket authentication, the password is read from the COMMUTATOR_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default ./commutator.yaml)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// setup loads the config and builds the logger for every subcommand
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(configFile, cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}

	var console io.Writer = os.Stderr
	if _, ok := cmd.Annotations[logToFile]; ok {
		console = nil
	}
	if logger, err = logging.New(cfg.Logging, console); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if cfg.File != "" {
		logger.Debug("config loaded", zap.String("file", cfg.File))
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
