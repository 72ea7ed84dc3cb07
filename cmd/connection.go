// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/commutator/pkg/config"
	"github.com/Thermoquad/commutator/pkg/link"
	"github.com/Thermoquad/commutator/pkg/signals"
)

const dialTimeout = 15 * time.Second

var errNoDevice = errors.New("either --port or --url must be specified")

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("COMMUTATOR_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		// Fallback to regular input if stdin is not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// connectionInfo describes the configured device for banners
func connectionInfo() string {
	if cfg.WebSocket.URL != "" {
		return fmt.Sprintf("WebSocket: %s", cfg.WebSocket.URL)
	}
	return fmt.Sprintf("Serial: %s @ %d baud", cfg.Serial.Device, cfg.Serial.BaudRate)
}

// newDialer builds a dialer from the config, asking for the WebSocket
// password when a username is set
func newDialer() (link.Dialer, error) {
	password := ""
	if cfg.WebSocket.URL != "" && cfg.WebSocket.Username != "" {
		var err error
		if password, err = GetPassword(); err != nil {
			return nil, err
		}
	}
	return link.NewDialer(cfg.DialConfig(password)), nil
}

// OpenConnection opens the configured serial port or WebSocket bridge
func OpenConnection(ctx context.Context) (link.Connection, string, error) {
	device := cfg.Device()
	if device == "" {
		return nil, "", errNoDevice
	}
	dial, err := newDialer()
	if err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := dial(ctx, device)
	if err != nil {
		return nil, "", err
	}
	return conn, connectionInfo(), nil
}

// newSession builds a session over the default signal table with the
// configured polling overrides applied. m may be nil.
func newSession(m link.Metrics) (*link.Session, error) {
	table := signals.DefaultTable()
	if err := cfg.ApplySignalOverrides(table); err != nil {
		return nil, err
	}
	dial, err := newDialer()
	if err != nil {
		return nil, err
	}

	opts := []link.Option{
		link.WithConfig(cfg.LinkOptions()),
		link.WithLogger(logger),
		link.WithDialer(dial),
	}
	if m != nil {
		opts = append(opts, link.WithMetrics(m))
	}
	return link.NewSession(table, opts...), nil
}

// connectSession creates a session and connects it to the configured device
func connectSession(ctx context.Context) (*link.Session, error) {
	device := cfg.Device()
	if device == "" {
		return nil, errNoDevice
	}
	s, err := newSession(nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := s.Connect(ctx, device); err != nil {
		return nil, err
	}
	return s, nil
}

// startLink opens s on device in the background. With reconnect enabled a
// supervisor keeps reopening it after transport loss; otherwise one attempt
// is made. done runs once the link will not be reopened, with the error that
// ended it (nil after an intended Disconnect). It is not called when ctx ends.
func startLink(ctx context.Context, s *link.Session, device string, rc config.ReconnectConfig, done func(error)) {
	go func() {
		if rc.Enable {
			sv := link.NewSupervisor(s, device, rc.MinBackoff, rc.MaxBackoff, logger)
			if err := sv.Run(ctx); err == nil {
				done(nil)
			}
			return
		}
		if err := s.Connect(ctx, device); err != nil {
			if ctx.Err() == nil {
				done(err)
			}
			return
		}
		err := s.Wait(ctx)
		if ctx.Err() == nil {
			done(err)
		}
	}()
}

// waitFor polls cond until it holds, ctx is done or timeout passes
func waitFor(ctx context.Context, timeout time.Duration, cond func() bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return cond()
		case <-tick.C:
		}
	}
}
