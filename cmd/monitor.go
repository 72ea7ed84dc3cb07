// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/Thermoquad/commutator/pkg/link"
)

// batchInterval is how often queued link events are handed to the TUI
const batchInterval = 50 * time.Millisecond

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"control"},
	Short:   "Interactive TUI for monitoring and controlling the inverter",
	Long: `Monitor and control the inverter through an interactive terminal UI.

Features:
  - Live signal table with pending writes and polling schedule
  - Write values (name=value, option labels accepted)
  - Polling control (cyclic NAME on|off [PERIOD])
  - Force refresh of all signals (refresh, or r on the table)
  - Link statistics and event log
  - Automatic reconnection on connection loss (link.reconnect.enable)

Tab switches between the signal table and the command line. Enter on a
table row starts a write for that signal. Log output goes to the log file
only while the TUI runs.

Supports both serial and WebSocket connections.`,
	Annotations: map[string]string{logToFile: ""},
	RunE:        runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	device := cfg.Device()
	if device == "" {
		return errNoDevice
	}
	s, err := newSession(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Subscribe before the first connect so no event is missed
	events, unsubscribe := s.Subscribe(256)
	defer unsubscribe()

	m := newMonitorModel(s, connectionInfo())
	p := tea.NewProgram(m, tea.WithAltScreen())

	go pumpEvents(ctx, events, p.Send)

	startLink(ctx, s, device, cfg.Link.Reconnect, func(err error) {
		text := "Link closed, not reconnecting"
		if err != nil {
			text = fmt.Sprintf("Link down, not reconnecting: %v", err)
		}
		p.Send(eventBatchMsg{{Time: time.Now(), Kind: link.EventDisconnected, Level: zapcore.WarnLevel, Text: text}})
	})

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// pumpEvents forwards link events to the TUI in batches so a busy link does
// not flood the program with one message per event
func pumpEvents(ctx context.Context, events <-chan link.Event, send func(tea.Msg)) {
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	var batch eventBatchMsg
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				if len(batch) > 0 {
					send(batch)
				}
				return
			}
			batch = append(batch, e)
		case <-ticker.C:
			if len(batch) > 0 {
				send(batch)
				batch = nil
			}
		}
	}
}
