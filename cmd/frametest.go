// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/commutator/pkg/bldclink"
)

var (
	frameTestTimeout int
	frameTestPoll    bool
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for a valid frame",
	Long: `Wait for a valid link frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
frame (markers, checksum and index all correct). Invalid bytes are skipped.
Unless --poll=false, a READ_REQUEST for the battery voltage is sent every
second so that a quiet inverter answers.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	frameTestCmd.Flags().BoolVar(&frameTestPoll, "poll", true, "Send read requests while waiting")
}

// exit flushes the log and terminates with code
func exit(code int) {
	_ = logger.Sync()
	os.Exit(code)
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		exit(2)
	}

	fmt.Printf("Commutator - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	if frameTestPoll {
		go pollRequests(ctx, conn, []bldclink.ParamIndex{bldclink.ValueBatVoltage}, time.Second)
	}

	frames := make(chan bldclink.Result, 1)
	readErr := make(chan error, 1)
	go func() {
		invalid := 0
		err := readFrames(ctx, conn, nil, func(res bldclink.Result) {
			if res.Err != nil {
				invalid++
				return
			}
			if invalid > 0 {
				fmt.Printf("(skipped %d invalid frames before sync)\n", invalid)
			}
			select {
			case frames <- res:
			default:
			}
		})
		readErr <- err
	}()

	select {
	case res := <-frames:
		m := res.Message
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Type: %s\n", bldclink.FormatMessageType(m.Type()))
		fmt.Printf("  Index: %s (0x%02X)\n", bldclink.FormatIndex(m), m.Index())
		fmt.Printf("  Payload: %d (0x%04X)\n", m.PayloadSigned(), m.PayloadUnsigned())
		fmt.Printf("  Bytes: %s\n", bldclink.FormatHex(res.Frame.Bytes()))
		cancel()
		exit(0)

	case err := <-readErr:
		if err == nil {
			err = fmt.Errorf("connection closed")
		}
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		exit(2)

	case <-time.After(time.Duration(frameTestTimeout) * time.Second):
		cancel()
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		exit(1)
	}

	return nil
}
