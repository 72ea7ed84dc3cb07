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
	"github.com/Thermoquad/commutator/pkg/signals"
)

var (
	pingTimeout int
	pingCount   int
	pingSignal  string
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round trip time with READ_REQUEST/RESPONSE",
	Long: `Send READ_REQUEST frames for one signal and wait for the RESPONSE.

This command tests bidirectional communication with the inverter, directly
or through a serial-to-WebSocket bridge, and reports the value read and the
round trip time of each request.

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 2, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.Flags().StringVar(&pingSignal, "signal", "bat_voltage", "Signal to read")
}

func runPing(cmd *cobra.Command, args []string) error {
	sig, ok := signals.DefaultTable().ByName(pingSignal)
	if !ok {
		return fmt.Errorf("%w: %q", signals.ErrUnknownSignal, pingSignal)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		exit(2)
	}

	fmt.Printf("Commutator - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Signal: %s (%s)\n", sig.Name(), sig.Index())
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	responses := make(chan bldclink.Message, 8)
	readDone := make(chan error, 1)
	go func() {
		readDone <- readFrames(ctx, conn, nil, func(res bldclink.Result) {
			m := res.Message
			if res.Err != nil || m.Type() != bldclink.MsgResponse || m.Index() != uint8(sig.Index()) {
				return
			}
			select {
			case responses <- m:
			default:
			}
		})
	}()

	successCount := 0
	failCount := 0
	request := bldclink.EncodeFrame(bldclink.NewReadRequest(sig.Index()))

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		// Drop late answers to an earlier ping
		for len(responses) > 0 {
			<-responses
		}

		startTime := time.Now()
		if _, err := conn.Write(request); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		select {
		case m := <-responses:
			rtt := time.Since(startTime)
			sig.Update(sig.RawFromPayload(m), time.Now())
			st := sig.State()
			fmt.Printf("RESPONSE %s, rtt=%v\n", st, rtt.Round(time.Microsecond*100))
			successCount++

		case err := <-readDone:
			if err == nil {
				err = fmt.Errorf("connection closed")
			}
			fmt.Printf("READ FAILED: %v\n", err)
			failCount += pingCount - i + 1
			i = pingCount

		case <-time.After(time.Duration(pingTimeout) * time.Second):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	cancel()

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(max(pingCount, 1))*100)

	if failCount > 0 {
		exit(1)
	}
	return nil
}
