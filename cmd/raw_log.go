// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/commutator/pkg/bldclink"
	"github.com/Thermoquad/commutator/pkg/link"
)

var (
	rawLogPoll    time.Duration
	rawLogInvalid bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display link frames as they arrive.

Each frame is shown with timestamp, message type, index and payload. The
inverter only talks when asked, so --poll sends a READ_REQUEST for every
parameter at the given interval.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().DurationVar(&rawLogPoll, "poll", 0, "Read every parameter at this interval (0 = listen only)")
	rawLogCmd.Flags().BoolVar(&rawLogInvalid, "invalid", true, "Show rejected frames")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Commutator - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if rawLogPoll > 0 {
		go pollRequests(ctx, conn, bldclink.ParamIndices(), rawLogPoll)
	}

	return readFrames(ctx, conn, nil, func(res bldclink.Result) {
		if res.Err != nil && !rawLogInvalid {
			return
		}
		fmt.Print(bldclink.FormatResult(res))
	})
}

// readFrames decodes conn until ctx is done or the connection closes,
// handing every result to fn on the calling goroutine. decoder may be nil.
func readFrames(ctx context.Context, conn link.Connection, decoder *bldclink.Decoder, fn func(bldclink.Result)) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if decoder == nil {
		decoder = bldclink.NewDecoder()
	}
	buf := make([]byte, 128)
	for {
		n, err := conn.Read(buf)
		for _, res := range decoder.Feed(buf[:n]) {
			fn(res)
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, link.ErrConnectionClosed) || errors.Is(err, io.EOF) {
			logger.Info("connection closed")
			return nil
		}
		logger.Debug("read error", zap.Error(err))
		time.Sleep(10 * time.Millisecond)
	}
}

// pollRequests sends a READ_REQUEST for each of params in turn, completing
// one round per interval, until ctx is done. It is the only writer on conn.
func pollRequests(ctx context.Context, conn link.Connection, params []bldclink.ParamIndex, interval time.Duration) {
	if len(params) == 0 || interval <= 0 {
		return
	}
	step := interval / time.Duration(len(params))
	if step < time.Millisecond {
		step = time.Millisecond
	}
	tick := time.NewTicker(step)
	defer tick.Stop()

	for i := 0; ; i = (i + 1) % len(params) {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		_, err := conn.Write(bldclink.EncodeFrame(bldclink.NewReadRequest(params[i])))
		if err != nil {
			logger.Debug("poll write failed", zap.Error(err))
		}
	}
}
