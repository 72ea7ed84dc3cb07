// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/commutator/pkg/bldclink"
)

var (
	showAll       bool
	statsInterval int
	errorPoll     time.Duration
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and count corrupted frames",
	Long: `Track rejected frames and resynchronization with running statistics.

This command validates each frame and reports:
  - Checksum errors
  - Start and end marker errors
  - Unknown parameter or status indices
  - Bytes discarded while resynchronizing
  - Frame rate, error rate and success rate

Errors seen before the first valid frame are only counted, since the
decoder may have started mid-frame. STATUS messages are always shown.
Use --show-all to display valid frames too.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().DurationVar(&errorPoll, "poll", 500*time.Millisecond, "Read every parameter at this interval (0 = listen only)")
}

// printRejected prints a rejected frame in highlighted format
func printRejected(res bldclink.Result) {
	timestamp := res.Timestamp.Format("15:04:05.000")
	reason := bldclink.RejectNone
	var fe *bldclink.FrameError
	if errors.As(res.Err, &fe) {
		reason = fe.Reason
	}

	fmt.Printf("[%s] \033[1;31mREJECTED (%s):\033[0m %s\n", timestamp, reason, bldclink.FormatHex(res.Frame.Bytes()))
	switch reason {
	case bldclink.RejectChecksum:
		fmt.Printf("  Checksum: received=0x%02X, calculated=0x%02X\n",
			res.Frame.Checksum, bldclink.Checksum(res.Frame.Raw[:]))
	case bldclink.RejectUnknownIndex:
		fmt.Printf("  %s index 0x%02X, payload %d\n",
			bldclink.FormatMessageType(res.Message.Type()), res.Message.Index(), res.Message.PayloadSigned())
	case bldclink.RejectEndMarker:
		fmt.Printf("  End marker: 0x%02X (expected 0x%02X)\n", res.Frame.End, bldclink.EndByte)
	}
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// printStatus prints a STATUS message
func printStatus(res bldclink.Result) {
	timestamp := res.Timestamp.Format("15:04:05.000")
	color := "1;32"
	if s, ok := res.Message.Status(); ok && (s.IsStop() || s == bldclink.StatusError || s == bldclink.StatusSystemError) {
		color = "1;31"
	}
	fmt.Printf("[%s] \033[%sm%s:\033[0m code %d\n\n", timestamp, color,
		bldclink.FormatIndex(res.Message), res.Message.PayloadSigned())
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Commutator - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if errorPoll > 0 {
		go pollRequests(ctx, conn, bldclink.ParamIndices(), errorPoll)
	}

	stats := bldclink.NewStatistics()
	var printMu sync.Mutex

	if statsInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					printMu.Lock()
					fmt.Println()
					fmt.Print(stats.String())
					fmt.Println()
					printMu.Unlock()
				}
			}
		}()
	}

	synchronized := false
	invalidBeforeSync := 0
	decoder := bldclink.NewDecoder()

	err = readFrames(ctx, conn, decoder, func(res bldclink.Result) {
		printMu.Lock()
		defer printMu.Unlock()
		stats.SetDiscarded(decoder.Discarded())

		if res.Err != nil {
			if !synchronized {
				invalidBeforeSync++
				return
			}
			stats.Update(res)
			printRejected(res)
			return
		}

		if !synchronized {
			synchronized = true
			if invalidBeforeSync > 0 {
				fmt.Printf("[SYNC] Synchronized after skipping %d invalid frames\n\n", invalidBeforeSync)
			} else {
				fmt.Printf("[SYNC] Synchronized\n\n")
			}
		}
		stats.Update(res)

		switch {
		case res.Message.Type() == bldclink.MsgStatus:
			printStatus(res)
		case showAll:
			fmt.Print(bldclink.FormatResult(res))
		}
	})

	printMu.Lock()
	fmt.Println()
	fmt.Print(stats.String())
	printMu.Unlock()
	return err
}
