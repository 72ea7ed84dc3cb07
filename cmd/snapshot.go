// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/commutator/pkg/link"
	"github.com/Thermoquad/commutator/pkg/signals"
)

var (
	snapshotFormat  string
	snapshotOutput  string
	snapshotTimeout time.Duration
	snapshotDryRun  bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or restore the inverter's signal values",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Read every signal and write a snapshot",
	Long: `Connect, read every signal once and write the signal table as YAML,
JSON or CBOR. The format follows --format, else the --output extension,
else YAML. Signals that did not answer before --timeout are exported with
their last known (default) value and listed on stderr.`,
	RunE: runSnapshotExport,
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Write the persistent signals of a snapshot back to the inverter",
	Long: `Connect and write every persistent signal found in FILE. Measurements
and other non-persistent signals in the snapshot are ignored, as are enable
and remote_pwm so a restore never starts the motor. The command waits until
every write was sent.`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshotRestore,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotExportCmd, snapshotRestoreCmd)

	snapshotCmd.PersistentFlags().StringVarP(&snapshotFormat, "format", "f", "", "Snapshot format (yaml, json, cbor)")
	snapshotCmd.PersistentFlags().DurationVar(&snapshotTimeout, "timeout", 3*time.Second, "Time to wait for the inverter")
	snapshotExportCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "", "Output file (default stdout)")
	snapshotRestoreCmd.Flags().BoolVar(&snapshotDryRun, "dry-run", false, "Show what would be written without connecting")
}

// snapshotFormatFor picks the format from the flag or the file extension
func snapshotFormatFor(path string) (signals.Format, error) {
	if snapshotFormat != "" {
		return signals.ParseFormat(snapshotFormat)
	}
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		if f, err := signals.ParseFormat(ext); err == nil {
			return f, nil
		}
	}
	return signals.FormatYAML, nil
}

func runSnapshotExport(cmd *cobra.Command, args []string) error {
	format, err := snapshotFormatFor(snapshotOutput)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	started := time.Now()
	s, err := connectSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if !cfg.Link.RefreshOnConnect {
		if err := s.ForceRefreshAllSignals(); err != nil {
			return err
		}
	}

	waitFor(ctx, snapshotTimeout, func() bool { return len(unanswered(s, started)) == 0 })
	if missing := unanswered(s, started); len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "No answer for: %s\n", strings.Join(missing, ", "))
	}

	snap := s.Table().TakeSnapshot(s.Device())

	var w io.Writer = os.Stdout
	if snapshotOutput != "" {
		f, err := os.Create(snapshotOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := signals.EncodeSnapshot(w, snap, format); err != nil {
		return err
	}
	logger.Info("snapshot exported", zap.String("format", string(format)), zap.Int("signals", len(snap.Signals)))
	return nil
}

func readSnapshotFile(path string) (signals.Snapshot, error) {
	format, err := snapshotFormatFor(path)
	if err != nil {
		return signals.Snapshot{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return signals.Snapshot{}, err
	}
	defer f.Close()
	return signals.DecodeSnapshot(f, format)
}

func runSnapshotRestore(cmd *cobra.Command, args []string) error {
	snap, err := readSnapshotFile(args[0])
	if err != nil {
		return err
	}

	if snapshotDryRun {
		table := signals.DefaultTable()
		for _, name := range table.Restore(snap) {
			st, _ := table.ByName(name)
			fmt.Printf("  %-16s %s\n", name, st.State())
		}
		return nil
	}

	ctx := cmd.Context()
	started := time.Now()
	s, err := connectSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	// Compare against what the inverter holds now, not the defaults
	if !cfg.Link.RefreshOnConnect {
		if err := s.ForceRefreshAllSignals(); err != nil {
			return err
		}
	}
	waitFor(ctx, snapshotTimeout, func() bool { return len(unanswered(s, started)) == 0 })

	written := s.Table().Restore(snap)
	if len(written) == 0 {
		fmt.Println("Nothing to restore: inverter already matches snapshot")
		return nil
	}

	if !waitFor(ctx, snapshotTimeout, func() bool { return !anyPending(s, written) }) {
		return fmt.Errorf("timed out waiting for writes to be sent")
	}
	for _, name := range written {
		st, _ := s.Signal(name)
		fmt.Printf("  %-16s %s\n", name, st)
	}
	fmt.Printf("Restored %d signal(s) from %s\n", len(written), args[0])
	return nil
}

// unanswered lists the signals not heard from since t
func unanswered(s *link.Session, t time.Time) []string {
	var missing []string
	for _, st := range s.Snapshot() {
		if st.LastReceived.Before(t) {
			missing = append(missing, st.Name)
		}
	}
	return missing
}

// anyPending reports whether any of names still has a write queued
func anyPending(s *link.Session, names []string) bool {
	for _, name := range names {
		if st, err := s.Signal(name); err == nil && st.PendingWrite {
			return true
		}
	}
	return false
}
