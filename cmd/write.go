// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/commutator/pkg/signals"
)

var (
	ioTimeout time.Duration
	readJSON  bool
)

var writeCmd = &cobra.Command{
	Use:   "write NAME=VALUE...",
	Short: "Write one or more signals",
	Long: `Connect and write signals, then wait until every write was sent.

VALUE is a number in engineering units or, for selector signals such as
commutation or control_method, one of the option labels (quote labels with
spaces). Examples:

  commutator write pwm_p=0.25 pwm_i=0.01
  commutator write commutation="Block 120 Unipolar" enable=1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWrite,
}

var readCmd = &cobra.Command{
	Use:   "read [NAME...]",
	Short: "Read signals from the inverter",
	Long: `Connect, request a fresh value for each signal and print it. Without
arguments every signal is read.`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(writeCmd, readCmd)
	writeCmd.Flags().DurationVar(&ioTimeout, "timeout", 3*time.Second, "Time to wait for the inverter")
	readCmd.Flags().DurationVar(&ioTimeout, "timeout", 3*time.Second, "Time to wait for the inverter")
	readCmd.Flags().BoolVar(&readJSON, "json", false, "Print JSON")
}

// parseAssignments splits NAME=VALUE arguments, keeping their order
func parseAssignments(args []string) ([][2]string, error) {
	out := make([][2]string, 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("expected NAME=VALUE, got %q", arg)
		}
		out = append(out, [2]string{name, value})
	}
	return out, nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	assignments, err := parseAssignments(args)
	if err != nil {
		return err
	}

	// Validate before touching the link
	check := signals.DefaultTable()
	for _, a := range assignments {
		if _, err := check.WriteText(a[0], a[1]); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	s, err := connectSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	names := make([]string, 0, len(assignments))
	for _, a := range assignments {
		if err := s.WriteSignalText(a[0], a[1]); err != nil {
			return err
		}
		names = append(names, a[0])
	}

	if !waitFor(ctx, ioTimeout, func() bool { return !anyPending(s, names) }) {
		return fmt.Errorf("timed out waiting for writes to be sent")
	}
	for _, name := range names {
		st, _ := s.Signal(name)
		fmt.Printf("%-16s %s\n", name, st)
	}
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	table := signals.DefaultTable()
	names := args
	if len(names) == 0 {
		names = table.Names()
	}
	for _, name := range names {
		if _, ok := table.ByName(name); !ok {
			return fmt.Errorf("%w: %q", signals.ErrUnknownSignal, name)
		}
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

	fresh := func(name string) bool {
		st, err := s.Signal(name)
		return err == nil && !st.LastReceived.Before(started)
	}
	waitFor(ctx, ioTimeout, func() bool {
		for _, name := range names {
			if !fresh(name) {
				return false
			}
		}
		return true
	})

	states := make([]signals.State, 0, len(names))
	for _, name := range names {
		st, _ := s.Signal(name)
		states = append(states, st)
	}

	if readJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(states)
	}

	stale := 0
	for _, st := range states {
		mark := ""
		if st.LastReceived.Before(started) {
			mark = "  (no answer)"
			stale++
		}
		fmt.Printf("%-16s %s%s\n", st.Name, st, mark)
	}
	if stale > 0 {
		return fmt.Errorf("%d signal(s) did not answer", stale)
	}
	return nil
}
