// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/commutator/pkg/bldclink"
	"github.com/Thermoquad/commutator/pkg/link"
	"github.com/Thermoquad/commutator/pkg/signals"
)

var discoveryTimeout time.Duration

var discoveryCmd = &cobra.Command{
	Use:   "discovery [PORT...]",
	Short: "Find serial ports with an inverter attached",
	Long: `Probe serial ports for an inverter.

Each port is opened at --baud and sent a READ_REQUEST for the battery
voltage. A port is reported when a valid RESPONSE comes back before the
timeout. Without arguments every port on the machine is probed in parallel.

Examples:
  # Probe all ports
  commutator discovery

  # Probe two candidates at 57600 baud
  commutator discovery --baud 57600 /dev/ttyUSB0 /dev/ttyUSB1

Exit codes:
  0 - Discovery successful (at least one inverter found)
  1 - No inverter found
  2 - Port enumeration error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().DurationVar(&discoveryTimeout, "timeout", time.Second, "Time to wait for each port")
}

type probeResult struct {
	port    string
	voltage string
	rtt     time.Duration
	err     error
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ports := args
	if len(ports) == 0 {
		var err error
		if ports, err = link.ListDevices(); err != nil {
			fmt.Fprintf(os.Stderr, "Enumeration error: %v\n", err)
			exit(2)
		}
	}

	fmt.Printf("Commutator - Device Discovery\n")
	fmt.Printf("Ports: %d @ %d baud\n", len(ports), cfg.Serial.BaudRate)
	fmt.Printf("Timeout: %v\n\n", discoveryTimeout)

	results := make([]probeResult, len(ports))
	var wg sync.WaitGroup
	for i, port := range ports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = probePort(port, cfg.Serial.BaudRate, discoveryTimeout)
		}()
	}
	wg.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a].port < results[b].port })

	found := 0
	for _, r := range results {
		if r.err != nil {
			fmt.Printf("  %-20s -\n", r.port)
			logger.Debug("probe failed", zap.String("port", r.port), zap.Error(r.err))
			continue
		}
		found++
		fmt.Printf("  %-20s inverter found, battery %s, rtt=%v\n", r.port, r.voltage, r.rtt.Round(100*time.Microsecond))
	}

	fmt.Printf("\nFound %d inverter(s)\n", found)
	if found == 0 {
		exit(1)
	}
	return nil
}

// probePort sends one READ_REQUEST and waits for the matching RESPONSE
func probePort(port string, baud int, timeout time.Duration) probeResult {
	res := probeResult{port: port}

	conn, err := link.OpenSerial(port, baud, 50*time.Millisecond)
	if err != nil {
		res.err = err
		return res
	}
	defer conn.Close()

	sig, _ := signals.DefaultTable().ByName("bat_voltage")
	start := time.Now()
	if _, err := conn.Write(bldclink.EncodeFrame(bldclink.NewReadRequest(sig.Index()))); err != nil {
		res.err = err
		return res
	}

	decoder := bldclink.NewDecoder()
	buf := make([]byte, 64)
	for time.Since(start) < timeout {
		n, err := conn.Read(buf)
		if err != nil {
			res.err = err
			return res
		}
		for _, r := range decoder.Feed(buf[:n]) {
			m := r.Message
			if r.Err != nil || m.Type() != bldclink.MsgResponse || m.Index() != uint8(sig.Index()) {
				continue
			}
			res.rtt = time.Since(start)
			sig.Update(sig.RawFromPayload(m), time.Now())
			res.voltage = sig.State().String()
			return res
		}
	}
	res.err = errors.New("no response")
	return res
}
