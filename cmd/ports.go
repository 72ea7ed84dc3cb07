// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/commutator/pkg/link"
)

var (
	portsDetails bool
	portsJSON    bool
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available serial devices",
	Long: `List the serial ports present on this machine.

With --details, USB ports are shown with their vendor and product IDs and
serial number, which helps pick the inverter's adapter when several are
plugged in.`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsDetails, "details", false, "Show USB details")
	portsCmd.Flags().BoolVar(&portsJSON, "json", false, "Print JSON")
}

func runPorts(cmd *cobra.Command, args []string) error {
	if !portsDetails {
		names, err := link.ListDevices()
		if err != nil {
			return err
		}
		if portsJSON {
			return json.NewEncoder(os.Stdout).Encode(names)
		}
		if len(names) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	details, err := link.ListDeviceDetails()
	if err != nil {
		return err
	}
	if portsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(details)
	}
	if len(details) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, d := range details {
		if !d.IsUSB {
			fmt.Printf("%s\n", d.Name)
			continue
		}
		fmt.Printf("%s  USB %s:%s", d.Name, d.VID, d.PID)
		if d.Product != "" {
			fmt.Printf("  %s", d.Product)
		}
		if d.SerialNumber != "" {
			fmt.Printf("  (serial %s)", d.SerialNumber)
		}
		fmt.Println()
	}
	return nil
}
