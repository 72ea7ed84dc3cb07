// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Commutator - BLDC Inverter Link Tool
//
// A CLI tool and daemon for monitoring and controlling a BLDC motor
// inverter over its UART link, directly or through a WebSocket bridge.

package main

import (
	"os"

	"github.com/Thermoquad/commutator/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
