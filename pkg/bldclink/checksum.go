// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldclink

// Checksum computes the frame checksum: XOR of every byte in data.
//
// This is a parity byte, not a CRC. Any single bit error is caught, but the
// same bit flipped in two message bytes cancels out and passes.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}
