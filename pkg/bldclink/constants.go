// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bldclink implements the BLDC inverter UART link protocol.
//
// Every message is three bytes (one type/index byte followed by a big-endian
// 16-bit payload) wrapped in a fixed seven byte frame:
//
//	0x3A | id | payloadHi | payloadLo | checksum | 0x3B | 0x0A
//
// The checksum is a running XOR over the three message bytes. The firmware
// calls it "CRC8" but it is not a polynomial CRC and it is kept as-is for wire
// compatibility. XOR only detects an odd number of flipped bits per bit
// column, so two errors in the same bit position of different bytes pass.
package bldclink

// Protocol framing bytes
const (
	StartByte      = 0x3A
	EndByte        = 0x3B
	TerminatorByte = 0x0A
)

// Sizes
const (
	MessageSize = 3
	FrameSize   = 7 // start + message + checksum + end + terminator
)

const (
	indexMask = 0x3F
	typeShift = 6
)

// MsgType is the two bit message type carried in the top of the id byte
type MsgType uint8

// Message types
const (
	MsgResponse     MsgType = 0x0
	MsgStatus       MsgType = 0x1
	MsgWriteRequest MsgType = 0x2
	MsgReadRequest  MsgType = 0x3
)

// ParamIndex identifies a parameter (signal) on the inverter
type ParamIndex uint8

// Parameter indices (data messages)
const (
	ValueCurrent0      ParamIndex = 0x00
	ValueCurrentA      ParamIndex = 0x01
	ValueCurrentB      ParamIndex = 0x02
	ValueCurrentC      ParamIndex = 0x03
	ValueBatVoltage    ParamIndex = 0x04
	ValueTempMotor     ParamIndex = 0x05
	ValueTempInverter  ParamIndex = 0x06
	ValueRPM           ParamIndex = 0x07
	ValuePWM           ParamIndex = 0x08
	ValueControlMethod ParamIndex = 0x09
	ValueCommutation   ParamIndex = 0x0A
	ValueSwitchFreq    ParamIndex = 0x0B
	ValueEnable        ParamIndex = 0x0C
	ValuePWMP          ParamIndex = 0x0D
	ValuePWMI          ParamIndex = 0x0E
	ValuePWMD          ParamIndex = 0x0F
	ValueRemotePWM     ParamIndex = 0x10
)

// StatusIndex identifies a status code reported by the inverter
type StatusIndex uint8

// Status indices (STATUS messages)
const (
	StatusOK          StatusIndex = 0x00
	StatusReady       StatusIndex = 0x01
	StatusRemoteReady StatusIndex = 0x02
	StopEmergency     StatusIndex = 0x10
	StopOverTemp      StatusIndex = 0x11
	StopOverCurrent   StatusIndex = 0x12
	StopOverVoltage   StatusIndex = 0x13
	StopUnderVoltage  StatusIndex = 0x14
	StopSystemError   StatusIndex = 0x15
	StatusSystemError StatusIndex = 0x3E
	StatusError       StatusIndex = 0x3F
)

// Valid reports whether t is one of the four defined message types
func (t MsgType) Valid() bool {
	return t <= MsgReadRequest
}

// Valid reports whether p is a known parameter index
func (p ParamIndex) Valid() bool {
	return p <= ValueRemotePWM
}

// Valid reports whether s is a known status index
func (s StatusIndex) Valid() bool {
	switch s {
	case StatusOK, StatusReady, StatusRemoteReady,
		StopEmergency, StopOverTemp, StopOverCurrent, StopOverVoltage, StopUnderVoltage, StopSystemError,
		StatusSystemError, StatusError:
		return true
	}
	return false
}

// IsStop reports whether s is one of the STOP_* codes
func (s StatusIndex) IsStop() bool {
	return s >= StopEmergency && s <= StopSystemError
}

// ParamIndices lists every parameter index in wire order
func ParamIndices() []ParamIndex {
	out := make([]ParamIndex, 0, int(ValueRemotePWM)+1)
	for p := ValueCurrent0; p <= ValueRemotePWM; p++ {
		out = append(out, p)
	}
	return out
}
