// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bldclink

import (
	"fmt"
	"strings"
)

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(t MsgType) string {
	switch t {
	case MsgResponse:
		return "RESPONSE"
	case MsgStatus:
		return "STATUS_MESSAGE"
	case MsgWriteRequest:
		return "WRITE_REQUEST"
	case MsgReadRequest:
		return "READ_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// String implements fmt.Stringer
func (t MsgType) String() string {
	return FormatMessageType(t)
}

// FormatParam returns the human-readable name for a parameter index
func FormatParam(p ParamIndex) string {
	switch p {
	case ValueCurrent0:
		return "VALUE_CURRENT_0"
	case ValueCurrentA:
		return "VALUE_CURRENT_A"
	case ValueCurrentB:
		return "VALUE_CURRENT_B"
	case ValueCurrentC:
		return "VALUE_CURRENT_C"
	case ValueBatVoltage:
		return "VALUE_BAT_VOLTAGE"
	case ValueTempMotor:
		return "VALUE_TEMP_MOTOR"
	case ValueTempInverter:
		return "VALUE_TEMP_INVERTER"
	case ValueRPM:
		return "VALUE_RPM"
	case ValuePWM:
		return "VALUE_PWM"
	case ValueControlMethod:
		return "VALUE_CONTROL_METHOD"
	case ValueCommutation:
		return "VALUE_COMMUTATION"
	case ValueSwitchFreq:
		return "VALUE_SWITCH_FREQ"
	case ValueEnable:
		return "VALUE_ENABLE"
	case ValuePWMP:
		return "VALUE_PWM_P"
	case ValuePWMI:
		return "VALUE_PWM_I"
	case ValuePWMD:
		return "VALUE_PWM_D"
	case ValueRemotePWM:
		return "VALUE_REMOTE_PWM"
	default:
		return "UNKNOWN"
	}
}

// String implements fmt.Stringer
func (p ParamIndex) String() string {
	return FormatParam(p)
}

// FormatStatus returns the human-readable name for a status index
func FormatStatus(s StatusIndex) string {
	switch s {
	case StatusOK:
		return "STATUS_OK"
	case StatusReady:
		return "STATUS_READY"
	case StatusRemoteReady:
		return "STATUS_REMOTE_READY"
	case StopEmergency:
		return "STOP_EMERGENCY"
	case StopOverTemp:
		return "STOP_OVER_TEMP"
	case StopOverCurrent:
		return "STOP_OVER_CURRENT"
	case StopOverVoltage:
		return "STOP_OVER_VOLTAGE"
	case StopUnderVoltage:
		return "STOP_UNDER_VOLTAGE"
	case StopSystemError:
		return "STOP_SYSTEM_ERROR"
	case StatusSystemError:
		return "STATUS_SYSTEM_ERROR"
	case StatusError:
		return "STATUS_ERROR"
	default:
		return "UNKNOWN"
	}
}

// String implements fmt.Stringer
func (s StatusIndex) String() string {
	return FormatStatus(s)
}

// FormatIndex names the index of a message against the enum for its type,
// falling back to hex for unknown values
func FormatIndex(m Message) string {
	if m.Type() == MsgStatus {
		if s, ok := m.Status(); ok {
			return s.String()
		}
	} else if p, ok := m.Param(); ok {
		return p.String()
	}
	return fmt.Sprintf("0x%02X", m.Index())
}

// FormatMessage formats a message on one line
func FormatMessage(m Message) string {
	return fmt.Sprintf("type: %s, index: %s, payload: %d (0x%04X)",
		FormatMessageType(m.Type()), FormatIndex(m), m.PayloadSigned(), m.PayloadUnsigned())
}

// FormatResult formats a decoder result for a raw log
func FormatResult(r Result) string {
	timestamp := r.Timestamp.Format("15:04:05.000")
	if r.Err != nil {
		return fmt.Sprintf("[%s] INVALID %s\n  %v\n", timestamp, FormatHex(r.Frame.Bytes()), r.Err)
	}
	return fmt.Sprintf("[%s] %s\n", timestamp, FormatMessage(r.Message))
}

// FormatHex renders bytes as space separated hex
func FormatHex(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
