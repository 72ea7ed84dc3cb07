// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package signals

import (
	"time"

	"github.com/Thermoquad/commutator/pkg/bldclink"
)

// Definition is the static description of one signal
type Definition struct {
	Name  string // table key, snake_case
	Label string // display name
	Unit  string
	Index bldclink.ParamIndex

	// Raw signals carry the wire integer unscaled; Factor and Offset are ignored
	Raw           bool
	Factor        float64
	Offset        float64
	AllowNegative bool // payload is int16 instead of uint16

	Cyclic    bool
	CycleTime time.Duration

	Persistent   bool // local writes update the value before confirmation
	NoRetransmit bool // excluded from the retransmit after a device reset

	Options Options // label table for selector signals, nil otherwise
}

// Catalog returns the fixed signal set of the inverter, in polling order
func Catalog() []Definition {
	return []Definition{
		{
			Name: "bat_voltage", Label: "Bat Voltage", Unit: "V",
			Index: bldclink.ValueBatVoltage, Factor: 0.01,
			Cyclic: true, CycleTime: 30 * time.Second,
			NoRetransmit: true,
		},
		{
			Name: "current_0", Label: "Current 0", Unit: "A",
			Index: bldclink.ValueCurrent0, Factor: 0.001, AllowNegative: true,
			Cyclic: true, CycleTime: time.Second,
		},
		{
			Name: "current_a", Label: "Current A", Unit: "A",
			Index: bldclink.ValueCurrentA, Factor: 0.001, AllowNegative: true,
			Cyclic: true, CycleTime: time.Second,
		},
		{
			Name: "current_b", Label: "Current B", Unit: "A",
			Index: bldclink.ValueCurrentB, Factor: 0.001, AllowNegative: true,
			Cyclic: true, CycleTime: time.Second,
		},
		{
			Name: "current_c", Label: "Current C", Unit: "A",
			Index: bldclink.ValueCurrentC, Factor: 0.001, AllowNegative: true,
			Cyclic: true, CycleTime: time.Second,
		},
		{
			Name: "temp_motor", Label: "Motor Temp", Unit: "°C",
			Index: bldclink.ValueTempMotor, Factor: 0.1,
			Cyclic: true, CycleTime: 30 * time.Second,
			NoRetransmit: true,
		},
		{
			Name: "temp_inverter", Label: "Inverter Temp", Unit: "°C",
			Index: bldclink.ValueTempInverter, Factor: 0.1,
			Cyclic: true, CycleTime: 30 * time.Second,
			Persistent: true,
		},
		{
			Name: "rpm", Label: "RPM", Unit: "1/min",
			Index: bldclink.ValueRPM, Factor: 1,
			Cyclic: true, CycleTime: 500 * time.Millisecond,
		},
		{
			Name: "pwm", Label: "PWM", Unit: "%",
			Index: bldclink.ValuePWM, Factor: 1,
			Cyclic: true, CycleTime: 500 * time.Millisecond,
		},
		{
			Name: "control_method", Label: "Control Method",
			Index: bldclink.ValueControlMethod, Raw: true, Factor: 1,
			CycleTime: 10 * time.Second, Persistent: true,
			Options: ControlMethods,
		},
		{
			Name: "commutation", Label: "Commutation",
			Index: bldclink.ValueCommutation, Raw: true, Factor: 1,
			CycleTime: time.Second, Persistent: true,
			Options: CommutationModes,
		},
		{
			Name: "switch_freq", Label: "Switching Freq", Unit: "Hz",
			Index: bldclink.ValueSwitchFreq, Raw: true, Factor: 1,
			CycleTime: time.Second, Persistent: true,
			Options: SwitchingFrequencies,
		},
		{
			Name: "enable", Label: "Enable",
			Index: bldclink.ValueEnable, Raw: true, Factor: 1,
			CycleTime: time.Second, Persistent: true, NoRetransmit: true,
		},
		{
			Name: "pwm_p", Label: "PWM P",
			Index: bldclink.ValuePWMP, Factor: 0.001,
			CycleTime: time.Second, Persistent: true,
		},
		{
			Name: "pwm_i", Label: "PWM I",
			Index: bldclink.ValuePWMI, Factor: 0.001,
			CycleTime: time.Second, Persistent: true,
		},
		{
			Name: "pwm_d", Label: "PWM D",
			Index: bldclink.ValuePWMD, Factor: 0.001,
			CycleTime: time.Second, Persistent: true,
		},
		{
			Name: "remote_pwm", Label: "Remote PWM", Unit: "%",
			Index: bldclink.ValueRemotePWM, Factor: 1, AllowNegative: true,
			Cyclic: true, CycleTime: time.Second,
			Persistent: true, NoRetransmit: true,
		},
	}
}
