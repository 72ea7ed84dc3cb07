// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package signals

import (
	"fmt"
	"strings"
	"time"
)

// Option maps a human label to the raw value a selector signal carries
type Option struct {
	Label string `json:"label" yaml:"label" cbor:"label"`
	Value int    `json:"value" yaml:"value" cbor:"value"`
}

// Options is an ordered label table for a selector signal
type Options []Option

// Label returns the label for a raw value
func (o Options) Label(v int) (string, bool) {
	for _, opt := range o {
		if opt.Value == v {
			return opt.Label, true
		}
	}
	return "", false
}

// Value resolves a label, ignoring case and surrounding space
func (o Options) Value(label string) (int, bool) {
	label = strings.TrimSpace(label)
	for _, opt := range o {
		if strings.EqualFold(opt.Label, label) {
			return opt.Value, true
		}
	}
	return 0, false
}

// Labels returns the labels in table order
func (o Options) Labels() []string {
	out := make([]string, len(o))
	for i, opt := range o {
		out[i] = opt.Label
	}
	return out
}

// Control method selector
var ControlMethods = Options{
	{"Open Loop", 0x00},
	{"RPM Control", 0x01},
	{"Current Control", 0x02},
	{"Remote Control", 0x03},
}

// Commutation mode selector
var CommutationModes = Options{
	{"Block 120 Unipolar", 0x10},
	{"Block 120 Bipolar", 0x11},
	{"Block 180 Unipolar", 0x20},
	{"Block 180 Bipolar", 0x21},
	{"S-PWM", 0x30},
}

// Switching frequency selector. The values are firmware codes, not Hz.
var SwitchingFrequencies = Options{
	{"8 kHz", 0x09},
	{"10 kHz", 0x10},
	{"20 kHz", 0x11},
	{"40 kHz", 0x20},
	{"50 kHz", 0x21},
	{"80 kHz", 0x30},
	{"100 kHz", 0x31},
	{"200 kHz", 0x40},
	{"400 kHz", 0x41},
}

// UpdateRate is a polling interval preset offered to operators
type UpdateRate struct {
	Label    string
	Interval time.Duration
}

// UpdateRates lists the polling presets, fastest first
var UpdateRates = []UpdateRate{
	{"15 ms", 15 * time.Millisecond},
	{"100 ms", 100 * time.Millisecond},
	{"250 ms", 250 * time.Millisecond},
	{"500 ms", 500 * time.Millisecond},
	{"1 s", time.Second},
	{"5 s", 5 * time.Second},
	{"10 s", 10 * time.Second},
	{"20 s", 20 * time.Second},
	{"30 s", 30 * time.Second},
	{"1 min", time.Minute},
}

// UpdateRateByLabel resolves a preset label
func UpdateRateByLabel(label string) (time.Duration, bool) {
	label = strings.TrimSpace(label)
	for _, r := range UpdateRates {
		if strings.EqualFold(r.Label, label) {
			return r.Interval, true
		}
	}
	return 0, false
}

// ParseUpdateRate accepts a preset label ("250 ms") or a Go duration
// ("250ms") and returns a positive interval
func ParseUpdateRate(text string) (time.Duration, error) {
	if d, ok := UpdateRateByLabel(text); ok {
		return d, nil
	}
	d, err := time.ParseDuration(strings.ReplaceAll(strings.TrimSpace(text), " ", ""))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: update rate %q", ErrInvalidValue, text)
	}
	return d, nil
}
