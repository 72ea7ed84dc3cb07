// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package signals

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

// Format selects the snapshot encoding
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ParseFormat resolves a format name, accepting "yml" as YAML
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "cbor":
		return FormatCBOR, nil
	}
	return "", fmt.Errorf("unknown snapshot format %q (yaml, json, cbor)", name)
}

// Snapshot is an exported copy of the signal table
type Snapshot struct {
	Taken   time.Time `json:"taken" yaml:"taken" cbor:"taken"`
	Device  string    `json:"device,omitempty" yaml:"device,omitempty" cbor:"device,omitempty"`
	Signals []State   `json:"signals" yaml:"signals" cbor:"signals"`
}

// TakeSnapshot copies the current table state
func (t *Table) TakeSnapshot(device string) Snapshot {
	return Snapshot{
		Taken:   time.Now(),
		Device:  device,
		Signals: t.Snapshot(),
	}
}

var cborEnc, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

// EncodeSnapshot writes snap to w
func EncodeSnapshot(w io.Writer, snap Snapshot, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("failed to encode YAML snapshot: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("failed to encode JSON snapshot: %w", err)
		}
		return nil
	case FormatCBOR:
		if err := cborEnc.NewEncoder(w).Encode(snap); err != nil {
			return fmt.Errorf("failed to encode CBOR snapshot: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown snapshot format %q", format)
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot
func DecodeSnapshot(r io.Reader, format Format) (Snapshot, error) {
	var snap Snapshot
	var err error
	switch format {
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&snap)
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&snap)
	case FormatCBOR:
		err = cbor.NewDecoder(r).Decode(&snap)
	default:
		return snap, fmt.Errorf("unknown snapshot format %q", format)
	}
	if err != nil {
		return snap, fmt.Errorf("failed to decode %s snapshot: %w", format, err)
	}
	return snap, nil
}

// Restore writes the values of persistent signals from snap back into the
// table. Signals that are unknown or not persistent are skipped, and so are
// the ones never retransmitted (enable, remote_pwm) since restoring them
// would re-arm the inverter. It returns the names that now have a pending
// write.
func (t *Table) Restore(snap Snapshot) []string {
	var written []string
	for _, st := range snap.Signals {
		s, ok := t.byName[st.Name]
		if !ok || !s.def.Persistent || s.def.NoRetransmit {
			continue
		}
		v := st.Value
		if st.PendingValue != nil {
			v = *st.PendingValue
		}
		if s.Write(v) {
			written = append(written, st.Name)
		}
	}
	return written
}
