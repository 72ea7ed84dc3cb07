// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/commutator/pkg/signals"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "commutator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COMMUTATOR_CONFIG", "")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 50*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, 2*time.Millisecond, cfg.Link.Tick)
	assert.Equal(t, 2*time.Second, cfg.Link.StopTimeout)
	assert.Equal(t, 256, cfg.Link.InboundQueue)
	assert.True(t, cfg.Link.RefreshOnConnect)
	assert.True(t, cfg.Link.RetransmitOnReady)
	assert.True(t, cfg.Link.Reconnect.Enable)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.MQTT.Enable)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
serial:
  device: /dev/ttyUSB1
  baudRate: 57600
link:
  tick: 5ms
  reconnect:
    maxBackoff: 10s
signals:
  rpm:
    cycleTime: 100ms
  temp_motor:
    cyclic: false
logging:
  level: debug
  format: json
mqtt:
  enable: true
  qos: 1
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Device)
	assert.Equal(t, 57600, cfg.Serial.BaudRate)
	assert.Equal(t, 5*time.Millisecond, cfg.Link.Tick)
	assert.Equal(t, 10*time.Second, cfg.Link.Reconnect.MaxBackoff)
	assert.Equal(t, time.Second, cfg.Link.Reconnect.MinBackoff)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.MQTT.Enable)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	require.Contains(t, cfg.Signals, "rpm")
	assert.Equal(t, 100*time.Millisecond, cfg.Signals["rpm"].CycleTime)
	require.NotNil(t, cfg.Signals["temp_motor"].Cyclic)
	assert.False(t, *cfg.Signals["temp_motor"].Cyclic)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "serial:\n  device: /dev/ttyUSB1\n")
	t.Setenv("COMMUTATOR_SERIAL_DEVICE", "/dev/ttyACM0")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Device)
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	path := writeConfig(t, "http:\n  addr: 127.0.0.1:9000\n")
	t.Setenv("COMMUTATOR_CONFIG", path)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
}

func TestLoad_FlagsOverride(t *testing.T) {
	path := writeConfig(t, "serial:\n  device: /dev/ttyUSB1\n  baudRate: 57600\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("port", "", "")
	flags.Int("baud", 115200, "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--port", "/dev/ttyUSB9"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB9", cfg.Serial.Device)
	// Unset flags do not shadow the file
	assert.Equal(t, 57600, cfg.Serial.BaudRate)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero baud", "serial:\n  baudRate: 0\n"},
		{"bad qos", "mqtt:\n  qos: 3\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"zero tick", "link:\n  tick: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body), nil)
			assert.Error(t, err)
		})
	}
}

func TestDevice(t *testing.T) {
	cfg := &Config{Serial: SerialConfig{Device: "/dev/ttyUSB0"}}
	assert.Equal(t, "/dev/ttyUSB0", cfg.Device())

	cfg.WebSocket.URL = "ws://bridge.local/ws"
	assert.Equal(t, "ws://bridge.local/ws", cfg.Device())
}

func TestApplySignalOverrides(t *testing.T) {
	off := false
	cfg := &Config{Signals: map[string]SignalOverride{
		"rpm":        {CycleTime: 250 * time.Millisecond},
		"temp_motor": {Cyclic: &off},
	}}
	table := signals.DefaultTable()
	require.NoError(t, cfg.ApplySignalOverrides(table))

	rpm, _ := table.ByName("rpm")
	assert.True(t, rpm.State().Cyclic)
	assert.Equal(t, 250*time.Millisecond, rpm.State().CycleTime)

	temp, _ := table.ByName("temp_motor")
	assert.False(t, temp.State().Cyclic)

	cfg.Signals = map[string]SignalOverride{"bogus": {}}
	assert.ErrorIs(t, cfg.ApplySignalOverrides(table), signals.ErrUnknownSignal)
}

func TestLinkOptions(t *testing.T) {
	cfg, err := Load(writeConfig(t, "link:\n  inboundQueue: 32\n  refreshOnConnect: false\n"), nil)
	require.NoError(t, err)

	lc := cfg.LinkOptions()
	assert.Equal(t, 32, lc.InboundQueue)
	assert.False(t, lc.RefreshOnConnect)
	assert.True(t, lc.RetransmitOnReady)

	dc := cfg.DialConfig("secret")
	assert.Equal(t, 115200, dc.BaudRate)
	assert.Equal(t, "secret", dc.Password)
}
