// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Thermoquad/commutator/pkg/link"
	"github.com/Thermoquad/commutator/pkg/signals"
)

type fakeMonitorLink struct {
	table      *signals.Table
	connected  bool
	refreshes  int
	refreshErr error
}

func newFakeMonitorLink() *fakeMonitorLink {
	return &fakeMonitorLink{table: signals.DefaultTable(), connected: true}
}

func (f *fakeMonitorLink) Snapshot() []signals.State { return f.table.Snapshot() }

func (f *fakeMonitorLink) WriteSignalText(name, text string) error {
	_, err := f.table.WriteText(name, text)
	return err
}

func (f *fakeMonitorLink) ForceRefreshAllSignals() error {
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.refreshes++
	f.table.RequestReadAll()
	return nil
}

func (f *fakeMonitorLink) SetSchedule(name string, cyclic bool, cycleTime time.Duration) error {
	return f.table.SetSchedule(name, cyclic, cycleTime)
}

func (f *fakeMonitorLink) Status() link.Status {
	return link.Status{Connected: f.connected, Device: "/dev/ttyUSB0"}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m monitorModel, msgs ...tea.Msg) monitorModel {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		m, ok = next.(monitorModel)
		require.True(t, ok)
	}
	return m
}

func lastLog(m monitorModel) logEntry {
	if len(m.eventLog) == 0 {
		return logEntry{}
	}
	return m.eventLog[len(m.eventLog)-1]
}

func TestMonitor_InitialRows(t *testing.T) {
	f := newFakeMonitorLink()
	m := newMonitorModel(f, "Serial: /dev/ttyUSB0 @ 115200 baud")

	assert.Len(t, m.table.Rows(), f.table.Len())
	assert.Equal(t, f.table.Names()[0], m.table.Rows()[0][0])
	assert.Contains(t, m.View(), "COMMUTATOR MONITOR")
	assert.Contains(t, m.View(), "/dev/ttyUSB0")
}

func TestMonitor_WriteCommand(t *testing.T) {
	f := newFakeMonitorLink()
	m := newMonitorModel(f, "test")

	m.execute("commutation = S-PWM")
	st, ok := f.table.ByName("commutation")
	require.True(t, ok)
	assert.Equal(t, "S-PWM", st.State().String())
	assert.True(t, st.State().PendingWrite)
	assert.Equal(t, zapcore.InfoLevel, lastLog(m).level)
	assert.Contains(t, lastLog(m).message, "commutation")

	m.execute("commutation=Sideways")
	assert.Equal(t, zapcore.ErrorLevel, lastLog(m).level)

	m.execute("bogus=1")
	assert.Equal(t, zapcore.ErrorLevel, lastLog(m).level)
	assert.Contains(t, lastLog(m).message, "unknown signal")
}

func TestMonitor_EnterOnRowStartsWrite(t *testing.T) {
	f := newFakeMonitorLink()
	m := newMonitorModel(f, "test")

	m = update(t, m, key("down"), key("enter"))
	require.Equal(t, focusInput, m.focused)
	name := f.table.Names()[1]
	assert.Equal(t, name+"=", m.input.Value())

	// Typing "q" in the command line does not quit
	m = update(t, m, key("q"))
	assert.False(t, m.quitting)
	assert.Equal(t, name+"=q", m.input.Value())

	m = update(t, m, key("esc"))
	assert.Equal(t, focusTable, m.focused)
	assert.Empty(t, m.input.Value())
}

func TestMonitor_RefreshAndCyclicKeys(t *testing.T) {
	f := newFakeMonitorLink()
	m := newMonitorModel(f, "test")

	m = update(t, m, key("r"))
	assert.Equal(t, 1, f.refreshes)

	first := m.states[0]
	m = update(t, m, key("c"))
	s, _ := f.table.ByName(first.Name)
	assert.Equal(t, !first.Cyclic, s.State().Cyclic)

	f.refreshErr = link.ErrNotConnected
	m = update(t, m, key("r"))
	assert.Equal(t, zapcore.ErrorLevel, lastLog(m).level)
}

func TestMonitor_CyclicCommand(t *testing.T) {
	f := newFakeMonitorLink()
	m := newMonitorModel(f, "test")

	m.execute("cyclic rpm on 250 ms")
	s, _ := f.table.ByName("rpm")
	assert.True(t, s.State().Cyclic)
	assert.Equal(t, 250*time.Millisecond, s.State().CycleTime)

	m.execute("cyclic rpm off")
	assert.False(t, s.State().Cyclic)
	assert.Equal(t, 250*time.Millisecond, s.State().CycleTime)

	m.execute("cyclic rpm maybe")
	assert.Equal(t, zapcore.ErrorLevel, lastLog(m).level)
	m.execute("frobnicate")
	assert.Contains(t, lastLog(m).message, "Unknown command")
}

func TestParseCyclic(t *testing.T) {
	name, cyclic, d, err := parseCyclic([]string{"rpm", "ON", "1s"})
	require.NoError(t, err)
	assert.Equal(t, "rpm", name)
	assert.True(t, cyclic)
	assert.Equal(t, time.Second, d)

	_, _, _, err = parseCyclic([]string{"rpm"})
	assert.Error(t, err)
	_, _, _, err = parseCyclic([]string{"rpm", "on", "soon"})
	assert.ErrorIs(t, err, signals.ErrInvalidValue)
}

func TestMonitor_EventBatch(t *testing.T) {
	f := newFakeMonitorLink()
	m := newMonitorModel(f, "test")

	m = update(t, m, eventBatchMsg{
		{Kind: link.EventSignalUpdated, Level: zapcore.DebugLevel, Text: "rpm = 1500"},
		{Kind: link.EventEmergencyStop, Level: zapcore.ErrorLevel, Text: "Emergency stop"},
	})
	require.Len(t, m.eventLog, 1)
	assert.Equal(t, "Emergency stop", m.eventLog[0].message)
	assert.False(t, m.eventLog[0].timestamp.IsZero())

	m = update(t, m, key("v"), eventBatchMsg{{Level: zapcore.DebugLevel, Text: "sent"}})
	assert.Len(t, m.eventLog, 2)
}

func TestMonitor_LogIsBounded(t *testing.T) {
	m := newMonitorModel(newFakeMonitorLink(), "test")
	for i := 0; i < maxLogEntries+10; i++ {
		m.addLogEntry("entry", zapcore.InfoLevel)
	}
	assert.Len(t, m.eventLog, maxLogEntries)
}

func TestMonitor_DisconnectedHeader(t *testing.T) {
	f := newFakeMonitorLink()
	f.connected = false
	m := newMonitorModel(f, "test")
	assert.Contains(t, m.View(), "RECONNECTING")
}

func TestMonitor_Quit(t *testing.T) {
	m := newMonitorModel(newFakeMonitorLink(), "test")
	next, cmd := m.Update(key("q"))
	assert.True(t, next.(monitorModel).quitting)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestPumpEvents(t *testing.T) {
	events := make(chan link.Event, 4)
	got := make(chan tea.Msg, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		pumpEvents(ctx, events, func(msg tea.Msg) { got <- msg })
		close(done)
	}()

	events <- link.Event{Text: "a"}
	events <- link.Event{Text: "b"}

	select {
	case msg := <-got:
		batch, ok := msg.(eventBatchMsg)
		require.True(t, ok)
		assert.NotEmpty(t, batch)
		assert.Equal(t, "a", batch[0].Text)
	case <-time.After(time.Second):
		t.Fatal("no batch delivered")
	}

	close(events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{61 * time.Second, "1 minute and 1 second"},
		{26*time.Hour + 2*time.Minute, "1 day, 2 hours, and 2 minutes"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.in))
	}
}
