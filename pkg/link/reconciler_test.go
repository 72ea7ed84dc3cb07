// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/commutator/pkg/bldclink"
	"github.com/Thermoquad/commutator/pkg/signals"
)

func TestStatusEvent(t *testing.T) {
	tests := []struct {
		name  string
		index uint8
		code  int16
		kind  EventKind
		level zapcore.Level
		text  string
	}{
		{"ok", uint8(bldclink.StatusOK), 0, EventStatusOK, zapcore.InfoLevel, "OK"},
		{"ready", uint8(bldclink.StatusReady), 0, EventStatusReady, zapcore.InfoLevel, "ready"},
		{"remote ready", uint8(bldclink.StatusRemoteReady), 0, EventStatusRemoteReady, zapcore.InfoLevel, "Remote"},
		{"emergency", uint8(bldclink.StopEmergency), 1, EventEmergencyStop, zapcore.ErrorLevel, "emergency stop"},
		{"over temp", uint8(bldclink.StopOverTemp), 95, EventEmergencyStop, zapcore.ErrorLevel, "over temperature (code 95)"},
		{"over current", uint8(bldclink.StopOverCurrent), 0, EventEmergencyStop, zapcore.ErrorLevel, "over current"},
		{"over voltage", uint8(bldclink.StopOverVoltage), 0, EventEmergencyStop, zapcore.ErrorLevel, "over voltage"},
		{"under voltage", uint8(bldclink.StopUnderVoltage), 0, EventEmergencyStop, zapcore.ErrorLevel, "under voltage"},
		{"stop system error", uint8(bldclink.StopSystemError), 0, EventEmergencyStop, zapcore.ErrorLevel, "system error"},
		{"system error", uint8(bldclink.StatusSystemError), -12, EventSystemError, zapcore.ErrorLevel, "code -12"},
		{"error", uint8(bldclink.StatusError), 7, EventError, zapcore.ErrorLevel, "code 7"},
		{"unknown", 0x20, 3, EventUnknownStatus, zapcore.WarnLevel, "0x20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := bldclink.NewMessage(bldclink.MsgStatus, tt.index, 0).WithPayloadSigned(tt.code)
			e := StatusEvent(m)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.level, e.Level)
			assert.Equal(t, int(tt.code), e.Code)
			assert.Contains(t, e.Text, tt.text)
			assert.True(t, e.Kind.IsStatus())
		})
	}
}

func newTestReconciler(t *testing.T, table *signals.Table) (*reconciler, *[]Event) {
	var events []Event
	return &reconciler{
		table:   table,
		publish: func(e Event) { events = append(events, e) },
		metrics: nopMetrics{},
		log:     zaptest.NewLogger(t),
		diag:    rate.NewLimiter(rate.Inf, 1),
	}, &events
}

func TestReconciler_ResponseUpdatesSignal(t *testing.T) {
	table := signals.DefaultTable()
	r, events := newTestReconciler(t, table)
	now := time.Now()

	m := bldclink.NewResponse(bldclink.ValueCurrentA, 0).WithPayloadSigned(-3700)
	r.handle(bldclink.Result{Message: m}, now)

	sig, _ := table.ByName("current_a")
	assert.InDelta(t, -3.7, sig.Value(), 1e-9)
	require.Len(t, *events, 1)
	e := (*events)[0]
	assert.Equal(t, EventSignalUpdated, e.Kind)
	assert.Equal(t, "current_a", e.Signal)
	assert.InDelta(t, -3.7, e.Value, 1e-9)
}

func TestReconciler_UnsignedPayload(t *testing.T) {
	table := signals.DefaultTable()
	r, _ := newTestReconciler(t, table)

	r.handle(bldclink.Result{Message: bldclink.NewResponse(bldclink.ValueRPM, 40000)}, time.Now())

	sig, _ := table.ByName("rpm")
	assert.Equal(t, 40000.0, sig.Value())
}

func TestReconciler_PendingWriteSuppressesUpdate(t *testing.T) {
	table := signals.DefaultTable()
	r, events := newTestReconciler(t, table)
	table.Write("pwm_p", 0.5)

	r.handle(bldclink.Result{Message: bldclink.NewResponse(bldclink.ValuePWMP, 100)}, time.Now())

	sig, _ := table.ByName("pwm_p")
	assert.Equal(t, 0.5, sig.Value())
	assert.Empty(t, *events)
}

func TestReconciler_ReadyTriggersRetransmit(t *testing.T) {
	table := signals.DefaultTable()
	r, events := newTestReconciler(t, table)
	called := 0
	r.onReady = func() { called++ }

	r.handle(bldclink.Result{Message: bldclink.NewStatusMessage(bldclink.StatusReady, 0)}, time.Now())
	r.handle(bldclink.Result{Message: bldclink.NewStatusMessage(bldclink.StatusOK, 0)}, time.Now())

	assert.Equal(t, 1, called)
	require.Len(t, *events, 2)
	assert.Equal(t, EventStatusReady, (*events)[0].Kind)
}

func TestReconciler_IgnoresRequests(t *testing.T) {
	table := signals.DefaultTable()
	r, events := newTestReconciler(t, table)

	r.handle(bldclink.Result{Message: bldclink.NewReadRequest(bldclink.ValueRPM)}, time.Now())
	assert.Empty(t, *events)
}
