// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/commutator/pkg/bldclink"
	"github.com/Thermoquad/commutator/pkg/signals"
)

type recordingSender struct {
	sent []bldclink.Message
	fail int // fail this many sends before succeeding
	err  error
}

func (r *recordingSender) send(m bldclink.Message) error {
	if r.fail > 0 {
		r.fail--
		return r.err
	}
	r.sent = append(r.sent, m)
	return nil
}

func newTestScheduler(t *testing.T, table *signals.Table, rs *recordingSender) *scheduler {
	return &scheduler{
		table:   table,
		send:    rs.send,
		publish: func(Event) {},
		log:     zaptest.NewLogger(t),
		diag:    rate.NewLimiter(rate.Inf, 1),
	}
}

func cyclicCount(table *signals.Table) int {
	n := 0
	for _, s := range table.Signals() {
		if s.State().Cyclic {
			n++
		}
	}
	return n
}

func TestScheduler_WritePreemptsCyclicRead(t *testing.T) {
	table := signals.DefaultTable()
	rs := &recordingSender{}
	s := newTestScheduler(t, table, rs)

	_, err := table.Write("current_a", -2.5)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, s.tick(now))

	// every cyclic signal is due on the first tick; current_a sends its write instead
	require.Len(t, rs.sent, cyclicCount(table))
	perIndex := map[uint8]int{}
	for _, m := range rs.sent {
		perIndex[m.Index()]++
		if m.Index() == uint8(bldclink.ValueCurrentA) {
			assert.Equal(t, bldclink.MsgWriteRequest, m.Type())
			assert.Equal(t, int16(-2500), m.PayloadSigned())
		} else {
			assert.Equal(t, bldclink.MsgReadRequest, m.Type())
		}
	}
	for idx, n := range perIndex {
		assert.Equal(t, 1, n, "index 0x%02X sent more than once in one tick", idx)
	}

	rs.sent = nil
	require.NoError(t, s.tick(now.Add(time.Millisecond)))
	assert.Empty(t, rs.sent, "nothing is due right after a full pass")
}

func TestScheduler_InsertionOrder(t *testing.T) {
	table := signals.DefaultTable()
	rs := &recordingSender{}
	s := newTestScheduler(t, table, rs)

	table.RequestReadAll()
	require.NoError(t, s.tick(time.Now()))

	require.Len(t, rs.sent, table.Len())
	for i, sig := range table.Signals() {
		assert.Equal(t, uint8(sig.Index()), rs.sent[i].Index())
	}
}

func TestScheduler_FailedSendIsRetried(t *testing.T) {
	table, err := signals.NewTable([]signals.Definition{
		{Name: "pwm_p", Index: bldclink.ValuePWMP, Factor: 0.001, Persistent: true},
	})
	require.NoError(t, err)
	rs := &recordingSender{fail: 1, err: errors.New("write: device busy")}
	s := newTestScheduler(t, table, rs)

	table.Write("pwm_p", 0.2)
	now := time.Now()
	assert.Error(t, s.tick(now))
	assert.Empty(t, rs.sent)

	require.NoError(t, s.tick(now.Add(time.Millisecond)))
	require.Len(t, rs.sent, 1)
	assert.Equal(t, bldclink.MsgWriteRequest, rs.sent[0].Type())
	assert.Equal(t, uint16(200), rs.sent[0].PayloadUnsigned())
}

func TestScheduler_StopsWhenNotConnected(t *testing.T) {
	table := signals.DefaultTable()
	rs := &recordingSender{fail: 100, err: ErrNotConnected}
	s := newTestScheduler(t, table, rs)

	err := s.tick(time.Now())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 99, rs.fail, "the pass ends at the first ErrNotConnected")
}

func TestScheduler_CyclicPeriod(t *testing.T) {
	table, err := signals.NewTable([]signals.Definition{
		{Name: "rpm", Index: bldclink.ValueRPM, Factor: 1, Cyclic: true, CycleTime: 500 * time.Millisecond},
		{Name: "bat_voltage", Index: bldclink.ValueBatVoltage, Factor: 0.01, Cyclic: true, CycleTime: 30 * time.Second},
	})
	require.NoError(t, err)
	rs := &recordingSender{}
	s := newTestScheduler(t, table, rs)

	start := time.Now()
	for ms := 0; ms <= 1000; ms += 2 {
		require.NoError(t, s.tick(start.Add(time.Duration(ms)*time.Millisecond)))
	}

	rpm, bat := 0, 0
	for _, m := range rs.sent {
		switch bldclink.ParamIndex(m.Index()) {
		case bldclink.ValueRPM:
			rpm++
		case bldclink.ValueBatVoltage:
			bat++
		}
	}
	assert.Equal(t, 3, rpm, "reads at 0, 500 and 1000 ms")
	assert.Equal(t, 1, bat, "the slow signal is not held back by the fast one")
}
