// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/commutator/pkg/bldclink"
	"github.com/Thermoquad/commutator/pkg/signals"
)

// reconciler applies inbound messages to the signal table and turns STATUS
// messages into events
type reconciler struct {
	table   *signals.Table
	publish func(Event)
	onReady func() // nil disables the retransmit on STATUS_READY
	metrics Metrics
	log     *zap.Logger
	diag    *rate.Limiter
}

func (r *reconciler) run(in <-chan bldclink.Result, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case res := <-in:
			r.handle(res, res.Timestamp)
		}
	}
}

func (r *reconciler) handle(res bldclink.Result, now time.Time) {
	m := res.Message
	if res.Err != nil {
		// only unknown status codes are forwarded by the receiver
		if m.Type() == bldclink.MsgStatus {
			r.status(m, now)
		}
		return
	}

	switch m.Type() {
	case bldclink.MsgResponse:
		r.response(m, now)
	case bldclink.MsgStatus:
		r.status(m, now)
	default:
		// Requests are never sent by the device; an echoing bridge can
		// loop ours back
		if r.diag.Allow() {
			r.log.Debug("ignoring inbound request", zap.String("message", bldclink.FormatMessage(m)))
		}
	}
}

func (r *reconciler) response(m bldclink.Message, now time.Time) {
	p, _ := m.Param()
	sig, ok := r.table.ByIndex(p)
	if !ok {
		if r.diag.Allow() {
			r.log.Debug("response for unmapped parameter", zap.Stringer("index", p))
		}
		return
	}

	if !sig.Update(sig.RawFromPayload(m), now) {
		return
	}
	value := sig.Value()
	r.metrics.SignalValue(sig.Name(), value)
	r.publish(Event{
		Time:   now,
		Kind:   EventSignalUpdated,
		Level:  zapcore.DebugLevel,
		Text:   fmt.Sprintf("%s = %s", sig.Name(), sig.State()),
		Signal: sig.Name(),
		Value:  value,
	})
}

func (r *reconciler) status(m bldclink.Message, now time.Time) {
	e := StatusEvent(m)
	e.Time = now
	r.metrics.StatusReceived(e.Kind)
	r.log.Log(e.Level, "device status", zap.String("kind", string(e.Kind)), zap.Int("code", e.Code))
	r.publish(e)

	if e.Kind == EventStatusReady && r.onReady != nil {
		r.onReady()
	}
}

var stopCauses = map[bldclink.StatusIndex]string{
	bldclink.StopEmergency:    "emergency stop",
	bldclink.StopOverTemp:     "over temperature",
	bldclink.StopOverCurrent:  "over current",
	bldclink.StopOverVoltage:  "over voltage",
	bldclink.StopUnderVoltage: "under voltage",
	bldclink.StopSystemError:  "system error",
}

// StatusEvent maps a STATUS message to its event. Indices outside the known
// set map to unknown-status.
func StatusEvent(m bldclink.Message) Event {
	code := int(m.PayloadSigned())
	s := bldclink.StatusIndex(m.Index())

	switch s {
	case bldclink.StatusOK:
		return Event{Kind: EventStatusOK, Level: zapcore.InfoLevel, Text: "Status OK", Code: code}
	case bldclink.StatusReady:
		return Event{Kind: EventStatusReady, Level: zapcore.InfoLevel, Text: "Device ready", Code: code}
	case bldclink.StatusRemoteReady:
		return Event{Kind: EventStatusRemoteReady, Level: zapcore.InfoLevel, Text: "Remote control ready", Code: code}
	case bldclink.StopEmergency, bldclink.StopOverTemp, bldclink.StopOverCurrent,
		bldclink.StopOverVoltage, bldclink.StopUnderVoltage, bldclink.StopSystemError:
		return Event{
			Kind:  EventEmergencyStop,
			Level: zapcore.ErrorLevel,
			Text:  fmt.Sprintf("Emergency stop: %s (code %d)", stopCauses[s], code),
			Code:  code,
		}
	case bldclink.StatusSystemError:
		return Event{Kind: EventSystemError, Level: zapcore.ErrorLevel, Text: fmt.Sprintf("System error (code %d)", code), Code: code}
	case bldclink.StatusError:
		return Event{Kind: EventError, Level: zapcore.ErrorLevel, Text: fmt.Sprintf("Error (code %d)", code), Code: code}
	default:
		return Event{
			Kind:  EventUnknownStatus,
			Level: zapcore.WarnLevel,
			Text:  fmt.Sprintf("Unknown status 0x%02X (code %d)", m.Index(), code),
			Code:  code,
		}
	}
}
