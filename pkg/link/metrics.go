// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import "github.com/Thermoquad/commutator/pkg/bldclink"

// Metrics receives link counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	FrameReceived()
	FrameRejected(reason bldclink.RejectReason)
	BytesDiscarded(n uint64)
	MessageSent(t bldclink.MsgType)
	SendFailed()
	SetConnected(connected bool)
	SignalValue(name string, value float64)
	StatusReceived(kind EventKind)
}

type nopMetrics struct{}

func (nopMetrics) FrameReceived()                      {}
func (nopMetrics) FrameRejected(bldclink.RejectReason) {}
func (nopMetrics) BytesDiscarded(uint64)               {}
func (nopMetrics) MessageSent(bldclink.MsgType)        {}
func (nopMetrics) SendFailed()                         {}
func (nopMetrics) SetConnected(bool)                   {}
func (nopMetrics) SignalValue(string, float64)         {}
func (nopMetrics) StatusReceived(EventKind)            {}
