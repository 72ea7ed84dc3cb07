// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports link counters to Prometheus.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/commutator/pkg/bldclink"
	"github.com/Thermoquad/commutator/pkg/link"
)

const namespace = "commutator"

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus text format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// LinkMetrics implements link.Metrics
type LinkMetrics struct {
	FramesReceived prometheus.Counter
	FramesRejected *prometheus.CounterVec // labels: reason
	BytesDropped   prometheus.Counter
	MessagesSent   *prometheus.CounterVec // labels: type
	SendErrors     prometheus.Counter
	Connected      prometheus.Gauge
	Signals        *prometheus.GaugeVec   // labels: signal
	Statuses       *prometheus.CounterVec // labels: kind
}

var _ link.Metrics = (*LinkMetrics)(nil)

// NewLinkMetrics registers and returns the link metrics
func NewLinkMetrics(reg prometheus.Registerer) *LinkMetrics {
	m := &LinkMetrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Valid frames decoded from the inverter.",
		}),
		FramesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Complete frames dropped by validation.",
		}, []string{"reason"}),
		BytesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_discarded_total",
			Help:      "Bytes skipped while resynchronizing.",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages written to the inverter.",
		}, []string{"type"}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Failed writes to the connection.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a link is up.",
		}),
		Signals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_value",
			Help:      "Last value reported by the inverter, in engineering units.",
		}, []string{"signal"}),
		Statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_messages_total",
			Help:      "STATUS messages received by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.FramesReceived, m.FramesRejected, m.BytesDropped, m.MessagesSent,
		m.SendErrors, m.Connected, m.Signals, m.Statuses)
	return m
}

func (m *LinkMetrics) FrameReceived() { m.FramesReceived.Inc() }

func (m *LinkMetrics) FrameRejected(reason bldclink.RejectReason) {
	m.FramesRejected.WithLabelValues(reason.String()).Inc()
}

func (m *LinkMetrics) BytesDiscarded(n uint64) { m.BytesDropped.Add(float64(n)) }

func (m *LinkMetrics) MessageSent(t bldclink.MsgType) {
	m.MessagesSent.WithLabelValues(strings.ToLower(t.String())).Inc()
}

func (m *LinkMetrics) SendFailed() { m.SendErrors.Inc() }

func (m *LinkMetrics) SetConnected(connected bool) {
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

func (m *LinkMetrics) SignalValue(name string, value float64) {
	m.Signals.WithLabelValues(name).Set(value)
}

func (m *LinkMetrics) StatusReceived(kind link.EventKind) {
	m.Statuses.WithLabelValues(string(kind)).Inc()
}
