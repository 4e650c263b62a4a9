// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "ragchat"

// Subsystem for session metrics
const sessionSubsystem = "session"

// Frame error reasons.
const (
	FrameErrorDecode  = "decode"
	FrameErrorUnknown = "unknown_kind"
	FrameErrorInvalid = "invalid"
	FrameErrorPanic   = "handler_panic"
)

// Metrics holds the Prometheus collectors for one process.
//
// # Description
//
// Create once per registry with NewMetrics. A nil *Metrics is valid and
// records nothing, so components accept it as optional.
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	// FramesTotal counts dispatched inbound frames.
	// Labels: kind (ready, stream-delta, thinking, final, app-error, protocol-error)
	FramesTotal *prometheus.CounterVec

	// FrameErrorsTotal counts dropped inbound frames.
	// Labels: reason (decode, unknown_kind, invalid, handler_panic)
	FrameErrorsTotal *prometheus.CounterVec

	// ReconnectAttemptsTotal counts reconnect dials.
	ReconnectAttemptsTotal prometheus.Counter

	// ConnectivityFailuresTotal counts exhausted reconnect cycles.
	ConnectivityFailuresTotal prometheus.Counter

	// SendFailuresTotal counts rejected or failed outbound sends.
	// Labels: reason (not_connected, transport)
	SendFailuresTotal *prometheus.CounterVec

	// ConnectionState is the current state as its numeric value.
	ConnectionState prometheus.Gauge
}

// NewMetrics creates and registers the session collectors on reg.
//
// # Inputs
//
//   - reg: Registerer to use. Nil uses prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "frames_total",
				Help:      "Inbound frames dispatched by kind",
			},
			[]string{"kind"},
		),

		FrameErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "frame_errors_total",
				Help:      "Inbound frames dropped by reason",
			},
			[]string{"reason"},
		),

		ReconnectAttemptsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "reconnect_attempts_total",
				Help:      "Reconnect attempts started",
			},
		),

		ConnectivityFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "connectivity_failures_total",
				Help:      "Terminal connectivity failures after exhausting reconnect attempts",
			},
		),

		SendFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "send_failures_total",
				Help:      "Outbound sends that failed by reason",
			},
			[]string{"reason"},
		),

		ConnectionState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionSubsystem,
				Name:      "connection_state",
				Help:      "Connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 closed)",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

func (m *Metrics) frame(kind string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) frameError(reason string) {
	if m == nil {
		return
	}
	m.FrameErrorsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) reconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttemptsTotal.Inc()
}

func (m *Metrics) connectivityFailure() {
	if m == nil {
		return
	}
	m.ConnectivityFailuresTotal.Inc()
}

func (m *Metrics) sendFailure(reason string) {
	if m == nil {
		return
	}
	m.SendFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) state(s State) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(s))
}
